package relay

import (
	"bytes"
	"encoding/json"
)

// EventType is the kind of a client-visible event.
type EventType string

// Event types, in the order a stream may contain them.
const (
	EventBegin EventType = "begin"
	EventItem  EventType = "item"
	EventEnd   EventType = "end"
	EventError EventType = "error"
)

// Known reports whether t is one of the four event types.
func (t EventType) Known() bool {
	switch t {
	case EventBegin, EventItem, EventEnd, EventError:
		return true
	}
	return false
}

// Terminal reports whether t ends a stream.
func (t EventType) Terminal() bool {
	return t == EventEnd || t == EventError
}

// Event is one client-visible event. Content is carried by item and error
// events; Metadata is whatever object the upstream attached, passed through
// untouched.
type Event struct {
	Type     EventType
	Content  string
	Metadata json.RawMessage

	// Synthetic marks events the relay produced itself rather than
	// received from the upstream.
	Synthetic bool
}

type wireEvent struct {
	Type     EventType       `json:"type"`
	Content  *string         `json:"content,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// MarshalJSON writes the wire form. Item and error events always carry a
// content field, even when it is empty.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type, Metadata: e.Metadata}
	if e.Type == EventItem || e.Type == EventError {
		content := e.Content
		w.Content = &content
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the wire form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Type = w.Type
	e.Metadata = w.Metadata
	e.Content = ""
	if w.Content != nil {
		e.Content = *w.Content
	}
	return nil
}

// Begin builds a synthetic begin event.
func Begin() Event { return Event{Type: EventBegin, Synthetic: true} }

// Item builds a synthetic item event.
func Item(content string) Event { return Event{Type: EventItem, Content: content, Synthetic: true} }

// End builds a synthetic end event.
func End() Event { return Event{Type: EventEnd, Synthetic: true} }

// ErrorEvent builds a synthetic error event.
func ErrorEvent(reason string) Event {
	return Event{Type: EventError, Content: reason, Synthetic: true}
}

// envelope is the structured line format the upstream emits.
type envelope struct {
	Type     EventType       `json:"type"`
	Content  *string         `json:"content"`
	Metadata json.RawMessage `json:"metadata"`
}

// defaultErrorContent is used when the upstream sends an error without text.
const defaultErrorContent = "upstream reported an error"

// parseEnvelope decodes one line as a structured event. It reports false
// for anything that is not a JSON object with a known type and a string
// (or absent) content field.
func parseEnvelope(line []byte) (Event, bool) {
	if len(line) == 0 || line[0] != '{' {
		return Event{}, false
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(line))
	if err := dec.Decode(&env); err != nil {
		return Event{}, false
	}
	// Reject trailing data such as two objects on one line.
	if dec.More() {
		return Event{}, false
	}
	if !env.Type.Known() {
		return Event{}, false
	}

	ev := Event{Type: env.Type}
	if env.Content != nil {
		ev.Content = *env.Content
	}
	if len(env.Metadata) > 0 && !bytes.Equal(env.Metadata, []byte("null")) {
		ev.Metadata = append(json.RawMessage(nil), env.Metadata...)
	}
	if ev.Type == EventError && ev.Content == "" {
		ev.Content = defaultErrorContent
	}
	return ev, true
}
