package relay

import (
	"bytes"
	"unicode/utf8"
)

// Framing is how the upstream delimits its output.
type Framing int

const (
	// FramingLines is newline-delimited JSON or plain text.
	FramingLines Framing = iota
	// FramingSSE is text/event-stream: the "data:" lines of one event are
	// joined with "\n" and dispatched at the blank line that ends it;
	// comment and field lines carry no content.
	FramingSSE
)

// sseDone is the OpenAI-style end marker some upstreams send over SSE.
const sseDone = "[DONE]"

// Reassembler turns arbitrarily split upstream bytes into events. Bytes
// after the last newline are carried over to the next Feed. Every
// complete line (or, with SSE framing, every complete event) produces at
// most one event:
//
//   - a JSON envelope with a known type becomes that event
//   - any other line with non-whitespace content becomes an item whose
//     content is the raw line
//   - blank lines produce nothing
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	framing Framing
	maxLine int
	carry   []byte

	// data holds the data lines of the SSE event being assembled.
	data    [][]byte
	dataLen int

	malformed int
}

// NewReassembler creates a reassembler. A line longer than maxLine bytes
// is emitted in raw pieces so the carry buffer stays bounded.
func NewReassembler(framing Framing, maxLine int) *Reassembler {
	if maxLine <= 0 {
		maxLine = 1 << 20
	}
	return &Reassembler{framing: framing, maxLine: maxLine}
}

// Feed consumes one chunk and returns the events of every line it completes.
func (r *Reassembler) Feed(chunk []byte) []Event {
	var events []Event

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			r.carry = append(r.carry, chunk...)
			events = r.spillOversize(events)
			break
		}

		var line []byte
		if len(r.carry) > 0 {
			r.carry = append(r.carry, chunk[:i]...)
			line = r.carry
		} else {
			line = chunk[:i]
		}
		chunk = chunk[i+1:]

		events = r.line(events, line)
		r.carry = r.carry[:0]
	}

	return events
}

// Finish processes whatever is left in the carry buffer as a final line
// and dispatches an SSE event that was never terminated. It is called
// once the upstream body ends.
func (r *Reassembler) Finish() []Event {
	var events []Event
	if len(r.carry) > 0 {
		line := r.carry
		r.carry = nil
		events = r.line(events, line)
	}
	return r.dispatch(events)
}

// Malformed returns how many lines were wrapped as raw items.
func (r *Reassembler) Malformed() int {
	return r.malformed
}

// spillOversize emits the head of an over-long carry buffer as raw items,
// cutting on a rune boundary.
func (r *Reassembler) spillOversize(events []Event) []Event {
	for len(r.carry) > r.maxLine {
		cut := r.maxLine
		for cut > 0 && !utf8.RuneStart(r.carry[cut]) {
			cut--
		}
		if cut == 0 {
			cut = r.maxLine
		}
		r.malformed++
		events = append(events, Item(string(r.carry[:cut])))
		r.carry = append(r.carry[:0], r.carry[cut:]...)
	}
	return events
}

// line handles one complete line.
func (r *Reassembler) line(events []Event, line []byte) []Event {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if r.framing == FramingSSE {
		return r.sseLine(events, line)
	}
	if ev, ok := r.parseLine(line); ok {
		events = append(events, ev)
	}
	return events
}

func (r *Reassembler) parseLine(line []byte) (Event, bool) {
	if len(bytes.TrimSpace(line)) == 0 {
		return Event{}, false
	}
	if payload, ok := dataPrefixed(line); ok {
		// Upstreams sometimes send SSE-framed data under an NDJSON
		// content type.
		line = payload
	}
	return r.parsePayload(line)
}

// sseLine buffers data lines until the blank line that ends the event.
func (r *Reassembler) sseLine(events []Event, line []byte) []Event {
	if len(bytes.TrimSpace(line)) == 0 {
		return r.dispatch(events)
	}

	if payload, ok := dataPrefixed(line); ok {
		r.data = append(r.data, bytes.Clone(payload))
		r.dataLen += len(payload) + 1
		if r.dataLen > r.maxLine {
			events = r.dispatch(events)
		}
		return events
	}
	if line[0] == ':' || sseField(line) {
		return events
	}

	// Not valid SSE; emit the line on its own so nothing is lost.
	events = r.dispatch(events)
	if ev, ok := r.parsePayload(line); ok {
		events = append(events, ev)
	}
	return events
}

// dispatch turns the buffered data lines into events. If the joined data
// is not an envelope but every line is one, the upstream left out the
// blank separators and each line is taken on its own.
func (r *Reassembler) dispatch(events []Event) []Event {
	if len(r.data) == 0 {
		return events
	}
	lines := r.data
	r.data = nil
	r.dataLen = 0

	joined := bytes.Join(lines, []byte{'\n'})
	if len(lines) > 1 && !isEnvelope(joined) && allEnvelopes(lines) {
		for _, l := range lines {
			if ev, ok := r.parsePayload(l); ok {
				events = append(events, ev)
			}
		}
		return events
	}

	if ev, ok := r.parsePayload(joined); ok {
		events = append(events, ev)
	}
	return events
}

// parsePayload classifies one payload: the end marker, an envelope, or
// raw text wrapped as an item.
func (r *Reassembler) parsePayload(payload []byte) (Event, bool) {
	trimmed := bytes.TrimSpace(payload)
	if string(trimmed) == sseDone {
		return Event{Type: EventEnd}, true
	}
	if ev, ok := parseEnvelope(trimmed); ok {
		return ev, true
	}
	if len(trimmed) == 0 {
		return Event{}, false
	}

	r.malformed++
	return Event{Type: EventItem, Content: string(payload), Synthetic: true}, true
}

func isEnvelope(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	if string(trimmed) == sseDone {
		return true
	}
	_, ok := parseEnvelope(trimmed)
	return ok
}

func allEnvelopes(lines [][]byte) bool {
	for _, l := range lines {
		if !isEnvelope(l) {
			return false
		}
	}
	return true
}

func sseField(line []byte) bool {
	for _, field := range []string{"event:", "id:", "retry:"} {
		if bytes.HasPrefix(line, []byte(field)) {
			return true
		}
	}
	return false
}

func dataPrefixed(line []byte) ([]byte, bool) {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	payload := line[len("data:"):]
	if len(payload) > 0 && payload[0] == ' ' {
		payload = payload[1:]
	}
	return payload, true
}
