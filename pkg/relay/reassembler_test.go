package relay

import (
	"encoding/json"
	"strings"
	"testing"
)

func feedAll(r *Reassembler, chunks ...string) []Event {
	var events []Event
	for _, c := range chunks {
		events = append(events, r.Feed([]byte(c))...)
	}
	return append(events, r.Finish()...)
}

func itemContents(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == EventItem {
			sb.WriteString(ev.Content)
		}
	}
	return sb.String()
}

func eventTypes(events []Event) []EventType {
	types := make([]EventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func equalTypes(a, b []EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ==================================================================
// Line classification
// ==================================================================

func TestReassembler_LineClassification(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      []Event
		malformed int
	}{
		{
			name:  "envelopes",
			input: "{\"type\":\"begin\"}\n{\"type\":\"item\",\"content\":\"hi\"}\n{\"type\":\"end\"}\n",
			want: []Event{
				{Type: EventBegin},
				{Type: EventItem, Content: "hi"},
				{Type: EventEnd},
			},
		},
		{
			name:      "plain text line becomes one item",
			input:     "not json at all\n",
			want:      []Event{{Type: EventItem, Content: "not json at all"}},
			malformed: 1,
		},
		{
			name:  "empty line produces nothing",
			input: "\n",
			want:  nil,
		},
		{
			name:  "whitespace line produces nothing",
			input: "   \t \n",
			want:  nil,
		},
		{
			name:  "item without content is kept empty",
			input: "{\"type\":\"item\"}\n",
			want:  []Event{{Type: EventItem, Content: ""}},
		},
		{
			name:  "item with null content is kept empty",
			input: "{\"type\":\"item\",\"content\":null}\n",
			want:  []Event{{Type: EventItem, Content: ""}},
		},
		{
			name:      "unknown type is wrapped raw",
			input:     "{\"type\":\"progress\",\"value\":3}\n",
			want:      []Event{{Type: EventItem, Content: "{\"type\":\"progress\",\"value\":3}"}},
			malformed: 1,
		},
		{
			name:      "non-string content is wrapped raw",
			input:     "{\"type\":\"item\",\"content\":42}\n",
			want:      []Event{{Type: EventItem, Content: "{\"type\":\"item\",\"content\":42}"}},
			malformed: 1,
		},
		{
			name:      "truncated json is wrapped raw",
			input:     "{\"type\":\"item\",\"cont\n",
			want:      []Event{{Type: EventItem, Content: "{\"type\":\"item\",\"cont"}},
			malformed: 1,
		},
		{
			name:      "two objects on one line are wrapped raw",
			input:     "{\"type\":\"item\",\"content\":\"a\"}{\"type\":\"end\"}\n",
			want:      []Event{{Type: EventItem, Content: "{\"type\":\"item\",\"content\":\"a\"}{\"type\":\"end\"}"}},
			malformed: 1,
		},
		{
			name:  "error without content gets default text",
			input: "{\"type\":\"error\"}\n",
			want:  []Event{{Type: EventError, Content: defaultErrorContent}},
		},
		{
			name:  "crlf line endings",
			input: "{\"type\":\"item\",\"content\":\"a\"}\r\n\r\n",
			want:  []Event{{Type: EventItem, Content: "a"}},
		},
		{
			name:  "data prefix under ndjson is unwrapped",
			input: "data: {\"type\":\"item\",\"content\":\"x\"}\n",
			want:  []Event{{Type: EventItem, Content: "x"}},
		},
		{
			name:  "done marker ends the stream",
			input: "data: [DONE]\n",
			want:  []Event{{Type: EventEnd}},
		},
		{
			name:  "trailing line without newline is flushed on finish",
			input: "{\"type\":\"item\",\"content\":\"tail\"}",
			want:  []Event{{Type: EventItem, Content: "tail"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReassembler(FramingLines, 0)
			got := feedAll(r, tt.input)

			if len(got) != len(tt.want) {
				t.Fatalf("got %d events %+v, want %d %+v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i].Type != tt.want[i].Type || got[i].Content != tt.want[i].Content {
					t.Errorf("event %d = {%s %q}, want {%s %q}",
						i, got[i].Type, got[i].Content, tt.want[i].Type, tt.want[i].Content)
				}
			}
			if r.Malformed() != tt.malformed {
				t.Errorf("Malformed() = %d, want %d", r.Malformed(), tt.malformed)
			}
		})
	}
}

func TestReassembler_MetadataPassthrough(t *testing.T) {
	r := NewReassembler(FramingLines, 0)
	got := feedAll(r, `{"type":"begin","metadata":{"nodeName":"AI Agent","nodeId":"a1"}}`+"\n")

	if len(got) != 1 || got[0].Type != EventBegin {
		t.Fatalf("got %+v", got)
	}
	var meta map[string]string
	if err := json.Unmarshal(got[0].Metadata, &meta); err != nil {
		t.Fatalf("metadata not valid json: %v", err)
	}
	if meta["nodeName"] != "AI Agent" {
		t.Errorf("metadata = %v", meta)
	}
}

// ==================================================================
// Splitting
// ==================================================================

func TestReassembler_LosslessForEverySplit(t *testing.T) {
	parts := []string{"Hel", "lo, ", "", "wörld ", "😀", "!\n", "\"quoted\""}
	var body strings.Builder
	body.WriteString(`{"type":"begin"}` + "\n")
	for _, p := range parts {
		b, _ := json.Marshal(map[string]string{"type": "item", "content": p})
		body.Write(b)
		body.WriteString("\n")
	}
	body.WriteString(`{"type":"end"}` + "\n")
	input := body.String()
	want := strings.Join(parts, "")

	// Every single split point, then every pair of split points.
	for i := 0; i <= len(input); i++ {
		r := NewReassembler(FramingLines, 0)
		got := feedAll(r, input[:i], input[i:])
		if c := itemContents(got); c != want {
			t.Fatalf("split at %d: content %q, want %q", i, c, want)
		}
		if len(got) != len(parts)+2 {
			t.Fatalf("split at %d: %d events, want %d", i, len(got), len(parts)+2)
		}
		if r.Malformed() != 0 {
			t.Fatalf("split at %d: %d malformed lines", i, r.Malformed())
		}
	}

	for i := 0; i <= len(input); i += 3 {
		for j := i; j <= len(input); j += 5 {
			r := NewReassembler(FramingLines, 0)
			got := feedAll(r, input[:i], input[i:j], input[j:])
			if c := itemContents(got); c != want {
				t.Fatalf("split at %d,%d: content %q, want %q", i, j, c, want)
			}
		}
	}
}

func TestReassembler_ByteByByte(t *testing.T) {
	input := "{\"type\":\"begin\"}\n{\"type\":\"item\",\"content\":\"Hel\"}\n{\"type\":\"item\",\"content\":\"lo!\"}\n{\"type\":\"end\"}\n"

	r := NewReassembler(FramingLines, 0)
	var events []Event
	for i := 0; i < len(input); i++ {
		events = append(events, r.Feed([]byte{input[i]})...)
	}
	events = append(events, r.Finish()...)

	want := []EventType{EventBegin, EventItem, EventItem, EventEnd}
	if !equalTypes(eventTypes(events), want) {
		t.Fatalf("types = %v, want %v", eventTypes(events), want)
	}
	if c := itemContents(events); c != "Hello!" {
		t.Errorf("content = %q", c)
	}
	if len(r.carry) != 0 {
		t.Errorf("Pending() = %d after complete input", len(r.carry))
	}
}

func TestReassembler_OversizeLineSpills(t *testing.T) {
	r := NewReassembler(FramingLines, 8)
	long := strings.Repeat("a", 20)

	events := r.Feed([]byte(long))
	if len(r.carry) > 8 {
		t.Errorf("carry grew to %d bytes, cap is 8", len(r.carry))
	}
	events = append(events, r.Feed([]byte("\n"))...)
	events = append(events, r.Finish()...)

	if c := itemContents(events); c != long {
		t.Errorf("content = %q, want %q", c, long)
	}
}

func TestReassembler_OversizeSpillKeepsRunes(t *testing.T) {
	r := NewReassembler(FramingLines, 5)
	input := strings.Repeat("é", 6) // 12 bytes

	events := r.Feed([]byte(input))
	events = append(events, r.Finish()...)

	for _, ev := range events {
		if !json.Valid([]byte(`"` + ev.Content + `"`)) {
			t.Errorf("piece %q is not valid text", ev.Content)
		}
	}
	if c := itemContents(events); c != input {
		t.Errorf("content = %q, want %q", c, input)
	}
}

// ==================================================================
// SSE framing
// ==================================================================

func TestReassembler_SSE(t *testing.T) {
	input := ": keep-alive\n" +
		"event: message\n" +
		"id: 7\n" +
		"data: {\"type\":\"begin\"}\n\n" +
		"data: {\"type\":\"item\",\"content\":\"Hi\"}\n\n" +
		"data: plain words\n\n" +
		"retry: 1000\n" +
		"data: [DONE]\n\n"

	r := NewReassembler(FramingSSE, 0)
	got := feedAll(r, input)

	want := []EventType{EventBegin, EventItem, EventItem, EventEnd}
	if !equalTypes(eventTypes(got), want) {
		t.Fatalf("types = %v, want %v", eventTypes(got), want)
	}
	if got[1].Content != "Hi" || got[2].Content != "plain words" {
		t.Errorf("contents = %q, %q", got[1].Content, got[2].Content)
	}
	if r.Malformed() != 1 {
		t.Errorf("Malformed() = %d, want 1", r.Malformed())
	}
}

func TestReassembler_SSEMultiLineData(t *testing.T) {
	input := "data: {\"type\":\"item\",\n" +
		"data:  \"content\":\"Hi there\"}\n" +
		"\n" +
		"data: first\n" +
		"data: second\n" +
		"\n"

	for i := 0; i <= len(input); i++ {
		r := NewReassembler(FramingSSE, 0)
		got := feedAll(r, input[:i], input[i:])

		if len(got) != 2 {
			t.Fatalf("split at %d: %d events, want 2: %+v", i, len(got), got)
		}
		if got[0].Type != EventItem || got[0].Content != "Hi there" || got[0].Synthetic {
			t.Fatalf("split at %d: first event = %+v, want parsed envelope", i, got[0])
		}
		if got[1].Content != "first\nsecond" {
			t.Fatalf("split at %d: second content = %q", i, got[1].Content)
		}
		if r.Malformed() != 1 {
			t.Fatalf("split at %d: Malformed() = %d, want 1", i, r.Malformed())
		}
	}
}

func TestReassembler_SSEMissingSeparators(t *testing.T) {
	input := "data: {\"type\":\"begin\"}\n" +
		"data: {\"type\":\"item\",\"content\":\"a\"}\n" +
		"data: [DONE]\n"

	r := NewReassembler(FramingSSE, 0)
	got := feedAll(r, input)

	want := []EventType{EventBegin, EventItem, EventEnd}
	if !equalTypes(eventTypes(got), want) {
		t.Fatalf("types = %v, want %v", eventTypes(got), want)
	}
	if got[1].Content != "a" || r.Malformed() != 0 {
		t.Errorf("content = %q, malformed = %d", got[1].Content, r.Malformed())
	}
}

func TestReassembler_SSEUnterminatedEvent(t *testing.T) {
	r := NewReassembler(FramingSSE, 0)

	if got := r.Feed([]byte("data: {\"type\":\"end\"}\n")); len(got) != 0 {
		t.Fatalf("event dispatched before its separator: %+v", got)
	}
	got := r.Finish()
	if len(got) != 1 || got[0].Type != EventEnd {
		t.Fatalf("Finish() = %+v, want end", got)
	}
}

func TestReassembler_SSEDataBounded(t *testing.T) {
	r := NewReassembler(FramingSSE, 16)

	var got []Event
	for range 4 {
		got = append(got, r.Feed([]byte("data: 0123456789\n"))...)
	}
	if len(got) == 0 {
		t.Fatal("oversized event was not dispatched early")
	}
	if r.dataLen > 16+len("0123456789")+1 {
		t.Errorf("buffered %d bytes, cap is 16", r.dataLen)
	}
	got = append(got, r.Finish()...)
	if c := itemContents(got); strings.Count(c, "0123456789") != 4 {
		t.Errorf("content = %q, want all four lines", c)
	}
}

// ==================================================================
// Wire format
// ==================================================================

func TestEvent_MarshalJSON(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Type: EventBegin}, `{"type":"begin"}`},
		{Event{Type: EventItem, Content: "Hel"}, `{"type":"item","content":"Hel"}`},
		{Event{Type: EventItem}, `{"type":"item","content":""}`},
		{Event{Type: EventEnd}, `{"type":"end"}`},
		{Event{Type: EventError, Content: "upstream timed out"}, `{"type":"error","content":"upstream timed out"}`},
		{Event{Type: EventBegin, Metadata: json.RawMessage(`{"n":1}`)}, `{"type":"begin","metadata":{"n":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("Marshal() = %s, want %s", b, tt.want)
			}
		})
	}
}
