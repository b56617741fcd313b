package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestSessionID(t *testing.T) {
	valid := "Zm9vYmFyYmF6cXV4cXV1eHh5enp5eHh4eHh4eHh4eHg"

	if got, err := SessionID("  " + valid + " "); err != nil || got != valid {
		t.Errorf("expected valid id, got %q %v", got, err)
	}

	for _, bad := range []string{"", "short", strings.Repeat("a", 51), "has space in the middle of it", "abc+def/ghi=jklmnopqrstu"} {
		if _, err := SessionID(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("SessionID(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(` Mozilla/5.0 <script>"x" `); got != "Mozilla/5.0 scriptx" {
		t.Errorf("unexpected sanitized UA %q", got)
	}
	if got := UserAgent(strings.Repeat("a", 600)); len(got) != 500 {
		t.Errorf("expected truncation to 500, got %d", len(got))
	}
}

func TestScreen(t *testing.T) {
	tests := map[string]string{
		"1920x1080":    "1920x1080",
		" 1280 X 720 ": "1280x720",
		"huge":         "",
		"1x1":          "",
		"":             "",
	}
	for in, want := range tests {
		if got := Screen(in); got != want {
			t.Errorf("Screen(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIP(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"203.0.113.10", "203.0.113.10", false},
		{"203.0.113.10:5555", "203.0.113.10", false},
		{"::ffff:203.0.113.10", "203.0.113.10", false},
		{"2001:db8::1", "2001:db8::1", false},
		{"[2001:db8::1]:443", "2001:db8::1", false},
		{"256.1.1.1", "", true},
		{"unknown", "", true},
	}

	for _, tt := range tests {
		got, err := IP(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("IP(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("IP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
