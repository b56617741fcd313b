package validation

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxMessageLength bounds a chat message in characters.
const DefaultMaxMessageLength = 10000

// markupPatterns reject script and markup injection.
var markupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)<(iframe|object|embed|link|meta|base)\b[^>]*>`),
}

// sqlPatterns reject injection probes. They require SQL structure, not
// single keywords, so ordinary chat ("please update my order") passes.
var sqlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|exec|execute)\s`),
	regexp.MustCompile(`(?i)'\s*(or|and)\s+'?\w+'?\s*=\s*'?\w+`),
	regexp.MustCompile(`(?i)'\s*;?\s*--`),
	regexp.MustCompile(`(?i)\b(xp|sp)_[a-z]+\b`),
	regexp.MustCompile(`(?i)\b(char|ascii|substring)\s*\(\s*\d`),
}

// MessageValidator checks and sanitizes user chat messages.
type MessageValidator struct {
	MaxLength int
}

// NewMessageValidator creates a validator. maxLength <= 0 selects the default.
func NewMessageValidator(maxLength int) *MessageValidator {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &MessageValidator{MaxLength: maxLength}
}

// Validate returns the sanitized message: control characters other than
// newline and tab are removed and surrounding whitespace is trimmed.
func (v *MessageValidator) Validate(msg string) (string, error) {
	if !utf8.ValidString(msg) {
		return "", invalid("message", "not valid UTF-8")
	}
	if n := utf8.RuneCountInString(msg); n > v.MaxLength {
		return "", invalid("message", "too long (%d > %d characters)", n, v.MaxLength)
	}

	clean := strings.TrimSpace(stripControl(msg))
	if clean == "" {
		return "", invalid("message", "cannot be empty")
	}

	for _, re := range markupPatterns {
		if re.MatchString(clean) {
			return "", invalid("message", "contains potentially harmful markup")
		}
	}
	for _, re := range sqlPatterns {
		if re.MatchString(clean) {
			return "", invalid("message", "contains potentially harmful SQL patterns")
		}
	}

	return clean, nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
