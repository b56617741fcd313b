package logging

import (
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/chatrelay/pkg/config"
)

// Redactor scrubs credentials from log output.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternJWT         = "jwt"
	PatternAPIKey      = "api_key"
	PatternPassword    = "password"
	PatternEmail       = "email"
)

// Patterns run in order; bearer tokens are matched before bare JWTs so the
// scheme survives in the output.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternJWT, `eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]*`, "eyJ***"},
	{PatternAPIKey, `(?i)(x-api-key|api[-_]?key)(["']?\s*[:=]\s*["']?)[a-zA-Z0-9\-_.]+`, "$1$2***"},
	{PatternPassword, `(?i)(password|passwd|pwd|secret)[:=]\s*[^\s]+`, "$1: ***"},
	{PatternEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "***@***"},
}

// sensitiveKeys are substrings of attribute keys whose values are masked
// outright.
var sensitiveKeys = []string{
	"token",
	"authorization",
	"cookie",
	"secret",
	"password",
	"api_key",
	"apikey",
	"signing_key",
}

// NewRedactor creates a Redactor with the built-in patterns followed by
// custom ones. Custom patterns that do not compile are skipped.
func NewRedactor(custom []config.RedactPattern) *Redactor {
	r := &Redactor{}
	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}
	for _, p := range custom {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       re,
			replacement: p.Replacement,
		})
	}
	return r
}

// Len returns the number of active patterns.
func (r *Redactor) Len() int {
	return len(r.patterns)
}

// RedactString applies every pattern to s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactAttr returns a with credentials removed. Groups are redacted
// recursively.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		out := make([]slog.Attr, len(group))
		for i, ga := range group {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}

	case slog.KindString:
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, MaskValue(v.String()))
		}
		return slog.String(a.Key, r.RedactString(v.String()))

	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
		if isSensitiveKey(a.Key) {
			return slog.String(a.Key, "***")
		}
	}

	return slog.Attr{Key: a.Key, Value: v}
}

// MaskValue keeps the first four characters of long values.
func MaskValue(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}
