package validation

import (
	"net/netip"
	"regexp"
	"strings"
)

const (
	minSessionIDLength = 20
	maxSessionIDLength = 50
	maxUserAgentLength = 500
	maxScreenLength    = 20
)

var (
	sessionIDFormat = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	screenFormat    = regexp.MustCompile(`^\d{2,5}x\d{2,5}$`)
	uaUnsafe        = regexp.MustCompile(`[<>"'\x00-\x1f\x7f]`)
)

// SessionID checks that an id is URL-safe base64 of plausible length.
func SessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalid("session_id", "is required")
	}
	if !sessionIDFormat.MatchString(id) {
		return "", invalid("session_id", "invalid format")
	}
	if len(id) < minSessionIDLength || len(id) > maxSessionIDLength {
		return "", invalid("session_id", "invalid length")
	}
	return id, nil
}

// UserAgent strips unsafe characters and truncates to 500 bytes.
func UserAgent(ua string) string {
	ua = uaUnsafe.ReplaceAllString(strings.TrimSpace(ua), "")
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return ua
}

// Screen returns a "WxH" resolution or "" when the value is malformed.
func Screen(s string) string {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if len(s) > maxScreenLength || !screenFormat.MatchString(s) {
		return ""
	}
	return s
}

// IP parses an IPv4 or IPv6 address, with or without a port, and returns
// its canonical form.
func IP(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().Unmap().String(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "", invalid("ip", "invalid IP address")
	}
	return addr.Unmap().String(), nil
}
