package session

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// fingerprintVersion prefixes every hash so the format can evolve.
const fingerprintVersion = "v1"

// absentField stands in for a soft field the client did not send.
const absentField = "-"

// Material is the raw client evidence a fingerprint is derived from.
// IP is filled in server-side; the rest comes from request headers and
// the widget.
type Material struct {
	UserAgent      string `json:"user_agent,omitempty"`
	IP             string `json:"-"`
	AcceptLanguage string `json:"accept_language,omitempty"`
	Screen         string `json:"screen,omitempty"`
}

// Fingerprint is the normalized, field-structured form of Material.
// Hard fields must match exactly; soft fields may drift within a tolerance.
type Fingerprint struct {
	UAClass  string // browser family + OS family
	NetClass string // IPv4 /24 or IPv6 /48
	Language string // first Accept-Language tag
	Screen   string // "WxH"
}

// Normalize reduces material to the fields that are compared.
func Normalize(m Material) Fingerprint {
	return Fingerprint{
		UAClass:  uaClass(m.UserAgent),
		NetClass: netClass(m.IP),
		Language: primaryLanguage(m.AcceptLanguage),
		Screen:   strings.ToLower(strings.ReplaceAll(strings.TrimSpace(m.Screen), " ", "")),
	}
}

// Hash returns the one-way fingerprint hash "v1.<ua>.<net>.<lang>.<screen>".
// Each part is a truncated SHA-256 so fields can be compared individually
// without being recoverable. An empty soft field is written as "-".
func (f Fingerprint) Hash() string {
	return strings.Join([]string{
		fingerprintVersion,
		digest("ua", f.UAClass),
		digest("net", f.NetClass),
		softDigest("lang", f.Language),
		softDigest("screen", f.Screen),
	}, ".")
}

// HashMaterial normalizes and hashes material in one step.
func HashMaterial(m Material) string {
	return Normalize(m).Hash()
}

func digest(field, value string) string {
	sum := sha256.Sum256([]byte(field + "\x00" + value))
	return hex.EncodeToString(sum[:8])
}

func softDigest(field, value string) string {
	if value == "" {
		return absentField
	}
	return digest(field, value)
}

// Similarity is the field-level comparison of two fingerprint hashes.
type Similarity struct {
	HardMismatches []string
	SoftDrift      int
}

// Acceptable reports whether the comparison passes with the given tolerance.
func (s Similarity) Acceptable(maxSoftDrift int) bool {
	return len(s.HardMismatches) == 0 && s.SoftDrift <= maxSoftDrift
}

// Compare compares a stored hash with a freshly computed one. Malformed or
// differently versioned hashes are treated as a mismatch on every field.
// A soft field missing on either side is not compared: EventSource
// requests cannot carry the screen header, and a missing value is not
// evidence of a different client.
func Compare(stored, presented string) Similarity {
	a := strings.Split(stored, ".")
	b := strings.Split(presented, ".")
	if len(a) != 5 || len(b) != 5 || a[0] != fingerprintVersion || b[0] != fingerprintVersion {
		return Similarity{HardMismatches: []string{"version"}, SoftDrift: 2}
	}

	var sim Similarity
	if a[1] != b[1] {
		sim.HardMismatches = append(sim.HardMismatches, "user_agent")
	}
	if a[2] != b[2] {
		sim.HardMismatches = append(sim.HardMismatches, "network")
	}
	for _, i := range []int{3, 4} {
		if a[i] == absentField || b[i] == absentField {
			continue
		}
		if a[i] != b[i] {
			sim.SoftDrift++
		}
	}
	return sim
}

// uaClass maps a User-Agent to "<browser>/<os>". Version numbers and
// minor tokens are discarded so browser updates do not break sessions.
func uaClass(ua string) string {
	s := strings.ToLower(ua)
	if s == "" {
		return "none/none"
	}

	var browser string
	switch {
	case strings.Contains(s, "edg/") || strings.Contains(s, "edge/"):
		browser = "edge"
	case strings.Contains(s, "opr/") || strings.Contains(s, "opera"):
		browser = "opera"
	case strings.Contains(s, "firefox/") || strings.Contains(s, "fxios/"):
		browser = "firefox"
	case strings.Contains(s, "chrome/") || strings.Contains(s, "crios/") || strings.Contains(s, "chromium/"):
		browser = "chrome"
	case strings.Contains(s, "safari/"):
		browser = "safari"
	case strings.Contains(s, "curl/") || strings.Contains(s, "wget/") || strings.Contains(s, "python") ||
		strings.Contains(s, "go-http-client") || strings.Contains(s, "bot"):
		browser = "tool"
	default:
		browser = "other"
	}

	var platform string
	switch {
	case strings.Contains(s, "android"):
		platform = "android"
	case strings.Contains(s, "iphone") || strings.Contains(s, "ipad") || strings.Contains(s, "ios"):
		platform = "ios"
	case strings.Contains(s, "windows"):
		platform = "windows"
	case strings.Contains(s, "mac os") || strings.Contains(s, "macintosh"):
		platform = "macos"
	case strings.Contains(s, "cros"):
		platform = "chromeos"
	case strings.Contains(s, "linux"):
		platform = "linux"
	default:
		platform = "other"
	}

	return browser + "/" + platform
}

// netClass maps an address to its /24 (IPv4) or /48 (IPv6) network so
// that DHCP churn inside a provider network is tolerated.
func netClass(addr string) string {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "unknown"
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}
	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// primaryLanguage returns the first tag of an Accept-Language header.
func primaryLanguage(header string) string {
	first := strings.SplitN(header, ",", 2)[0]
	first = strings.SplitN(first, ";", 2)[0]
	return strings.ToLower(strings.TrimSpace(first))
}
