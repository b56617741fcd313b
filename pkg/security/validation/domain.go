package validation

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

var (
	domainFormat = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	schemePrefix = regexp.MustCompile(`^[a-z][a-z0-9+.-]*://`)
	portSuffix   = regexp.MustCompile(`:\d+$`)
)

// blockedTLDs are free TLDs with a history of abuse.
var blockedTLDs = []string{".tk", ".ml", ".ga", ".cf"}

// NormalizeDomain reduces an origin, URL, or host to a lower-case host
// name and checks its format.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return "", invalid("origin_domain", "is required")
	}

	d = schemePrefix.ReplaceAllString(d, "")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	d = portSuffix.ReplaceAllString(d, "")
	d = strings.TrimSuffix(d, ".")

	if len(d) > 253 || !domainFormat.MatchString(d) || strings.Contains(d, "..") ||
		strings.HasPrefix(d, ".") || strings.HasPrefix(d, "-") {
		return "", invalid("origin_domain", "invalid domain format")
	}
	for _, tld := range blockedTLDs {
		if strings.HasSuffix(d, tld) {
			return "", invalid("origin_domain", "domain not allowed")
		}
	}
	return d, nil
}

// DomainPolicy is the origin allow-list. Entries are exact hosts or
// "*.example.com" wildcards, which match subdomains but not the apex.
// The list can be replaced at runtime.
type DomainPolicy struct {
	mu        sync.RWMutex
	exact     map[string]struct{}
	wildcards []string // stored as ".example.com"
	patterns  []string
}

// NewDomainPolicy creates a policy from allow-list entries.
func NewDomainPolicy(patterns []string) *DomainPolicy {
	p := &DomainPolicy{}
	p.SetAllowed(patterns)
	return p
}

// SetAllowed replaces the allow-list.
func (p *DomainPolicy) SetAllowed(patterns []string) {
	exact := make(map[string]struct{}, len(patterns))
	var (
		wildcards []string
		kept      []string
	)

	for _, raw := range patterns {
		pat := strings.ToLower(strings.TrimSpace(raw))
		if pat == "" {
			continue
		}
		kept = append(kept, pat)
		if suffix, ok := strings.CutPrefix(pat, "*."); ok {
			wildcards = append(wildcards, "."+suffix)
			continue
		}
		exact[pat] = struct{}{}
	}

	p.mu.Lock()
	p.exact = exact
	p.wildcards = wildcards
	p.patterns = kept
	p.mu.Unlock()
}

// Allowed reports whether a normalized domain is on the allow-list.
func (p *DomainPolicy) Allowed(domain string) bool {
	domain = strings.ToLower(domain)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.exact[domain]; ok {
		return true
	}
	for _, suffix := range p.wildcards {
		if strings.HasSuffix(domain, suffix) && len(domain) > len(suffix) {
			return true
		}
	}
	return false
}

// Patterns returns a copy of the current allow-list.
func (p *DomainPolicy) Patterns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.patterns)
}
