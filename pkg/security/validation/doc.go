// Package validation rejects malformed or hostile input before it reaches
// session or relay code. Every failure wraps ErrInvalidInput.
//
//   - MessageValidator bounds message length, rejects invalid UTF-8 and
//     script, markup, or SQL injection probes, and strips control
//     characters.
//   - NormalizeDomain reduces origins to host names; DomainPolicy is the
//     hot-swappable origin allow-list with "*.example.com" wildcards.
//   - SessionID, IP, UserAgent, and Screen sanitize identity fields.
package validation
