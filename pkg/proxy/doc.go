// Package proxy holds the HTTP plumbing shared by the chat relay handlers:
// request decoding, client identification, error mapping, and the writers
// that put relay events on the wire.
//
// # Errors
//
// HandleError maps errors from the session, limiter, breaker, relay and
// upstream packages to a JSON body and status:
//
//	OriginRejected        403 permission_denied
//	InvalidSession        401 authentication_error
//	FingerprintMismatch   401 authentication_error
//	SessionBusy           409 conflict
//	RateLimited           429 rate_limit_exceeded   (Retry-After)
//	UpstreamUnavailable   503 service_unavailable   (Retry-After)
//	UpstreamTimeout       504 gateway_timeout
//
// These apply only before the first event is sent. Once a stream has
// started, failures arrive as a terminal error event instead.
//
// # Streams
//
// NDJSONSink writes one event per line:
//
//	{"type":"begin"}
//	{"type":"item","content":"Hel"}
//	{"type":"end"}
//
// SSESink writes the same objects as "data:" frames and sends a comment
// heartbeat while the upstream is quiet. Both flush after every event and
// commit response headers only on the first event.
//
// # Client identity
//
// ExtractClientToken reads the session cookie, then a bearer Authorization
// header, then X-Session-Token. ClientIP uses X-Forwarded-For and X-Real-IP
// only when proxy headers are trusted.
package proxy
