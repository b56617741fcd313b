// Package middleware provides HTTP middleware for cross-cutting concerns.
//
// This package implements middleware functions that handle common functionality
// across all HTTP requests: request IDs, client address resolution, logging and
// request metrics, CORS, panic recovery, rate limiting and timeouts.
//
// # Middleware Chain
//
// The server installs the middleware outermost first:
//
//	Recovery → RequestID → ClientIP → Tracing → Logging → CORS → routes
//
// and per route group:
//
//	/session/validate, /session/destroy, /chat/stats   RateLimit(ip) → Timeout
//	/session/create, /chat/message (staged)            Timeout
//	/chat/stream/{session_id}, /chat/message (inline)  (none)
//
// Streaming routes skip Timeout because their output must reach the client
// as it is produced; the relay deadline bounds them instead.
//
// # Request ID
//
// RequestIDMiddleware uses the client's X-Request-ID when it is printable
// ASCII of reasonable length and generates a UUID v4 otherwise:
//
//	X-Request-ID: 550e8400-e29b-41d4-a716-446655440000
//
// The ID is stored with the logging package's context helpers, so every
// log record written with a request context carries it.
//
// # Client IP
//
// ClientIPMiddleware resolves the client address once. X-Forwarded-For and
// X-Real-IP are honoured only when the server trusts proxy headers.
//
// # Logging and Metrics
//
// LoggingMiddleware logs one record per request at a level chosen by the
// status code (5xx error, 4xx warn, otherwise info) and reports the chi
// route pattern, method, status and latency to an HTTPRecorder.
//
// # CORS
//
// CORSMiddleware echoes allowed origins back so the session cookie can be
// sent cross-site. Origins are allowed by the static list or by the
// AllowOrigin callback, which the server points at the session domain
// allow-list.
//
// # Rate Limiting
//
// RateLimitMiddleware runs a check function, sets X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset, and answers 429 with
// Retry-After on denial.
//
// # Timeout
//
// TimeoutMiddleware buffers the handler's response and replaces it with a
// 504 error body if the handler does not finish in time.
package middleware
