package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/telemetry/logging"
)

// maxRequestIDLength bounds client supplied request IDs.
const maxRequestIDLength = 128

// RequestIDMiddleware assigns every request an ID, taken from the
// X-Request-ID header when the client sends a sane one and generated as a
// UUID v4 otherwise. The ID is stored in the context, where the logging
// handler picks it up, and echoed in the response header.
//
// Example usage:
//
//	handler = RequestIDMiddleware(handler)
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := proxy.ExtractRequestID(r)
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set(proxy.RequestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts printable ASCII without spaces, so a client can
// not inject line breaks or control characters into logs.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// GetRequestID extracts the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	return logging.GetRequestID(ctx)
}

// ClientIPMiddleware resolves the client address once per request and
// stores it in the context.
func ClientIPMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := proxy.ClientIP(r, trustProxy)
			next.ServeHTTP(w, r.WithContext(logging.WithClientIP(r.Context(), ip)))
		})
	}
}

// GetClientIP returns the address stored by ClientIPMiddleware, falling
// back to the connection address.
func GetClientIP(r *http.Request) string {
	if ip := logging.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return proxy.ClientIP(r, false)
}
