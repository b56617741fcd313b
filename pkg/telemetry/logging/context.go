package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for request-scoped log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// SessionIDKey is the context key for chat session IDs.
	SessionIDKey contextKey = "session_id"

	// ClientIPKey is the context key for the client address.
	ClientIPKey contextKey = "client_ip"

	// OriginKey is the context key for the session's origin domain.
	OriginKey contextKey = "origin_domain"
)

// contextKeys is the order in which context fields are attached.
var contextKeys = []contextKey{RequestIDKey, SessionIDKey, ClientIPKey, OriginKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID returns the request ID from the context, or "".
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetSessionID returns the session ID from the context, or "".
func GetSessionID(ctx context.Context) string {
	return getString(ctx, SessionIDKey)
}

// WithClientIP adds the client address to the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetClientIP returns the client address from the context, or "".
func GetClientIP(ctx context.Context) string {
	return getString(ctx, ClientIPKey)
}

// WithOrigin adds the origin domain to the context.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, OriginKey, origin)
}

// GetOrigin returns the origin domain from the context, or "".
func GetOrigin(ctx context.Context) string {
	return getString(ctx, OriginKey)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

// contextAttrs returns the log fields carried by ctx, skipping keys for
// which skip reports true.
func contextAttrs(ctx context.Context, skip func(string) bool) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	for _, key := range contextKeys {
		if v := getString(ctx, key); v != "" && !skip(string(key)) {
			attrs = append(attrs, slog.String(string(key), v))
		}
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if !skip("trace_id") {
			attrs = append(attrs, slog.String("trace_id", sc.TraceID().String()))
		}
		if !skip("span_id") {
			attrs = append(attrs, slog.String("span_id", sc.SpanID().String()))
		}
	}
	return attrs
}
