package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder observes completed requests.
type HTTPRecorder interface {
	RecordHTTPRequest(route, method string, status int, duration time.Duration)
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
	bytes      int64
}

// newResponseWriter creates a new response writer wrapper.
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Flush lets streaming handlers flush through the wrapper.
func (rw *responseWriter) Flush() {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs every request with method, route, status and
// latency, and reports it to rec when rec is not nil. The request ID and
// client IP are added by the logging handler from the context.
//
// Log format (JSON):
//
//	{
//	  "time": "2026-03-01T10:30:00Z",
//	  "level": "INFO",
//	  "msg": "request completed",
//	  "method": "POST",
//	  "path": "/chat/message",
//	  "route": "/chat/message",
//	  "status": 202,
//	  "latency_ms": 4,
//	  "bytes": 118,
//	  "request_id": "0d6c1d1e-...",
//	  "client_ip": "203.0.113.7"
//	}
//
// Example usage:
//
//	handler = LoggingMiddleware(collector)(handler)
func LoggingMiddleware(rec HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			ctx := context.WithValue(r.Context(), StartTimeKey, startTime)

			rw := newResponseWriter(w)

			slog.DebugContext(ctx, "request started",
				"method", r.Method,
				"path", r.URL.Path,
				"user_agent", r.UserAgent(),
			)

			next.ServeHTTP(rw, r.WithContext(ctx))

			latency := time.Since(startTime)
			route := routePattern(r)

			logLevel := slog.LevelInfo
			if rw.statusCode >= 500 {
				logLevel = slog.LevelError
			} else if rw.statusCode >= 400 {
				logLevel = slog.LevelWarn
			}

			slog.Log(ctx, logLevel, "request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rw.statusCode,
				"latency_ms", latency.Milliseconds(),
				"bytes", rw.bytes,
			)

			if rec != nil {
				rec.RecordHTTPRequest(route, r.Method, rw.statusCode, latency)
			}
		})
	}
}

// routePattern returns the matched chi route ("/chat/stream/{session_id}")
// so metrics stay low-cardinality. It is empty for unmatched requests.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// GetStartTime extracts the request start time from the context.
// Returns zero time if not found.
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}
