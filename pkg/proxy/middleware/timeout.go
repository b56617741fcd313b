package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
)

// errHandlerTimeout is returned to handler writes after the deadline.
var errHandlerTimeout = errors.New("handler timed out")

// TimeoutMiddleware enforces a per-request timeout using context.WithTimeout.
// The handler runs on its own goroutine writing into a buffer; if it has not
// finished when the timeout fires, a 504 error body is sent instead and
// later writes by the handler fail.
//
// Streaming routes must not use this middleware: their output is never
// buffered and they are bounded by the relay deadline instead.
//
// Example usage:
//
//	handler = TimeoutMiddleware(15 * time.Second)(handler)
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			tw := &timeoutWriter{h: make(http.Header), code: http.StatusOK}
			done := make(chan struct{})
			panicked := make(chan any, 1)

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next.ServeHTTP(tw, r.WithContext(ctx))
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p)

			case <-done:
				tw.mu.Lock()
				defer tw.mu.Unlock()
				dst := w.Header()
				for k, v := range tw.h {
					dst[k] = v
				}
				w.WriteHeader(tw.code)
				_, _ = w.Write(tw.buf.Bytes())

			case <-ctx.Done():
				tw.mu.Lock()
				defer tw.mu.Unlock()
				tw.timedOut = true

				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					slog.WarnContext(r.Context(), "request timeout",
						"method", r.Method,
						"path", r.URL.Path,
						"timeout", timeout.String(),
					)
					_ = proxy.WriteErrorResponse(w, types.NewGatewayTimeoutError(
						"Request timeout: the request took too long to complete",
					))
				}
			}
		})
	}
}

// timeoutWriter buffers a handler's response until it finishes in time.
type timeoutWriter struct {
	mu          sync.Mutex
	h           http.Header
	buf         bytes.Buffer
	code        int
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.h }

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, errHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.writeHeaderLocked(http.StatusOK)
	}
	return tw.buf.Write(b)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	tw.wroteHeader = true
	tw.code = code
}
