package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
)

// RecoveryMiddleware recovers from panics in HTTP handlers and returns a 500
// error body. It logs the panic with stack trace for debugging but does not
// expose internal details to clients. http.ErrAbortHandler is re-raised so
// the server can abort the connection as intended.
//
// Example usage:
//
//	handler = RecoveryMiddleware(handler)
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}

			slog.ErrorContext(r.Context(), "panic in handler",
				"error", err,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)

			_ = proxy.WriteErrorResponse(w, types.NewServerError(
				"An internal error occurred. Please try again later.",
			))
		}()

		next.ServeHTTP(w, r)
	})
}
