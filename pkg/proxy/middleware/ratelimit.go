package middleware

import (
	"net/http"

	"mercator-hq/chatrelay/pkg/limits/ratelimit"
	"mercator-hq/chatrelay/pkg/proxy"
)

// CheckFunc admits or denies a request. A denial returns a
// *ratelimit.LimitError.
type CheckFunc func(r *http.Request) (ratelimit.CheckResult, error)

// RateLimitMiddleware runs check before the handler, sets the
// X-RateLimit-* headers from its result, and answers 429 with Retry-After
// when the request is denied.
//
// Handlers that need scopes only known after authentication (session,
// origin domain) check those themselves; this middleware covers requests
// identified by their address alone.
//
// Example:
//
//	limit := RateLimitMiddleware(func(r *http.Request) (ratelimit.CheckResult, error) {
//	    return manager.CheckIP(GetClientIP(r))
//	})
//	handler = limit(handler)
func RateLimitMiddleware(check CheckFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := check(r)
			proxy.SetRateLimitHeaders(w, res)
			if err != nil {
				_ = proxy.WriteErrorResponse(w, proxy.HandleError(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
