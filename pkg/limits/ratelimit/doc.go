// Package ratelimit provides the admission limiters used in front of the relay.
//
// # Sliding Window
//
// Limiter keeps an independent sliding window per scope key (client IP,
// session id, origin domain, session creation per IP). Each admitted
// request records a timestamped hit; a request is denied when the number
// of hits inside the trailing window has already reached the limit:
//
//	limiter := ratelimit.NewLimiter()
//	res, err := limiter.Check(
//	    ratelimit.Check{Scope: ratelimit.ScopeIP, ID: "203.0.113.7", Rule: ratelimit.Rule{Limit: 60, Window: time.Minute}},
//	    ratelimit.Check{Scope: ratelimit.ScopeDomain, ID: "example.com", Rule: ratelimit.Rule{Limit: 1000, Window: time.Hour}},
//	)
//	if errors.Is(err, ratelimit.ErrRateLimited) {
//	    // respond 429 with Retry-After: res.RetryAfter
//	}
//
// Scopes are checked together and any denying scope denies the request.
// Windows whose hits have all expired are evicted by the cleanup loop.
//
// # Concurrent Limiter
//
// The concurrent limiter caps simultaneous relay connections:
//
//	limiter := ratelimit.NewConcurrentLimiter(10000)
//	if limiter.Acquire() {
//	    defer limiter.Release()
//	    // stream
//	}
package ratelimit
