// Package limits decides which rate limit scopes apply to a request and
// keeps the configured rules swappable at runtime.
//
// The counting itself lives in the ratelimit sub-package. Manager maps
// the configuration onto ratelimit rules, builds the scope checks for
// each kind of request, and records denials:
//
//	m := limits.NewManager(cfg.Limits, limits.WithRecorder(collector))
//	m.Start(ctx)
//	defer m.Stop()
//
//	res, err := m.CheckMessage(ip, sessionID, origin)
//	if errors.Is(err, ratelimit.ErrRateLimited) {
//	    // 429 with Retry-After
//	}
//
// Reload swaps the rules atomically. Counters are kept, so tightening a
// limit applies to hits already recorded in the window.
package limits
