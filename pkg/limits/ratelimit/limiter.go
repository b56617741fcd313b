package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Limiter keeps one SlidingWindow per scope key and evaluates several
// scopes for a single request.
//
// Windows are created on first use and evicted once every hit has left
// the window, either lazily by the cleanup loop or by an explicit Cleanup
// call. The map lock is only held exclusively while creating or evicting
// windows; evaluating a request takes the read lock plus the per-window
// locks of the scopes involved.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*entry
	now     func() time.Time

	cleanupInterval time.Duration
	done            chan struct{}
	stopOnce        sync.Once
}

type entry struct {
	window *SlidingWindow
	// span is the longest rule window applied to this key; eviction waits for it.
	span time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithCleanupInterval sets how often Start evicts idle windows.
func WithCleanupInterval(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupInterval = d }
}

// NewLimiter creates a new scoped rate limiter.
//
// Example:
//
//	limiter := ratelimit.NewLimiter()
//	_, err := limiter.Check(
//	    ratelimit.Check{Scope: ratelimit.ScopeIP, ID: ip, Rule: ipRule},
//	    ratelimit.Check{Scope: ratelimit.ScopeSession, ID: sid, Rule: sessionRule},
//	)
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		windows:         make(map[string]*entry),
		now:             time.Now,
		cleanupInterval: time.Minute,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check evaluates every enabled check at the same instant. The request is
// admitted only if all scopes admit it, and only then is a hit recorded in
// each of them. On denial the returned error is a *LimitError for the scope
// with the longest RetryAfter. On success the result is the scope with the
// fewest remaining requests, suitable for X-RateLimit-* headers.
func (l *Limiter) Check(checks ...Check) (CheckResult, error) {
	active := make([]Check, 0, len(checks))
	seen := make(map[string]bool, len(checks))
	for _, c := range checks {
		if !c.Rule.Enabled() || seen[c.key()] {
			continue
		}
		seen[c.key()] = true
		active = append(active, c)
	}
	if len(active) == 0 {
		return CheckResult{Allowed: true}, nil
	}

	// Fixed lock order across concurrent callers.
	sort.Slice(active, func(i, j int) bool { return active[i].key() < active[j].key() })

	entries := l.acquire(active)
	defer l.mu.RUnlock()
	for _, e := range entries {
		e.window.mu.Lock()
	}
	defer func() {
		for _, e := range entries {
			e.window.mu.Unlock()
		}
	}()

	now := l.now()
	var (
		denied *CheckResult
		tight  *CheckResult
	)
	results := make([]CheckResult, len(active))
	for i, c := range active {
		res := entries[i].window.evaluateLocked(now, c.Rule)
		res.Scope = c.Scope
		results[i] = res
		if !res.Allowed {
			if denied == nil || res.RetryAfter > denied.RetryAfter {
				denied = &results[i]
			}
			continue
		}
		if tight == nil || res.Remaining < tight.Remaining {
			tight = &results[i]
		}
	}

	if denied != nil {
		return *denied, &LimitError{Result: *denied}
	}

	for _, e := range entries {
		e.window.recordLocked(now)
	}
	return *tight, nil
}

// acquire returns the entries for checks with the map read lock held.
// A concurrent Cleanup may evict a freshly created entry between ensure and
// the read lock, in which case the lookup is retried.
func (l *Limiter) acquire(checks []Check) []*entry {
	entries := make([]*entry, len(checks))
	for {
		l.ensure(checks)

		l.mu.RLock()
		complete := true
		for i, c := range checks {
			e, ok := l.windows[c.key()]
			if !ok {
				complete = false
				break
			}
			entries[i] = e
		}
		if complete {
			return entries
		}
		l.mu.RUnlock()
	}
}

// ensure creates windows for any missing keys and widens their eviction span.
func (l *Limiter) ensure(checks []Check) {
	l.mu.RLock()
	missing := false
	for _, c := range checks {
		e, ok := l.windows[c.key()]
		if !ok || e.span < c.Rule.Window {
			missing = true
			break
		}
	}
	l.mu.RUnlock()
	if !missing {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range checks {
		e, ok := l.windows[c.key()]
		if !ok {
			e = &entry{window: NewSlidingWindow()}
			l.windows[c.key()] = e
		}
		if e.span < c.Rule.Window {
			e.span = c.Rule.Window
		}
	}
}

// Cleanup evicts windows whose hits have all expired and returns how many
// were removed.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, e := range l.windows {
		if e.window.idle(now, e.span) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked scope keys.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Start runs the cleanup loop until ctx is cancelled or Stop is called.
func (l *Limiter) Start(ctx context.Context) {
	ticker := time.NewTicker(l.cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// Stop terminates the cleanup loop.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}
