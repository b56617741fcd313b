package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow records hit timestamps for a single scope key and counts
// them over a trailing window.
//
// # Algorithm
//
//  1. Drop hits at or before now-window
//  2. If the remaining count has reached the limit, deny
//  3. Otherwise record a hit at now and allow
//
// Denied attempts are not recorded, so a client hammering a closed window
// does not push its own reset further into the future. Because only
// admitted hits are stored, a window never holds more than limit entries.
//
// # Thread Safety
//
// SlidingWindow is safe for concurrent use. The critical section is a
// prune plus a compare-and-append.
type SlidingWindow struct {
	mu   sync.Mutex
	hits []time.Time // ascending
}

// NewSlidingWindow creates an empty window.
func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Allow evaluates rule at now and records a hit if admitted.
func (sw *SlidingWindow) Allow(now time.Time, rule Rule) CheckResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	res := sw.evaluateLocked(now, rule)
	if res.Allowed {
		sw.recordLocked(now)
	}
	return res
}

// Add records a hit at now unconditionally and returns the number of live
// hits in window, the new one included.
func (sw *SlidingWindow) Add(now time.Time, window time.Duration) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(now, window)
	sw.recordLocked(now)
	return len(sw.hits)
}

// Count returns the number of live hits at now.
func (sw *SlidingWindow) Count(now time.Time, window time.Duration) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(now, window)
	return len(sw.hits)
}

// Reset clears all recorded hits.
func (sw *SlidingWindow) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.hits = nil
}

// idle reports whether the window holds no hit newer than now-window.
func (sw *SlidingWindow) idle(now time.Time, window time.Duration) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.pruneLocked(now, window)
	return len(sw.hits) == 0
}

// evaluateLocked computes the outcome of one more hit without recording it.
// Caller must hold mu.
func (sw *SlidingWindow) evaluateLocked(now time.Time, rule Rule) CheckResult {
	sw.pruneLocked(now, rule.Window)

	count := len(sw.hits)
	res := CheckResult{Limit: int64(rule.Limit)}

	if count >= rule.Limit {
		// A slot opens when the hit that put us at the limit leaves the window.
		blocking := sw.hits[count-rule.Limit]
		res.Allowed = false
		res.Remaining = 0
		res.Reset = blocking.Add(rule.Window)
		res.RetryAfter = res.Reset.Sub(now)
		return res
	}

	res.Allowed = true
	res.Remaining = int64(rule.Limit - count - 1)
	if count > 0 {
		res.Reset = sw.hits[0].Add(rule.Window)
	} else {
		res.Reset = now.Add(rule.Window)
	}
	return res
}

// recordLocked appends a hit. Caller must hold mu.
func (sw *SlidingWindow) recordLocked(now time.Time) {
	// Keep the slice ordered even if the clock steps backwards.
	if n := len(sw.hits); n > 0 && now.Before(sw.hits[n-1]) {
		now = sw.hits[n-1]
	}
	sw.hits = append(sw.hits, now)
}

// pruneLocked removes hits that are no longer inside the window.
// Caller must hold mu.
func (sw *SlidingWindow) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)

	i := 0
	for i < len(sw.hits) && !sw.hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(sw.hits) {
		sw.hits = sw.hits[:0]
		return
	}
	sw.hits = append(sw.hits[:0], sw.hits[i:]...)
}
