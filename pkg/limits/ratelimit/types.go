package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is returned (wrapped in *LimitError) when any scope denies a request.
var ErrRateLimited = errors.New("rate limit exceeded")

// Scope names the dimension a counter is kept for.
type Scope string

// Supported scopes.
const (
	ScopeIP            Scope = "ip"
	ScopeSession       Scope = "session"
	ScopeDomain        Scope = "domain"
	ScopeSessionCreate Scope = "session_create"
)

// Rule is a sliding window limit. A rule with Limit <= 0 is disabled.
type Rule struct {
	// Limit is the maximum number of admitted hits inside Window.
	Limit int

	// Window is the trailing interval hits are counted over.
	Window time.Duration
}

// Enabled reports whether the rule enforces anything.
func (r Rule) Enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

// Check pairs a scope identifier with the rule to apply to it.
type Check struct {
	Scope Scope
	ID    string
	Rule  Rule
}

// key returns the counter key, e.g. "ip:203.0.113.7".
func (c Check) key() string {
	return string(c.Scope) + ":" + c.ID
}

// CheckResult contains the result of a rate limit check.
type CheckResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Scope is the scope that produced this result.
	Scope Scope

	// Limit is the configured limit value.
	Limit int64

	// Remaining is how many requests remain in the window.
	Remaining int64

	// Reset is when the oldest counted hit leaves the window.
	Reset time.Time

	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration
}

// LimitError reports a denied request and carries the backoff hint.
type LimitError struct {
	Result CheckResult
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for scope %s (limit %d), retry after %s",
		e.Result.Scope, e.Result.Limit, e.Result.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrRateLimited.
func (e *LimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter returns the backoff hint.
func (e *LimitError) RetryAfter() time.Duration {
	return e.Result.RetryAfter
}
