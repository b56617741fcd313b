package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// CheckFunc reports nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// Check statuses.
const (
	StatusOK        = "ok"
	StatusUnhealthy = "unhealthy"
)

// Overall statuses.
const (
	StatusReady    = "ready"
	StatusDegraded = "degraded"
	StatusNotReady = "not_ready"
)

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string  `json:"status"`
	Critical bool    `json:"critical"`
	Message  string  `json:"message,omitempty"`
	Duration float64 `json:"duration_ms"`
}

// HealthStatus is the aggregated result returned by the endpoints.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Ready reports whether the instance should receive traffic.
func (s HealthStatus) Ready() bool {
	return s.Status != StatusNotReady
}

// ErrCheckTimeout is reported when a check does not return in time.
var ErrCheckTimeout = errors.New("health check timeout")

type check struct {
	fn       CheckFunc
	critical bool
}

// CheckOption configures a registered check.
type CheckOption func(*check)

// NonCritical marks a check whose failure degrades but does not fail
// readiness.
func NonCritical() CheckOption {
	return func(c *check) { c.critical = false }
}

// Checker manages health checks for system components.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

// New creates a checker. A zero timeout defaults to 5 seconds per check.
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		checks:  make(map[string]check),
		timeout: timeout,
		started: time.Now(),
		now:     time.Now,
	}
}

// RegisterCheck registers a check, replacing any with the same name.
// Checks are critical unless NonCritical is given.
func (c *Checker) RegisterCheck(name string, fn CheckFunc, opts ...CheckOption) {
	ch := check{fn: fn, critical: true}
	for _, opt := range opts {
		opt(&ch)
	}

	c.mu.Lock()
	c.checks[name] = ch
	c.mu.Unlock()
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	delete(c.checks, name)
	c.mu.Unlock()
}

// ListChecks returns the registered check names in sorted order.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports that the process is alive.
func (c *Checker) CheckLiveness(context.Context) HealthStatus {
	now := c.now()
	return HealthStatus{
		Status:    StatusOK,
		Uptime:    now.Sub(c.started).Round(time.Second).String(),
		Timestamp: now,
	}
}

// CheckReadiness runs all checks concurrently and aggregates them.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]check, len(c.checks))
	for name, ch := range c.checks {
		checks[name] = ch
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.runCheck(ctx, ch)

			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := StatusReady
	for _, res := range results {
		if res.Status == StatusOK {
			continue
		}
		if res.Critical {
			status = StatusNotReady
			break
		}
		status = StatusDegraded
	}

	return HealthStatus{
		Status:    status,
		Checks:    results,
		Timestamp: c.now(),
	}
}

func (c *Checker) runCheck(ctx context.Context, ch check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- ch.fn(ctx)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ErrCheckTimeout
	}

	res := CheckResult{
		Status:   StatusOK,
		Critical: ch.critical,
		Duration: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	}
	return res
}
