package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned (wrapped in *OpenError) when a call is rejected
// without contacting the upstream.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker status.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects every call until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome classifies a finished call.
type Outcome int

const (
	// Success resets the failure count.
	Success Outcome = iota
	// Failure counts toward opening the circuit (connect errors, timeouts, 5xx).
	Failure
	// Ignore releases the call without affecting state, e.g. when the
	// client went away before the upstream answered.
	Ignore
)

// OpenError reports a rejected call and how long until a trial is possible.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter.Round(time.Second))
}

// Unwrap returns ErrOpen.
func (e *OpenError) Unwrap() error {
	return ErrOpen
}

// Config configures a Breaker.
type Config struct {
	// Name identifies the upstream target in logs and errors.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Snapshot is a point-in-time copy of the breaker counters.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Breaker is a consecutive-failure circuit breaker shared by every relay
// task that targets the same upstream. All state lives behind one mutex and
// each critical section is a compare plus a counter update.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	onChange  func(name string, from, to State)
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool   // a half-open trial is in flight
	gen      uint64 // bumped on every transition
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{
		name:      cfg.Name,
		threshold: cfg.FailureThreshold,
		cooldown:  cfg.Cooldown,
		onChange:  cfg.OnStateChange,
		now:       cfg.Now,
	}
}

// Allow asks permission for one upstream call. On success the caller must
// invoke done exactly once with the call's outcome; later invocations are
// no-ops. When the circuit is open, or half-open with the trial already
// taken, Allow returns an *OpenError and no call may be made.
func (b *Breaker) Allow() (done func(Outcome), err error) {
	b.mu.Lock()

	now := b.now()
	var changed []transition

	if b.state == StateOpen {
		if remaining := b.openedAt.Add(b.cooldown).Sub(now); remaining > 0 {
			b.mu.Unlock()
			return nil, &OpenError{Name: b.name, RetryAfter: remaining}
		}
		changed = append(changed, b.setStateLocked(StateHalfOpen, now))
	}

	if b.state == StateHalfOpen {
		if b.trial {
			b.mu.Unlock()
			b.notify(changed)
			return nil, &OpenError{Name: b.name, RetryAfter: b.cooldown}
		}
		b.trial = true
	}

	gen := b.gen
	b.mu.Unlock()
	b.notify(changed)

	var once sync.Once
	return func(o Outcome) {
		once.Do(func() { b.finish(gen, o) })
	}, nil
}

// finish applies an outcome reported for a call admitted in generation gen.
func (b *Breaker) finish(gen uint64, o Outcome) {
	b.mu.Lock()

	// The circuit moved on while this call was in flight.
	if gen != b.gen {
		b.mu.Unlock()
		return
	}

	var changed []transition
	now := b.now()

	switch b.state {
	case StateClosed:
		switch o {
		case Success:
			b.failures = 0
		case Failure:
			b.failures++
			if b.failures >= b.threshold {
				changed = append(changed, b.setStateLocked(StateOpen, now))
			}
		}

	case StateHalfOpen:
		b.trial = false
		switch o {
		case Success:
			b.failures = 0
			changed = append(changed, b.setStateLocked(StateClosed, now))
		case Failure:
			b.failures++
			changed = append(changed, b.setStateLocked(StateOpen, now))
		}
	}

	b.mu.Unlock()
	b.notify(changed)
}

type transition struct {
	from, to State
	fails    int
}

// setStateLocked moves to a new state. Caller must hold mu.
func (b *Breaker) setStateLocked(to State, now time.Time) transition {
	t := transition{from: b.state, to: to, fails: b.failures}
	b.state = to
	b.gen++
	b.trial = false
	if to == StateOpen {
		b.openedAt = now
	}
	return t
}

func (b *Breaker) notify(ts []transition) {
	for _, t := range ts {
		if t.to == StateOpen {
			slog.Warn("circuit breaker opened",
				"upstream", b.name,
				"from", t.from.String(),
				"consecutive_failures", t.fails,
				"cooldown", b.cooldown,
			)
		} else {
			slog.Info("circuit breaker state changed",
				"upstream", b.name,
				"from", t.from.String(),
				"to", t.to.String(),
			)
		}
		if b.onChange != nil {
			b.onChange(b.name, t.from, t.to)
		}
	}
}

// State returns the current state. An open circuit whose cool-down has
// elapsed is still reported as open until the next Allow moves it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		OpenedAt:            b.openedAt,
	}
}

// Name returns the upstream target name.
func (b *Breaker) Name() string {
	return b.name
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var changed []transition
	if b.state != StateClosed {
		changed = append(changed, b.setStateLocked(StateClosed, b.now()))
	}
	b.failures = 0
	b.mu.Unlock()
	b.notify(changed)
}
