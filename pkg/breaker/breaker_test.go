package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(Config{
		Name:             "test",
		FailureThreshold: threshold,
		Cooldown:         cooldown,
		Now:              c.Now,
	})
	return b, c
}

func call(t *testing.T, b *Breaker, o Outcome) {
	t.Helper()
	done, err := b.Allow()
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	done(o)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	call(t, b, Failure)
	call(t, b, Failure)
	if b.State() != StateClosed {
		t.Fatalf("state = %s after 2 failures, want closed", b.State())
	}

	call(t, b, Failure)
	if b.State() != StateOpen {
		t.Fatalf("state = %s after 3 failures, want open", b.State())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Second)

	call(t, b, Failure)
	call(t, b, Failure)
	call(t, b, Success)
	call(t, b, Failure)
	call(t, b, Failure)

	if b.State() != StateClosed {
		t.Errorf("state = %s, failures were not consecutive", b.State())
	}
	if got := b.Snapshot().ConsecutiveFailures; got != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got)
	}
}

func TestBreaker_OpenFailsFast(t *testing.T) {
	b, c := newTestBreaker(1, 30*time.Second)
	call(t, b, Failure)

	c.Advance(10 * time.Second)
	done, err := b.Allow()
	if done != nil {
		t.Error("open breaker returned a done callback")
	}
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("err type = %T", err)
	}
	if openErr.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v, want 20s", openErr.RetryAfter)
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b, c := newTestBreaker(1, 5*time.Second)
	call(t, b, Failure)
	c.Advance(5 * time.Second)

	trial, err := b.Allow()
	if err != nil {
		t.Fatalf("trial rejected: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Errorf("second call during trial err = %v, want ErrOpen", err)
	}

	trial(Success)
	if b.State() != StateClosed {
		t.Errorf("state = %s after successful trial, want closed", b.State())
	}
	if b.Snapshot().ConsecutiveFailures != 0 {
		t.Error("successful trial did not reset failures")
	}
}

func TestBreaker_HalfOpenFailureRestartsCooldown(t *testing.T) {
	b, c := newTestBreaker(1, 5*time.Second)
	call(t, b, Failure)
	c.Advance(5 * time.Second)

	trial, err := b.Allow()
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Second)
	trial(Failure)

	if b.State() != StateOpen {
		t.Fatalf("state = %s after failed trial, want open", b.State())
	}
	openedAt := b.Snapshot().OpenedAt
	if !openedAt.Equal(c.Now()) {
		t.Errorf("OpenedAt = %v, want %v", openedAt, c.Now())
	}

	c.Advance(4 * time.Second)
	if _, err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Error("cool-down was not restarted")
	}
	c.Advance(time.Second)
	if _, err := b.Allow(); err != nil {
		t.Errorf("second trial rejected: %v", err)
	}
}

func TestBreaker_IgnoredTrialReleasesSlot(t *testing.T) {
	b, c := newTestBreaker(1, time.Second)
	call(t, b, Failure)
	c.Advance(time.Second)

	trial, _ := b.Allow()
	trial(Ignore)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if _, err := b.Allow(); err != nil {
		t.Errorf("slot not released by ignored trial: %v", err)
	}
}

func TestBreaker_StaleOutcomeIgnored(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	slow, _ := b.Allow()
	call(t, b, Failure)
	call(t, b, Failure) // opens

	slow(Success)
	if b.State() != StateOpen {
		t.Error("outcome from before the transition closed the circuit")
	}
}

func TestBreaker_DoneIsIdempotent(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	done, _ := b.Allow()
	done(Failure)
	done(Failure)

	if b.State() != StateClosed {
		t.Error("double done counted twice")
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	c := &clock{now: time.Unix(0, 0)}
	b := New(Config{
		Name:             "n8n",
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Now:              c.Now,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	call(t, b, Failure)
	c.Advance(time.Second)
	call(t, b, Success)

	want := []string{"closed->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentHalfOpenAdmitsOne(t *testing.T) {
	b, c := newTestBreaker(1, time.Second)
	call(t, b, Failure)
	c.Advance(time.Second)

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Allow(); err == nil {
				atomic.AddInt32(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted = %d trial calls, want 1", admitted)
	}
}
