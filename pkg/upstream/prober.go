package upstream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// unhealthyAfter is the number of consecutive failed probes before the
// upstream is reported unhealthy.
const unhealthyAfter = 3

// probeTimeout bounds a single probe.
const probeTimeout = 5 * time.Second

// ProbeStatus is a snapshot of the prober state.
type ProbeStatus struct {
	Healthy             bool
	LastCheck           time.Time
	LastError           string
	ConsecutiveFailures int
}

// Prober periodically probes the upstream. While the upstream is failing
// the interval grows exponentially so a dead webhook is not hammered.
type Prober struct {
	client   *Client
	interval time.Duration
	backoff  *backoff.ExponentialBackOff

	mu     sync.RWMutex
	status ProbeStatus

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// NewProber creates a prober. It reports healthy until probes say otherwise.
func NewProber(client *Client, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	bo.MaxInterval = 5 * time.Minute

	return &Prober{
		client:   client,
		interval: interval,
		backoff:  bo,
		status:   ProbeStatus{Healthy: true},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "upstream.prober", "upstream", client.Name()),
	}
}

// Start runs the probe loop until ctx is cancelled or Stop is called.
func (p *Prober) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	p.logger.Info("upstream prober started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-timer.C:
			next := p.interval
			if err := p.Check(ctx); err != nil {
				next = p.backoff.NextBackOff()
				p.logger.Debug("upstream probe backoff", "next_check_in", next)
			} else {
				p.backoff.Reset()
			}
			timer.Reset(next)
		}
	}
}

// Check runs one probe now and records the result.
func (p *Prober) Check(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := p.client.Probe(checkCtx)
	p.record(err)
	return err
}

func (p *Prober) record(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastCheck = time.Now()

	if err == nil {
		if !p.status.Healthy {
			p.logger.Info("upstream marked healthy", "previous_failures", p.status.ConsecutiveFailures)
		}
		p.status.Healthy = true
		p.status.ConsecutiveFailures = 0
		p.status.LastError = ""
		return
	}

	p.status.ConsecutiveFailures++
	p.status.LastError = err.Error()
	if p.status.Healthy && p.status.ConsecutiveFailures >= unhealthyAfter {
		p.status.Healthy = false
		p.logger.Warn("upstream marked unhealthy",
			"consecutive_failures", p.status.ConsecutiveFailures,
			"error", err,
		)
	}
}

// Healthy reports the current health verdict.
func (p *Prober) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status.Healthy
}

// Status returns a copy of the prober state.
func (p *Prober) Status() ProbeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Stop ends the probe loop and waits for it to exit. It is safe to call
// more than once, and before Start.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if !p.started.Load() {
		return
	}
	select {
	case <-p.done:
	case <-time.After(probeTimeout):
		p.logger.Warn("upstream prober did not stop in time")
	}
}
