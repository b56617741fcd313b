package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes ended and long-expired sessions from a Store on a cron
// schedule. Session expiry itself is never decided here; Validate does
// that. The pruner only reclaims storage.
type Pruner struct {
	store     Store
	schedule  string
	retention time.Duration
	now       func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewPruner creates a pruner. Records are deleted once they have been
// ended or expired for longer than retention.
func NewPruner(store Store, schedule string, retention time.Duration) *Pruner {
	return &Pruner{
		store:     store,
		schedule:  schedule,
		retention: retention,
		now:       time.Now,
		cron:      cron.New(),
		logger:    slog.Default().With("component", "session.pruner"),
	}
}

// Prune runs one pruning pass immediately.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.retention)
	return p.store.Purge(ctx, cutoff)
}

// Start schedules pruning. An empty schedule disables the pruner. The
// pruner stops when ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.schedule == "" {
		p.logger.Info("prune schedule not configured, skipping pruner")
		return nil
	}

	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", p.schedule, err)
	}

	if _, err := p.cron.AddFunc(p.schedule, func() {
		p.run(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true

	p.logger.Info("session pruner started",
		"schedule", p.schedule,
		"retention", p.retention,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

func (p *Pruner) run(ctx context.Context) {
	deleted, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error("scheduled session pruning failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("scheduled session pruning completed", "deleted_count", deleted)
	} else {
		p.logger.Debug("scheduled session pruning completed, no records deleted")
	}
}

// Stop stops the schedule and waits for a running pass to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		<-p.cron.Stop().Done()
		p.running = false
		p.logger.Info("session pruner stopped")
	}
}

// IsRunning reports whether the schedule is active.
func (p *Pruner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextRun returns the next scheduled pass, or nil when not scheduled.
func (p *Pruner) NextRun() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
