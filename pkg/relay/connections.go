package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/chatrelay/pkg/limits/ratelimit"
)

// ConnectionRecord describes one active relay task.
type ConnectionRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ClientIP       string    `json:"client_ip,omitempty"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	BytesForwarded int64     `json:"bytes_forwarded"`
	EventCount     int64     `json:"event_count"`
}

// ConnectionStats summarizes the active connections.
type ConnectionStats struct {
	Active         int            `json:"active"`
	Limit          int64          `json:"limit"`
	PerIP          map[string]int `json:"per_ip"`
	BytesForwarded int64          `json:"bytes_forwarded"`
	EventCount     int64          `json:"event_count"`
	OldestStart    *time.Time     `json:"oldest_start,omitempty"`
}

type connection struct {
	mu     sync.Mutex
	rec    ConnectionRecord
	cancel context.CancelCauseFunc
}

// tracker holds one record per active relay task and prunes the idle ones.
type tracker struct {
	mu    sync.Mutex
	conns map[string]*connection
	slots *ratelimit.ConcurrentLimiter
	idle  time.Duration
	now   func() time.Time
}

func newTracker(maxConns int, idle time.Duration, now func() time.Time) *tracker {
	return &tracker{
		conns: make(map[string]*connection),
		slots: ratelimit.NewConcurrentLimiter(maxConns),
		idle:  idle,
		now:   now,
	}
}

// open registers a task. cancel is invoked with ErrIdle if the task is pruned.
func (t *tracker) open(sessionID, clientIP string, cancel context.CancelCauseFunc) (*connection, error) {
	if !t.slots.Acquire() {
		return nil, ErrTooManyConnections
	}

	now := t.now()
	c := &connection{
		rec: ConnectionRecord{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			ClientIP:     clientIP,
			StartTime:    now,
			LastActivity: now,
		},
		cancel: cancel,
	}

	t.mu.Lock()
	t.conns[c.rec.ID] = c
	t.mu.Unlock()
	return c, nil
}

// touch records forwarded output.
func (t *tracker) touch(c *connection, n int) {
	now := t.now()
	c.mu.Lock()
	c.rec.LastActivity = now
	c.rec.BytesForwarded += int64(n)
	c.rec.EventCount++
	c.mu.Unlock()
}

// close removes the record and frees its slot. It is safe to call after
// the record was pruned.
func (t *tracker) close(c *connection) {
	t.mu.Lock()
	_, ok := t.conns[c.rec.ID]
	delete(t.conns, c.rec.ID)
	t.mu.Unlock()

	if ok {
		t.slots.Release()
	}
}

// prune cancels and removes every record idle for longer than the idle
// timeout. The owning task sees its context cancelled and unwinds.
func (t *tracker) prune() []ConnectionRecord {
	if t.idle <= 0 {
		return nil
	}
	cutoff := t.now().Add(-t.idle)

	var stale []*connection
	t.mu.Lock()
	for id, c := range t.conns {
		c.mu.Lock()
		idle := c.rec.LastActivity.Before(cutoff)
		c.mu.Unlock()
		if idle {
			stale = append(stale, c)
			delete(t.conns, id)
		}
	}
	t.mu.Unlock()

	records := make([]ConnectionRecord, 0, len(stale))
	for _, c := range stale {
		t.slots.Release()
		if c.cancel != nil {
			c.cancel(ErrIdle)
		}
		records = append(records, c.snapshot())
	}
	return records
}

func (c *connection) snapshot() ConnectionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// records returns copies of every active record, oldest first.
func (t *tracker) records() []ConnectionRecord {
	t.mu.Lock()
	conns := make([]*connection, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	out := make([]ConnectionRecord, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (t *tracker) stats() ConnectionStats {
	recs := t.records()
	st := ConnectionStats{
		Active: len(recs),
		Limit:  t.slots.Limit(),
		PerIP:  make(map[string]int),
	}
	for _, r := range recs {
		if r.ClientIP != "" {
			st.PerIP[r.ClientIP]++
		}
		st.BytesForwarded += r.BytesForwarded
		st.EventCount += r.EventCount
	}
	if len(recs) > 0 {
		oldest := recs[0].StartTime
		st.OldestStart = &oldest
	}
	return st
}

func (t *tracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}
