package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PendingExchange is a message staged by POST /chat/message for a later
// GET stream to pick up.
type PendingExchange struct {
	ID         string
	SessionID  string
	Message    string
	EnqueuedAt time.Time
	ExpiresAt  time.Time
}

// pendingStore keeps at most one staged exchange per session.
type pendingStore struct {
	mu        sync.Mutex
	bySession map[string]*PendingExchange
	ttl       time.Duration
	now       func() time.Time
}

func newPendingStore(ttl time.Duration, now func() time.Time) *pendingStore {
	return &pendingStore{
		bySession: make(map[string]*PendingExchange),
		ttl:       ttl,
		now:       now,
	}
}

// stage stores message for sessionID, replacing any unclaimed exchange.
// It returns the new exchange and the one it replaced, if any.
func (p *pendingStore) stage(sessionID, message string) (*PendingExchange, *PendingExchange) {
	now := p.now()
	ex := &PendingExchange{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Message:    message,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(p.ttl),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	replaced := p.bySession[sessionID]
	p.bySession[sessionID] = ex

	copied := *ex
	if replaced != nil && !replaced.ExpiresAt.After(now) {
		replaced = nil
	}
	return &copied, replaced
}

// claim removes and returns the staged exchange for sessionID. When
// exchangeID is non-empty it must match. Expired exchanges are dropped.
func (p *pendingStore) claim(sessionID, exchangeID string) (*PendingExchange, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ex, ok := p.bySession[sessionID]
	if !ok {
		return nil, ErrNoPendingExchange
	}
	if !ex.ExpiresAt.After(p.now()) {
		delete(p.bySession, sessionID)
		return nil, ErrNoPendingExchange
	}
	if exchangeID != "" && ex.ID != exchangeID {
		return nil, ErrNoPendingExchange
	}
	delete(p.bySession, sessionID)
	return ex, nil
}

// restore puts a claimed exchange back unchanged. It does nothing when the
// exchange expired or the session staged a newer message meanwhile.
func (p *pendingStore) restore(ex *PendingExchange) bool {
	if ex == nil || !ex.ExpiresAt.After(p.now()) {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.bySession[ex.SessionID]; ok {
		return false
	}
	copied := *ex
	p.bySession[ex.SessionID] = &copied
	return true
}

// drop removes any staged exchange for sessionID.
func (p *pendingStore) drop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.bySession, sessionID)
}

// cleanup deletes expired exchanges and returns how many were removed.
func (p *pendingStore) cleanup() int {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for id, ex := range p.bySession {
		if !ex.ExpiresAt.After(now) {
			delete(p.bySession, id)
			removed++
		}
	}
	return removed
}

func (p *pendingStore) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bySession)
}
