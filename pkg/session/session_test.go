package session

import (
	"context"
	"testing"
	"time"
)

// ==================================================================
// Shared test helpers
// ==================================================================

var (
	testClientKey   = []byte("client-signing-key-0123456789abcdef")
	testUpstreamKey = []byte("upstream-signing-key-0123456789abcdef")
)

func testKeys() Keys {
	return Keys{Client: testClientKey, Upstream: testUpstreamKey}
}

// allowList is a static OriginPolicy.
type allowList map[string]bool

func (a allowList) Allowed(domain string) bool { return a[domain] }

// fakeClock is a settable clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Set(t time.Time)         { c.t = t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func chromeMac() Material {
	return Material{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		IP:             "203.0.113.10",
		AcceptLanguage: "en-US,en;q=0.9",
		Screen:         "1920x1080",
	}
}

func firefoxLinux() Material {
	return Material{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
		IP:             "203.0.113.10",
		AcceptLanguage: "en-US,en;q=0.9",
		Screen:         "1920x1080",
	}
}

type managerFixture struct {
	mgr   *Manager
	store *MemoryStore
	clock *fakeClock
}

func newTestManager(t *testing.T) *managerFixture {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	mgr, err := NewManager(Config{
		TTL:              7 * 24 * time.Hour,
		UpstreamTokenTTL: 30 * time.Second,
		Issuer:           "chatrelay-test",
		MaxSoftDrift:     1,
		Keys:             testKeys(),
		Origins:          allowList{"example.com": true},
		Store:            store,
		Now:              clock.Now,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return &managerFixture{mgr: mgr, store: store, clock: clock}
}

func (f *managerFixture) create(t *testing.T, m Material) (*Session, TokenPair) {
	t.Helper()
	sess, pair, err := f.mgr.Create(context.Background(), "example.com", m)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return sess, pair
}
