package secrets

import (
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})

	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Errorf("expected cached value, got %q %v", v, ok)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_Disabled(t *testing.T) {
	c := NewCache(CacheConfig{Enabled: false, TTL: time.Minute})
	c.Set("a", "1")
	if _, ok := c.Get("a"); ok {
		t.Error("disabled cache must not return values")
	}
	if c.Size() != 0 {
		t.Error("disabled cache must not store values")
	}
}

func TestCache_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to miss")
	}
}

func TestCache_Eviction(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2})
	c.now = func() time.Time { return now }

	c.Set("first", "1")
	now = now.Add(time.Second)
	c.Set("second", "2")
	now = now.Add(time.Second)
	c.Set("third", "3")

	if c.Size() != 2 {
		t.Errorf("expected size 2, got %d", c.Size())
	}
	if _, ok := c.Get("first"); ok {
		t.Error("expected oldest entry to be evicted")
	}

	// Overwriting an existing key does not evict.
	c.Set("third", "3b")
	if _, ok := c.Get("second"); !ok {
		t.Error("overwrite evicted an unrelated entry")
	}

	c.Clear()
	if c.Size() != 0 {
		t.Error("expected empty cache after Clear")
	}
}
