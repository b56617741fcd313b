package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// staticProvider serves a fixed map and counts reads.
type staticProvider struct {
	name      string
	values    map[string]string
	reads     int
	refreshed int
}

func (p *staticProvider) GetSecret(_ context.Context, name string) (string, error) {
	p.reads++
	v, ok := p.values[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (p *staticProvider) ListSecrets(context.Context) ([]string, error) { return nil, nil }
func (p *staticProvider) Provider() string                              { return p.name }
func (p *staticProvider) Supports(string) bool                          { return true }
func (p *staticProvider) Refresh(context.Context) error {
	p.refreshed++
	return nil
}

func TestResolver_FallbackOrder(t *testing.T) {
	first := &staticProvider{name: "first", values: map[string]string{"a": "from-first"}}
	second := &staticProvider{name: "second", values: map[string]string{"a": "from-second", "b": "b-value"}}

	r := NewResolver([]SecretProvider{first, second}, CacheConfig{})

	if v, _ := r.GetSecret(context.Background(), "a"); v != "from-first" {
		t.Errorf("expected first provider to win, got %q", v)
	}
	if v, _ := r.GetSecret(context.Background(), "b"); v != "b-value" {
		t.Errorf("expected fallback to second provider, got %q", v)
	}
	if _, err := r.GetSecret(context.Background(), "c"); err == nil {
		t.Error("expected error when no provider has the secret")
	}
}

func TestResolver_Caches(t *testing.T) {
	p := &staticProvider{name: "p", values: map[string]string{"a": "1"}}
	r := NewResolver([]SecretProvider{p}, CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10})

	for range 3 {
		if _, err := r.GetSecret(context.Background(), "a"); err != nil {
			t.Fatalf("GetSecret failed: %v", err)
		}
	}
	if p.reads != 1 {
		t.Errorf("expected 1 provider read, got %d", p.reads)
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if p.refreshed != 1 {
		t.Errorf("expected provider refresh, got %d", p.refreshed)
	}
	_, _ = r.GetSecret(context.Background(), "a")
	if p.reads != 2 {
		t.Errorf("expected re-read after refresh, got %d reads", p.reads)
	}
}

func TestResolver_ResolveReferences(t *testing.T) {
	p := &staticProvider{name: "p", values: map[string]string{"n8n-api-key": "k-123"}}
	r := NewResolver([]SecretProvider{p}, CacheConfig{})

	out, err := r.ResolveReferences(context.Background(), "${secret:n8n-api-key}")
	if err != nil {
		t.Fatalf("ResolveReferences failed: %v", err)
	}
	if out != "k-123" {
		t.Errorf("expected resolved value, got %q", out)
	}

	out, err = r.ResolveReferences(context.Background(), "plain-value")
	if err != nil || out != "plain-value" {
		t.Errorf("plain values must pass through, got %q %v", out, err)
	}

	out, err = r.ResolveReferences(context.Background(), "x-${secret:missing}")
	if err == nil {
		t.Error("expected error for missing reference")
	}
	if !strings.Contains(out, "${secret:missing}") {
		t.Errorf("unresolved reference should be kept, got %q", out)
	}
}

func TestRedactSecretName(t *testing.T) {
	if got := redactSecretName("abc"); got != "***" {
		t.Errorf("got %q", got)
	}
	if got := redactSecretName("client-token-key"); got != "cl...ey" {
		t.Errorf("got %q", got)
	}
}
