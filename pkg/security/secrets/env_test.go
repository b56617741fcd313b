package secrets

import (
	"context"
	"sort"
	"testing"
)

func TestEnvProvider_GetSecret(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_KEY", "test-value")

	provider := NewEnvProvider("CHATRELAY_")

	value, err := provider.GetSecret(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "test-value" {
		t.Errorf("expected value 'test-value', got '%s'", value)
	}
}

func TestEnvProvider_GetSecret_Missing(t *testing.T) {
	t.Setenv("CHATRELAY_EMPTY_KEY", "")
	provider := NewEnvProvider("CHATRELAY_")

	for _, name := range []string{"nonexistent-key", "empty-key"} {
		if _, err := provider.GetSecret(context.Background(), name); err == nil {
			t.Errorf("expected error for %s", name)
		}
	}
}

func TestEnvProvider_EnvVar(t *testing.T) {
	tests := []struct {
		secret string
		want   string
	}{
		{"client-token-key", "CHATRELAY_CLIENT_TOKEN_KEY"},
		{"upstream-token-key", "CHATRELAY_UPSTREAM_TOKEN_KEY"},
		{"n8n_api_key", "CHATRELAY_N8N_API_KEY"},
	}

	provider := NewEnvProvider("CHATRELAY_")
	for _, tt := range tests {
		if got := provider.EnvVar(tt.secret); got != tt.want {
			t.Errorf("EnvVar(%q) = %q, want %q", tt.secret, got, tt.want)
		}
	}
}

func TestEnvProvider_ListSecrets(t *testing.T) {
	provider := NewEnvProvider("CHATRELAY_")
	provider.environ = func() []string {
		return []string{
			"CHATRELAY_CLIENT_TOKEN_KEY=a",
			"CHATRELAY_UPSTREAM_TOKEN_KEY=b",
			"PATH=/usr/bin",
		}
	}

	names, err := provider.ListSecrets(context.Background())
	if err != nil {
		t.Fatalf("ListSecrets failed: %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "client-token-key" || names[1] != "upstream-token-key" {
		t.Errorf("unexpected names %v", names)
	}
}
