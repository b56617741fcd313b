package secrets

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
)

func TestDecodeKey(t *testing.T) {
	raw := strings.Repeat("k", 32)

	tests := []struct {
		name    string
		value   string
		wantLen int
		wantErr bool
	}{
		{"raw", raw, 32, false},
		{"raw trimmed", "  " + raw + "\n", 32, false},
		{"hex", "hex:" + hex.EncodeToString([]byte(raw)), 32, false},
		{"base64", "base64:a2tra2tra2tra2tra2tra2tra2tra2tra2tra2tra2s=", 32, false},
		{"too short", "short", 0, true},
		{"bad hex", "hex:zz", 0, true},
		{"bad base64", "base64:!!!", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DecodeKey(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(key) != tt.wantLen {
				t.Errorf("expected %d bytes, got %d", tt.wantLen, len(key))
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	b, _ := GenerateKey()
	if a == b {
		t.Error("generated keys must differ")
	}

	key, err := DecodeKey(a)
	if err != nil {
		t.Fatalf("generated key does not decode: %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("expected %d bytes, got %d", KeyLength, len(key))
	}
}

func TestLoadSigningKeys(t *testing.T) {
	clientKey, _ := GenerateKey()
	upstreamKey, _ := GenerateKey()

	p := &staticProvider{name: "p", values: map[string]string{
		"client-token-key":   clientKey,
		"upstream-token-key": upstreamKey,
		"same-key":           clientKey,
	}}
	r := NewResolver([]SecretProvider{p}, CacheConfig{})
	ctx := context.Background()

	keys, err := LoadSigningKeys(ctx, r, "client-token-key", "upstream-token-key")
	if err != nil {
		t.Fatalf("LoadSigningKeys failed: %v", err)
	}
	if len(keys.Client) != KeyLength || len(keys.Upstream) != KeyLength {
		t.Errorf("unexpected key sizes %d/%d", len(keys.Client), len(keys.Upstream))
	}

	if _, err := LoadSigningKeys(ctx, r, "client-token-key", "same-key"); err == nil {
		t.Error("expected error for identical keys")
	}
	if _, err := LoadSigningKeys(ctx, r, "missing", "upstream-token-key"); err == nil {
		t.Error("expected error for missing client key")
	}
}
