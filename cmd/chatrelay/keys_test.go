package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/chatrelay/pkg/security/secrets"
)

func TestGenerateKeys_Env(t *testing.T) {
	keysFlags.output = ""

	cmd, buf := testCommand()
	if err := generateKeys(cmd, nil); err != nil {
		t.Fatalf("generateKeys() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d:\n%s", len(lines), buf.String())
	}

	vars := make(map[string]string)
	for _, line := range lines {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			t.Fatalf("line %q is not an assignment", line)
		}
		vars[name] = value
	}

	client, ok := vars["CHATRELAY_CLIENT_TOKEN_KEY"]
	if !ok {
		t.Fatalf("missing CHATRELAY_CLIENT_TOKEN_KEY in %v", vars)
	}
	upstream, ok := vars["CHATRELAY_UPSTREAM_TOKEN_KEY"]
	if !ok {
		t.Fatalf("missing CHATRELAY_UPSTREAM_TOKEN_KEY in %v", vars)
	}
	if client == upstream {
		t.Error("client and upstream keys must differ")
	}

	for name, value := range vars {
		key, err := secrets.DecodeKey(value)
		if err != nil {
			t.Errorf("%s does not decode: %v", name, err)
			continue
		}
		if len(key) < secrets.KeyLength {
			t.Errorf("%s is %d bytes, want at least %d", name, len(key), secrets.KeyLength)
		}
	}
}

func TestGenerateKeys_Files(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	keysFlags.output = dir
	defer func() { keysFlags.output = "" }()

	cmd, buf := testCommand()
	if err := generateKeys(cmd, nil); err != nil {
		t.Fatalf("generateKeys() error = %v", err)
	}
	if !strings.Contains(buf.String(), "provider: file") {
		t.Errorf("missing configuration snippet:\n%s", buf.String())
	}

	for _, name := range []string{"client-token-key", "upstream-token-key"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("key file %s: %v", name, err)
		}
		if mode := info.Mode().Perm(); mode != 0600 {
			t.Errorf("%s has permissions %o, want 0600", name, mode)
		}
	}

	fp, err := secrets.NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	defer fp.Close()

	resolver := secrets.NewResolver([]secrets.SecretProvider{fp}, secrets.CacheConfig{})
	keys, err := secrets.LoadSigningKeys(context.Background(), resolver, "client-token-key", "upstream-token-key")
	if err != nil {
		t.Fatalf("LoadSigningKeys() error = %v", err)
	}
	if len(keys.Client) != secrets.KeyLength || len(keys.Upstream) != secrets.KeyLength {
		t.Errorf("unexpected key lengths %d/%d", len(keys.Client), len(keys.Upstream))
	}
}
