package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSecret(t *testing.T, dir, name, value string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), mode); err != nil {
		t.Fatalf("failed to write secret: %v", err)
	}
	// WriteFile is subject to umask.
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("failed to chmod secret: %v", err)
	}
}

func TestFileProvider_GetSecret(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "client-token-key", "  secret-value\n", 0o600)

	provider, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}
	defer provider.Close()

	value, err := provider.GetSecret(context.Background(), "client-token-key")
	if err != nil {
		t.Fatalf("GetSecret failed: %v", err)
	}
	if value != "secret-value" {
		t.Errorf("expected trimmed value, got %q", value)
	}
	if !provider.Supports("client-token-key") {
		t.Error("expected Supports to be true")
	}
	if provider.Supports("missing") {
		t.Error("expected Supports to be false for missing file")
	}
}

func TestFileProvider_RejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "loose", "value", 0o644)

	provider, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}

	_, err = provider.GetSecret(context.Background(), "loose")
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("expected insecure permissions error, got %v", err)
	}
}

func TestFileProvider_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	provider, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}

	for _, name := range []string{"../etc/passwd", "..", "."} {
		if _, err := provider.GetSecret(context.Background(), name); err == nil {
			t.Errorf("expected error for %q", name)
		}
	}
}

func TestFileProvider_BadBasePath(t *testing.T) {
	if _, err := NewFileProvider(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Error("expected error for missing directory")
	}

	dir := t.TempDir()
	writeSecret(t, dir, "file", "x", 0o600)
	if _, err := NewFileProvider(filepath.Join(dir, "file"), false); err == nil {
		t.Error("expected error for non-directory base path")
	}
}

func TestFileProvider_WatchPicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "key", "old", 0o600)

	provider, err := NewFileProvider(dir, true)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}
	defer provider.Close()

	if v, _ := provider.GetSecret(context.Background(), "key"); v != "old" {
		t.Fatalf("expected old value, got %q", v)
	}

	writeSecret(t, dir, "key", "new", 0o600)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := provider.GetSecret(context.Background(), "key"); v == "new" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("rotated secret was not picked up")
}

func TestFileProvider_ListSecrets(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "a", "1", 0o600)
	writeSecret(t, dir, "b", "2", 0o400)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}

	provider, err := NewFileProvider(dir, false)
	if err != nil {
		t.Fatalf("NewFileProvider failed: %v", err)
	}

	names, err := provider.ListSecrets(context.Background())
	if err != nil {
		t.Fatalf("ListSecrets failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 secrets, got %v", names)
	}
}
