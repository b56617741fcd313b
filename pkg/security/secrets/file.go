package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileProvider loads secrets from one file per secret in a directory, the
// layout produced by Kubernetes secret volumes. Files must be mode 0600 or
// 0400.
//
// With Watch enabled, writes in the directory drop the provider's cache so
// rotated keys are picked up by the next read.
type FileProvider struct {
	BasePath string
	Watch    bool

	mu      sync.RWMutex
	cache   map[string]string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

// NewFileProvider creates a file provider rooted at basePath.
func NewFileProvider(basePath string, watch bool) (*FileProvider, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat base path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}

	p := &FileProvider{
		BasePath: basePath,
		Watch:    watch,
		cache:    make(map[string]string),
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With("component", "secrets.file"),
	}

	if watch {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Add(basePath); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch directory: %w", err)
		}
		p.watcher = watcher
		go p.watchLoop()
	}

	p.logger.Info("file secret provider started", "path", basePath, "watch", watch)
	return p, nil
}

// GetSecret reads <BasePath>/<name>. Surrounding whitespace is trimmed.
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	p.mu.RLock()
	if value, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return value, nil
	}
	p.mu.RUnlock()

	path, err := p.resolve(name)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", name)
		}
		return "", fmt.Errorf("failed to stat secret file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", name)
	}
	if mode := info.Mode().Perm(); mode != 0o600 && mode != 0o400 {
		return "", fmt.Errorf("insecure permissions on %s: %o (expected 0600 or 0400)", path, mode)
	}

	// #nosec G304 - path is confined to BasePath by resolve
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}
	value := strings.TrimSpace(string(data))

	p.mu.Lock()
	p.cache[name] = value
	p.mu.Unlock()

	return value, nil
}

// resolve joins name onto BasePath and rejects directory traversal.
func (p *FileProvider) resolve(name string) (string, error) {
	absBase, err := filepath.Abs(p.BasePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(p.BasePath, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve secret path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid secret path: directory traversal detected")
	}
	return absPath, nil
}

// ListSecrets returns the names of regular files in the directory.
func (p *FileProvider) ListSecrets(context.Context) ([]string, error) {
	entries, err := os.ReadDir(p.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Provider returns "file".
func (p *FileProvider) Provider() string {
	return "file"
}

// Supports reports whether a regular file exists for name.
func (p *FileProvider) Supports(name string) bool {
	path, err := p.resolve(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Refresh drops cached values.
func (p *FileProvider) Refresh(context.Context) error {
	p.mu.Lock()
	p.cache = make(map[string]string)
	p.mu.Unlock()
	return nil
}

// Close stops the watcher. It is safe to call more than once.
func (p *FileProvider) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stopCh)
		if p.watcher != nil {
			err = p.watcher.Close()
		}
	})
	return err
}

func (p *FileProvider) watchLoop() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			p.logger.Debug("secret file changed", "file", filepath.Base(event.Name), "op", event.Op.String())
			_ = p.Refresh(context.Background())

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("secret watcher error", "error", err)

		case <-p.stopCh:
			return
		}
	}
}
