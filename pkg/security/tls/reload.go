package tls

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce is how long the reloader waits for a renewal to finish writing
// both files.
const debounce = 500 * time.Millisecond

// Reloader holds the server certificate and swaps it when the certificate
// or key file changes. The parent directories are watched so renewals that
// replace files by rename (certbot, Kubernetes secret mounts) are seen.
type Reloader struct {
	certFile string
	keyFile  string
	now      func() time.Time

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher  *fsnotify.Watcher
	timerMu  sync.Mutex
	timer    *time.Timer
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

// NewReloader loads the key pair and fails if it is unusable.
func NewReloader(certFile, keyFile string) (*Reloader, error) {
	r := &Reloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "tls"),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the key pair from disk. On failure the previous
// certificate stays in service.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	leaf, err := ValidateCertificate(&cert, r.now())
	if err != nil {
		return err
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	days, warning := CheckCertificateExpiration(leaf, r.now())
	if warning != "" {
		r.logger.Warn("certificate expiring soon",
			"subject", leaf.Subject.CommonName,
			"expires_in_days", days,
		)
	} else {
		r.logger.Info("certificate loaded",
			"subject", leaf.Subject.CommonName,
			"issuer", leaf.Issuer.CommonName,
			"expires_at", leaf.NotAfter.Format(time.RFC3339),
		)
	}
	return nil
}

// Certificate returns the certificate in service.
func (r *Reloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.Certificate(), nil
}

// Watch starts reloading on file changes until Stop is called.
func (r *Reloader) Watch() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to watch %q: %w", dir, err)
		}
	}
	r.watcher = fw

	go r.loop()
	return nil
}

func (r *Reloader) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(ev.Name)
			if name != r.certFile && name != r.keyFile {
				continue
			}
			if ev.Op&fsnotify.Chmod == fsnotify.Chmod {
				continue
			}
			r.schedule()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("certificate watcher error", "error", err)
		}
	}
}

func (r *Reloader) schedule() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(debounce, func() {
		if err := r.Reload(); err != nil {
			r.logger.Error("certificate reload failed, keeping previous certificate", "error", err)
		}
	})
}

// Stop ends watching. It is safe to call without Watch and more than once.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		r.timerMu.Lock()
		if r.timer != nil {
			r.timer.Stop()
		}
		r.timerMu.Unlock()
		if r.watcher != nil {
			_ = r.watcher.Close()
			<-r.done
		}
	})
}
