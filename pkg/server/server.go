package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/limits"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/security/auth"
	"mercator-hq/chatrelay/pkg/security/threat"
	"mercator-hq/chatrelay/pkg/security/tls"
	"mercator-hq/chatrelay/pkg/security/validation"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/telemetry"
	"mercator-hq/chatrelay/pkg/telemetry/health"
	"mercator-hq/chatrelay/pkg/upstream"
)

// scorerCleanupInterval is how often idle anomaly profiles are evicted.
const scorerCleanupInterval = 5 * time.Minute

// Option configures a Server.
type Option func(*options)

type options struct {
	keys       *session.Keys
	configPath string
	version    string
	commit     string
	buildTime  string
}

// WithSigningKeys uses keys instead of resolving them from the configured
// secret provider.
func WithSigningKeys(keys session.Keys) Option {
	return func(o *options) { o.keys = &keys }
}

// WithConfigPath enables hot reload of the configuration file at path.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithVersion sets the build information served on /version.
func WithVersion(version, commit, buildTime string) Option {
	return func(o *options) {
		o.version = version
		o.commit = commit
		o.buildTime = buildTime
	}
}

// Server is the chat relay HTTP server. It owns every component of the
// relay and their background loops.
type Server struct {
	cfg       *config.Config
	opts      options
	telemetry *telemetry.Telemetry

	origins   *validation.DomainPolicy
	operators *auth.KeyValidator
	store     session.Store
	sessions  *session.Manager
	pruner    *session.Pruner
	client    *upstream.Client
	prober    *upstream.Prober
	breaker   *breaker.Breaker
	relay     *relay.Relay
	limits    *limits.Manager
	scorer    *threat.Scorer
	checker   *health.Checker
	handler   http.Handler

	httpServer *http.Server
	certs      *tls.Reloader
	watcher    *config.Watcher
	addr       net.Addr

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	logger       *slog.Logger
}

// New builds every relay component from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		cfg:          cfg,
		opts:         o,
		telemetry:    tel,
		origins:      validation.NewDomainPolicy(cfg.Session.AllowedOrigins),
		operators:    auth.NewKeyValidator(operatorKeys(cfg.Security.Operator)),
		shutdownChan: make(chan struct{}),
		logger:       slog.Default().With("component", "server"),
	}
	collector := tel.Metrics()

	keys := session.Keys{}
	if o.keys != nil {
		keys = *o.keys
	} else {
		var err error
		if keys, err = loadKeys(ctx, cfg.Security.Keys); err != nil {
			return nil, fmt.Errorf("failed to load signing keys: %w", err)
		}
	}

	store, err := newStore(cfg.Session.Store)
	if err != nil {
		return nil, err
	}
	s.store = store

	s.sessions, err = session.NewManager(session.Config{
		TTL:              cfg.Session.TTL,
		UpstreamTokenTTL: cfg.Session.UpstreamTokenTTL,
		Issuer:           cfg.Session.Issuer,
		MaxSoftDrift:     cfg.Session.Fingerprint.MaxSoftDrift,
		Keys:             keys,
		Origins:          s.origins,
		Store:            store,
		OnTransition:     collector.RecordSessionTransition,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}
	s.pruner = session.NewPruner(store, cfg.Session.Store.PruneSchedule, cfg.Session.Store.Retention)

	s.client, err = upstream.NewClient(upstream.Config{
		Name:              cfg.Upstream.Name,
		WebhookURL:        cfg.Upstream.WebhookURL,
		APIKey:            cfg.Upstream.APIKey,
		ConnectTimeout:    cfg.Upstream.ConnectTimeout,
		RequestsPerSecond: cfg.Upstream.RequestsPerSecond,
		Burst:             cfg.Upstream.Burst,
		HealthURL:         cfg.Upstream.HealthURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	s.prober = upstream.NewProber(s.client, cfg.Upstream.HealthInterval)

	s.breaker = breaker.New(breaker.Config{
		Name:             cfg.Upstream.Name,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		OnStateChange:    collector.RecordBreakerState,
	})

	s.relay, err = relay.New(relay.Config{
		Upstream:       relay.FromClient(s.client),
		Breaker:        s.breaker,
		Tokens:         s.sessions,
		Recorder:       collector,
		Deadline:       cfg.Upstream.Deadline,
		MaxLineBytes:   cfg.Upstream.MaxLineBytes,
		MaxConnections: cfg.Relay.MaxConnections,
		IdleTimeout:    cfg.Relay.IdleTimeout,
		PruneInterval:  cfg.Relay.PruneInterval,
		PendingTTL:     cfg.Relay.PendingTTL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	s.limits = limits.NewManager(cfg.Limits, limits.WithRecorder(collector))

	if cfg.Security.Threat.Enabled {
		s.scorer = threat.NewScorer(threat.Config{
			SuspiciousScore: cfg.Security.Threat.SuspiciousScore,
			TerminateScore:  cfg.Security.Threat.TerminateScore,
		}, s.sessions)
	}

	s.checker = health.New(0)
	s.registerChecks(s.checker)
	s.registerGauges()
	s.handler = s.routes()

	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the background loops, serves HTTP and blocks until ctx is
// cancelled, a shutdown signal arrives, Shutdown is called, or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	cfg := s.cfg.Server
	// WriteTimeout stays zero: streams outlive any fixed write timeout and
	// the non-streaming routes carry their own timeout middleware.
	s.httpServer = &http.Server{
		Handler:        s.handler,
		ReadTimeout:    cfg.ReadTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	tlsEnabled := s.cfg.Security.TLS.Enabled
	if tlsEnabled {
		certs, err := tls.NewReloader(s.cfg.Security.TLS.CertFile, s.cfg.Security.TLS.KeyFile)
		if err != nil {
			s.setStopped()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		if err := certs.Watch(); err != nil {
			s.logger.Warn("certificate hot reload disabled", "error", err)
		}
		s.certs = certs
		s.httpServer.TLSConfig = tls.ServerConfig(certs)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		s.setStopped()
		if s.certs != nil {
			s.certs.Stop()
		}
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	bgCtx, cancelBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBackground()
	if err := s.startBackground(bgCtx); err != nil {
		_ = ln.Close()
		s.setStopped()
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting chat relay",
			"address", ln.Addr().String(),
			"tls_enabled", tlsEnabled,
			"upstream", s.cfg.Upstream.Name,
			"store", s.cfg.Session.Store.Backend,
		)

		var err error
		if tlsEnabled {
			err = s.httpServer.ServeTLS(ln, "", "")
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
		return s.Shutdown(context.Background())
	}
}

// startBackground starts the sweeps, the probe and the config watcher.
func (s *Server) startBackground(ctx context.Context) error {
	if err := s.pruner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session pruner: %w", err)
	}
	s.relay.Start(ctx)
	s.limits.Start(ctx)
	s.prober.Start(ctx)
	if s.scorer != nil {
		s.scorer.Start(ctx, scorerCleanupInterval)
	}

	if s.opts.configPath != "" {
		w, err := config.NewWatcher(s.opts.configPath, s.logger)
		if err != nil {
			s.logger.Warn("config hot reload disabled", "error", err)
			return nil
		}
		s.watcher = w
		go w.Watch(ctx, s.applyConfig)
	}
	return nil
}

// applyConfig applies the settings that can change without a restart:
// the origin allow-list, the operator keys, the rate limit rules, the relay
// connection cap and the log level.
func (s *Server) applyConfig(cfg *config.Config) {
	s.origins.SetAllowed(cfg.Session.AllowedOrigins)
	s.operators.Replace(operatorKeys(cfg.Security.Operator))
	s.limits.Reload(cfg.Limits)
	s.relay.SetMaxConnections(cfg.Relay.MaxConnections)
	if err := s.telemetry.Apply(&cfg.Telemetry); err != nil {
		s.logger.Error("failed to apply telemetry settings", "error", err)
	}
	s.logger.Info("applied reloaded configuration",
		"allowed_origins", len(cfg.Session.AllowedOrigins),
		"limits_enabled", cfg.Limits.Enabled,
		"max_connections", cfg.Relay.MaxConnections,
		"operator_keys", s.operators.Len(),
	)
}

// RequestShutdown asks a running Start to return.
func (s *Server) RequestShutdown() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown drains in-flight requests, stops the background loops and
// closes the session store. It runs once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.cfg.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		if s.watcher != nil {
			_ = s.watcher.Stop()
		}
		if s.certs != nil {
			s.certs.Stop()
		}
		if s.scorer != nil {
			s.scorer.Stop()
		}
		s.prober.Stop()
		s.limits.Stop()
		s.relay.Stop()
		s.pruner.Stop()
		s.client.CloseIdleConnections()

		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close session store", "error", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
		if err := s.telemetry.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("failed to flush traces", "error", err)
		}

		s.setStopped()
		s.logger.Info("chat relay stopped")
	})

	return shutdownErr
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// IsRunning returns true while Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address once Start is serving.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
