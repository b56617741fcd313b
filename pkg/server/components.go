package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/security/auth"
	"mercator-hq/chatrelay/pkg/security/secrets"
	"mercator-hq/chatrelay/pkg/security/threat"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/telemetry/health"
)

// keyLoadTimeout bounds resolving the signing keys at startup.
const keyLoadTimeout = 10 * time.Second

// newStore opens the configured session store backend.
func newStore(cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "sqlite":
		store, err := session.NewSQLiteStore(session.SQLiteStoreConfig{
			Path:               cfg.SQLite.Path,
			BusyTimeout:        cfg.SQLite.BusyTimeout,
			CheckpointInterval: cfg.SQLite.CheckpointInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session store backend %q", cfg.Backend)
	}
}

// loadKeys resolves both token signing keys from the configured provider.
// The file provider falls back to the environment.
func loadKeys(ctx context.Context, cfg config.KeysConfig) (session.Keys, error) {
	ctx, cancel := context.WithTimeout(ctx, keyLoadTimeout)
	defer cancel()

	env := secrets.NewEnvProvider(cfg.EnvPrefix)
	providers := []secrets.SecretProvider{env}

	switch cfg.Provider {
	case "", "env":
	case "file":
		fp, err := secrets.NewFileProvider(cfg.Dir, false)
		if err != nil {
			return session.Keys{}, fmt.Errorf("failed to open key directory: %w", err)
		}
		defer fp.Close()
		providers = []secrets.SecretProvider{fp, env}
	default:
		return session.Keys{}, fmt.Errorf("unknown key provider %q", cfg.Provider)
	}

	resolver := secrets.NewResolver(providers, secrets.CacheConfig{})
	keys, err := secrets.LoadSigningKeys(ctx, resolver, cfg.ClientKey, cfg.UpstreamKey)
	if err != nil {
		return session.Keys{}, err
	}
	return session.Keys{Client: keys.Client, Upstream: keys.Upstream}, nil
}

// operatorKeys converts the configured operator keys.
func operatorKeys(cfg config.OperatorConfig) []auth.Key {
	keys := make([]auth.Key, 0, len(cfg.Keys))
	for _, k := range cfg.Keys {
		keys = append(keys, auth.Key{Name: k.Name, Secret: k.Key, Enabled: !k.Disabled})
	}
	return keys
}

// assessmentRecorder counts assessments that crossed a threshold.
type assessmentRecorder interface {
	RecordAssessment(outcome string)
}

// observedScorer reports scorer verdicts to the metrics collector.
type observedScorer struct {
	*threat.Scorer
	rec assessmentRecorder
}

func (s observedScorer) Observe(ctx context.Context, obs threat.Observation) threat.Assessment {
	a := s.Scorer.Observe(ctx, obs)
	switch {
	case a.Terminated:
		s.rec.RecordAssessment("terminated")
	case a.Suspicious:
		s.rec.RecordAssessment("suspicious")
	}
	return a
}

// registerChecks wires the readiness checks. Only the session store is
// critical.
func (s *Server) registerChecks(checker *health.Checker) {
	checker.RegisterCheck("session_store", s.store.Ping)
	checker.RegisterCheck("upstream", func(context.Context) error {
		if !s.prober.Healthy() {
			st := s.prober.Status()
			return fmt.Errorf("upstream probe failing (%d consecutive): %s", st.ConsecutiveFailures, st.LastError)
		}
		return nil
	}, health.NonCritical())
	checker.RegisterCheck("circuit_breaker", func(context.Context) error {
		if s.breaker.State() == breaker.StateOpen {
			return errors.New("circuit breaker is open")
		}
		return nil
	}, health.NonCritical())
}

// registerGauges exports the point-in-time counters sampled at scrape time.
func (s *Server) registerGauges() {
	m := s.telemetry.Metrics()
	m.RegisterGaugeFunc("relay", "active_connections", "Relay tasks currently streaming", func() float64 {
		return float64(s.relay.Active())
	})
	m.RegisterGaugeFunc("relay", "pending_exchanges", "Staged messages waiting for their stream", func() float64 {
		return float64(s.relay.PendingCount())
	})
	m.RegisterGaugeFunc("ratelimit", "counters", "Live sliding window counters", func() float64 {
		return float64(s.limits.Len())
	})
	m.RegisterGaugeFunc("upstream", "healthy", "Upstream probe verdict (1 healthy, 0 failing)", func() float64 {
		if s.prober.Healthy() {
			return 1
		}
		return 0
	})
}
