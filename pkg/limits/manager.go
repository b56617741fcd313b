package limits

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/limits/ratelimit"
)

// Rules are the sliding window rules per scope.
type Rules struct {
	Enabled       bool
	IP            ratelimit.Rule
	Session       ratelimit.Rule
	Domain        ratelimit.Rule
	SessionCreate ratelimit.Rule
}

// RulesFromConfig converts the limits configuration section.
func RulesFromConfig(cfg config.LimitsConfig) Rules {
	rule := func(rc config.RuleConfig) ratelimit.Rule {
		return ratelimit.Rule{Limit: rc.Limit, Window: rc.Window}
	}
	return Rules{
		Enabled:       cfg.Enabled,
		IP:            rule(cfg.IP),
		Session:       rule(cfg.Session),
		Domain:        rule(cfg.Domain),
		SessionCreate: rule(cfg.SessionCreate),
	}
}

// Recorder observes denied requests.
type Recorder interface {
	RecordRateLimited(scope string)
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder reports denials to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithLimiter replaces the underlying limiter. Intended for tests that
// need a fake clock.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// Manager applies the configured rules to incoming requests.
type Manager struct {
	limiter  *ratelimit.Limiter
	rules    atomic.Pointer[Rules]
	recorder Recorder
	logger   *slog.Logger
}

// NewManager creates a manager for cfg.
func NewManager(cfg config.LimitsConfig, opts ...Option) *Manager {
	m := &Manager{logger: slog.Default().With("component", "limits")}
	for _, opt := range opts {
		opt(m)
	}
	if m.limiter == nil {
		var lopts []ratelimit.Option
		if cfg.CleanupInterval > 0 {
			lopts = append(lopts, ratelimit.WithCleanupInterval(cfg.CleanupInterval))
		}
		m.limiter = ratelimit.NewLimiter(lopts...)
	}
	rules := RulesFromConfig(cfg)
	m.rules.Store(&rules)
	return m
}

// Rules returns the rules currently in force.
func (m *Manager) Rules() Rules {
	return *m.rules.Load()
}

// Reload replaces the rules. Existing counters are kept.
func (m *Manager) Reload(cfg config.LimitsConfig) {
	rules := RulesFromConfig(cfg)
	m.rules.Store(&rules)
	m.logger.Info("rate limit rules reloaded",
		"enabled", rules.Enabled,
		"ip", rules.IP.Limit,
		"session", rules.Session.Limit,
		"domain", rules.Domain.Limit,
		"session_create", rules.SessionCreate.Limit,
	)
}

// CheckCreate admits a session creation from ip for origin. Creation
// counts against the IP and domain scopes plus its own per-IP budget.
func (m *Manager) CheckCreate(ip, origin string) (ratelimit.CheckResult, error) {
	r := m.rules.Load()
	if !r.Enabled {
		return ratelimit.CheckResult{Allowed: true}, nil
	}
	return m.check(
		ratelimit.Check{Scope: ratelimit.ScopeSessionCreate, ID: ip, Rule: r.SessionCreate},
		ratelimit.Check{Scope: ratelimit.ScopeIP, ID: ip, Rule: r.IP},
		ratelimit.Check{Scope: ratelimit.ScopeDomain, ID: origin, Rule: r.Domain},
	)
}

// CheckMessage admits a chat message. The IP, session and origin domain
// scopes are evaluated together; any denial rejects the message.
func (m *Manager) CheckMessage(ip, sessionID, origin string) (ratelimit.CheckResult, error) {
	r := m.rules.Load()
	if !r.Enabled {
		return ratelimit.CheckResult{Allowed: true}, nil
	}
	return m.check(
		ratelimit.Check{Scope: ratelimit.ScopeIP, ID: ip, Rule: r.IP},
		ratelimit.Check{Scope: ratelimit.ScopeSession, ID: sessionID, Rule: r.Session},
		ratelimit.Check{Scope: ratelimit.ScopeDomain, ID: origin, Rule: r.Domain},
	)
}

// CheckIP admits a request that is identified only by its client address.
func (m *Manager) CheckIP(ip string) (ratelimit.CheckResult, error) {
	r := m.rules.Load()
	if !r.Enabled {
		return ratelimit.CheckResult{Allowed: true}, nil
	}
	return m.check(ratelimit.Check{Scope: ratelimit.ScopeIP, ID: ip, Rule: r.IP})
}

func (m *Manager) check(checks ...ratelimit.Check) (ratelimit.CheckResult, error) {
	// Empty ids would merge unrelated callers into one counter.
	active := checks[:0]
	for _, c := range checks {
		if c.ID != "" {
			active = append(active, c)
		}
	}

	res, err := m.limiter.Check(active...)
	if err != nil {
		var limitErr *ratelimit.LimitError
		if errors.As(err, &limitErr) && m.recorder != nil {
			m.recorder.RecordRateLimited(string(limitErr.Result.Scope))
		}
		m.logger.Debug("rate limited",
			"scope", res.Scope,
			"retry_after", res.RetryAfter,
		)
	}
	return res, err
}

// Len returns the number of live counters.
func (m *Manager) Len() int {
	return m.limiter.Len()
}

// Start runs the idle counter cleanup until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.limiter.Start(ctx)
}

// Stop ends the cleanup loop.
func (m *Manager) Stop() {
	m.limiter.Stop()
}
