package threat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/chatrelay/pkg/limits/ratelimit"
	"mercator-hq/chatrelay/pkg/session"
)

// Indicator names one anomaly contributing to a score.
type Indicator string

const (
	IndicatorIPChange         Indicator = "ip_change"
	IndicatorUserAgentChange  Indicator = "user_agent_change"
	IndicatorRapidSessions    Indicator = "rapid_session_creation"
	IndicatorMessageFrequency Indicator = "high_message_frequency"
	IndicatorLongSession      Indicator = "long_session_duration"
)

// Weights added to the score per indicator.
var weights = map[Indicator]int{
	IndicatorIPChange:         30,
	IndicatorUserAgentChange:  20,
	IndicatorRapidSessions:    40,
	IndicatorMessageFrequency: 25,
	IndicatorLongSession:      15,
}

// Terminator ends sessions. *session.Manager implements it.
type Terminator interface {
	Terminate(ctx context.Context, id, reason string) error
}

// Config tunes the scorer. Zero values select the defaults in parentheses.
type Config struct {
	SuspiciousScore int           // score above which activity is logged (50)
	TerminateScore  int           // score above which the session is ended (75)
	Window          time.Duration // lookback for burst indicators (1h)
	SessionBurst    int           // sessions per IP per window before flagging (5)
	MessageBurst    int           // messages per session per window before flagging (100)
	MaxSessionAge   time.Duration // session age before flagging (48h)
	IdleTTL         time.Duration // profile eviction after inactivity (2h)
	Now             func() time.Time
}

func (c *Config) applyDefaults() {
	if c.SuspiciousScore <= 0 {
		c.SuspiciousScore = 50
	}
	if c.TerminateScore <= 0 {
		c.TerminateScore = 75
	}
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.SessionBurst <= 0 {
		c.SessionBurst = 5
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 100
	}
	if c.MaxSessionAge <= 0 {
		c.MaxSessionAge = 48 * time.Hour
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 2 * time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Observation is what a request reveals about its session.
type Observation struct {
	SessionID string
	CreatedAt time.Time
	IP        string
	UserAgent string
	Message   bool // the request carries a chat message
}

// Assessment is the outcome of scoring one observation.
type Assessment struct {
	Score      int
	Indicators []Indicator
	Suspicious bool
	Terminated bool
}

type profile struct {
	ip        string
	userAgent string
	messages  *ratelimit.SlidingWindow
	lastSeen  time.Time
}

// Scorer accumulates per-session and per-IP behavior and terminates
// sessions whose anomaly score crosses the threshold.
type Scorer struct {
	cfg        Config
	terminator Terminator
	logger     *slog.Logger

	mu        sync.Mutex
	profiles  map[string]*profile
	creations map[string]*ratelimit.SlidingWindow

	done     chan struct{}
	stopOnce sync.Once
}

// NewScorer creates a scorer. terminator may be nil, in which case
// assessments are reported but nothing is terminated.
func NewScorer(cfg Config, terminator Terminator) *Scorer {
	cfg.applyDefaults()
	return &Scorer{
		cfg:        cfg,
		terminator: terminator,
		logger:     slog.Default().With("component", "threat.scorer"),
		profiles:   make(map[string]*profile),
		creations:  make(map[string]*ratelimit.SlidingWindow),
		done:       make(chan struct{}),
	}
}

// SessionCreated records a new session and its baseline IP and user agent.
func (s *Scorer) SessionCreated(sessionID, ip, userAgent string) {
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.creationWindow(ip).Add(now, s.cfg.Window)
	s.profiles[sessionID] = &profile{
		ip:        ip,
		userAgent: userAgent,
		messages:  ratelimit.NewSlidingWindow(),
		lastSeen:  now,
	}
}

// Observe scores a request and terminates the session when the score
// exceeds TerminateScore.
func (s *Scorer) Observe(ctx context.Context, obs Observation) Assessment {
	now := s.cfg.Now()
	a := s.assess(now, obs)

	if a.Suspicious {
		s.logger.WarnContext(ctx, "suspicious session activity",
			"session_id", obs.SessionID,
			"score", a.Score,
			"indicators", a.Indicators,
		)
	}

	if a.Score > s.cfg.TerminateScore {
		s.Forget(obs.SessionID)
		if s.terminator != nil {
			if err := s.terminator.Terminate(ctx, obs.SessionID, session.ReasonAnomalyScore); err != nil {
				s.logger.ErrorContext(ctx, "failed to terminate anomalous session",
					"session_id", obs.SessionID,
					"error", err,
				)
				return a
			}
			a.Terminated = true
		}
	}
	return a
}

func (s *Scorer) assess(now time.Time, obs Observation) Assessment {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[obs.SessionID]
	if !ok {
		// Unknown after a restart or eviction: adopt the current values.
		p = &profile{ip: obs.IP, userAgent: obs.UserAgent, messages: ratelimit.NewSlidingWindow()}
		s.profiles[obs.SessionID] = p
	}
	p.lastSeen = now

	var a Assessment
	add := func(ind Indicator) {
		a.Indicators = append(a.Indicators, ind)
		a.Score += weights[ind]
	}

	if p.ip != "" && obs.IP != p.ip {
		add(IndicatorIPChange)
	}
	if p.userAgent != "" && obs.UserAgent != p.userAgent {
		add(IndicatorUserAgentChange)
	}
	if w, ok := s.creations[obs.IP]; ok && w.Count(now, s.cfg.Window) > s.cfg.SessionBurst {
		add(IndicatorRapidSessions)
	}

	messages := p.messages.Count(now, s.cfg.Window)
	if obs.Message {
		messages = p.messages.Add(now, s.cfg.Window)
	}
	if messages > s.cfg.MessageBurst {
		add(IndicatorMessageFrequency)
	}
	if !obs.CreatedAt.IsZero() && now.Sub(obs.CreatedAt) > s.cfg.MaxSessionAge {
		add(IndicatorLongSession)
	}

	a.Suspicious = a.Score > s.cfg.SuspiciousScore
	return a
}

// Forget drops a session's profile.
func (s *Scorer) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.profiles, sessionID)
	s.mu.Unlock()
}

// creationWindow returns the per-IP creation window. Caller must hold mu.
func (s *Scorer) creationWindow(ip string) *ratelimit.SlidingWindow {
	w, ok := s.creations[ip]
	if !ok {
		w = ratelimit.NewSlidingWindow()
		s.creations[ip] = w
	}
	return w
}

// Cleanup evicts idle profiles and empty creation windows. It returns the
// number of entries removed.
func (s *Scorer) Cleanup() int {
	now := s.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, p := range s.profiles {
		if now.Sub(p.lastSeen) > s.cfg.IdleTTL {
			delete(s.profiles, id)
			removed++
		}
	}
	for ip, w := range s.creations {
		if w.Count(now, s.cfg.Window) == 0 {
			delete(s.creations, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (s *Scorer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// Start runs Cleanup every interval until ctx is cancelled or Stop is called.
func (s *Scorer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// Stop terminates the cleanup loop.
func (s *Scorer) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
