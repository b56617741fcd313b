package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Termination reasons recorded on sessions.
const (
	ReasonClientRequest       = "client_request"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonAnomalyScore        = "anomaly_score"
	ReasonExpired             = "expired"
)

// idBytes is the amount of randomness in a session id.
const idBytes = 32

// OriginPolicy decides whether an embedding domain may create sessions.
type OriginPolicy interface {
	Allowed(domain string) bool
}

// Config configures a Manager.
type Config struct {
	// TTL is the session and client token lifetime.
	TTL time.Duration

	// UpstreamTokenTTL is the upstream token lifetime. It is capped by the
	// remaining session lifetime at issue time.
	UpstreamTokenTTL time.Duration

	// Issuer is the JWT "iss" claim for both token kinds.
	Issuer string

	// MaxSoftDrift is the number of soft fingerprint fields allowed to change.
	MaxSoftDrift int

	Keys    Keys
	Origins OriginPolicy
	Store   Store

	// OnTransition is called after every successful state change.
	OnTransition func(from, to State, reason string)

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Manager owns session state. Sessions are created, validated, and
// terminated only through it.
type Manager struct {
	ttl          time.Duration
	upstreamTTL  time.Duration
	maxSoftDrift int
	origins      OriginPolicy
	store        Store
	client       *clientSigner
	upstream     *upstreamSigner
	onTransition func(from, to State, reason string)
	now          func() time.Time
	logger       *slog.Logger
}

// NewManager validates the configuration and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Keys.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Origins == nil {
		return nil, errors.New("origin policy is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if cfg.UpstreamTokenTTL <= 0 || cfg.UpstreamTokenTTL > cfg.TTL {
		return nil, fmt.Errorf("upstream token ttl must be in (0, %s]", cfg.TTL)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "chatrelay"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		ttl:          cfg.TTL,
		upstreamTTL:  cfg.UpstreamTokenTTL,
		maxSoftDrift: cfg.MaxSoftDrift,
		origins:      cfg.Origins,
		store:        cfg.Store,
		client:       &clientSigner{key: cfg.Keys.Client, issuer: cfg.Issuer, now: cfg.Now},
		upstream:     &upstreamSigner{key: cfg.Keys.Upstream, issuer: cfg.Issuer, now: cfg.Now},
		onTransition: cfg.OnTransition,
		now:          cfg.Now,
		logger:       slog.Default().With("component", "session.manager"),
	}, nil
}

// Create starts a session for an allow-listed origin and issues its tokens.
// Timestamps are whole seconds so the stored expiry and the token expiry agree.
func (m *Manager) Create(ctx context.Context, origin string, material Material) (*Session, TokenPair, error) {
	if origin == "" || !m.origins.Allowed(origin) {
		return nil, TokenPair{}, fmt.Errorf("%w: %q", ErrOriginRejected, origin)
	}

	id, err := newSessionID()
	if err != nil {
		return nil, TokenPair{}, err
	}

	now := m.now().UTC().Truncate(time.Second)
	sess := &Session{
		ID:              id,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
		OriginDomain:    origin,
		FingerprintHash: HashMaterial(material),
		State:           StateCreated,
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, TokenPair{}, fmt.Errorf("failed to store session: %w", err)
	}

	clientTok, err := m.client.sign(sess)
	if err != nil {
		return nil, TokenPair{}, err
	}
	upstreamTok, upstreamExp, err := m.IssueUpstreamToken(sess, "")
	if err != nil {
		return nil, TokenPair{}, err
	}

	m.logger.InfoContext(ctx, "session created",
		"session_id", sess.ID,
		"origin", origin,
		"expires_at", sess.ExpiresAt,
	)

	return sess.Clone(), TokenPair{
		Client:            clientTok,
		ClientExpiresAt:   sess.ExpiresAt,
		Upstream:          upstreamTok,
		UpstreamExpiresAt: upstreamExp,
	}, nil
}

// Validate authenticates a client token against freshly presented
// fingerprint material. Expiry is evaluated here rather than by a sweeper.
// A fingerprint outside tolerance terminates the session and returns a
// *MismatchError; every later call with the same token fails with
// ErrInvalidSession.
func (m *Manager) Validate(ctx context.Context, tok ClientToken, material Material) (*Session, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: missing token", ErrInvalidSession)
	}

	claims, err := m.client.verify(tok)
	if err != nil {
		if claims != nil && errors.Is(err, jwt.ErrTokenExpired) {
			m.finish(ctx, claims.Subject, StateExpired, ReasonExpired)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	sess, err := m.store.Get(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown session", ErrInvalidSession)
	}
	if err != nil {
		return nil, err
	}

	if sess.State.Final() {
		return nil, fmt.Errorf("%w: session %s", ErrInvalidSession, sess.State)
	}
	if sess.ExpiredAt(m.now()) {
		m.finish(ctx, sess.ID, StateExpired, ReasonExpired)
		return nil, fmt.Errorf("%w: session expired", ErrInvalidSession)
	}
	if claims.FingerprintHash != sess.FingerprintHash || claims.Origin != sess.OriginDomain {
		return nil, fmt.Errorf("%w: token does not match session", ErrInvalidSession)
	}

	sim := Compare(claims.FingerprintHash, HashMaterial(material))
	if !sim.Acceptable(m.maxSoftDrift) {
		m.finish(ctx, sess.ID, StateTerminated, ReasonFingerprintMismatch)
		m.logger.WarnContext(ctx, "fingerprint mismatch, session terminated",
			"session_id", sess.ID,
			"hard_fields", sim.HardMismatches,
			"soft_drift", sim.SoftDrift,
		)
		return nil, &MismatchError{
			SessionID:  sess.ID,
			HardFields: sim.HardMismatches,
			SoftDrift:  sim.SoftDrift,
		}
	}

	if sess.State == StateCreated {
		updated, err := m.store.Transition(ctx, sess.ID, StateCreated, StateActive, m.now(), "")
		switch {
		case err == nil:
			m.notify(StateCreated, StateActive, "")
		case errors.Is(err, ErrStateConflict):
			// Another request activated or ended it first.
			if updated == nil || updated.State.Final() {
				return nil, fmt.Errorf("%w: session ended concurrently", ErrInvalidSession)
			}
		default:
			return nil, err
		}
		sess = updated
	}

	return sess, nil
}

// IssueUpstreamToken mints a fresh short-lived credential for one upstream
// call. Its expiry never exceeds the session expiry.
func (m *Manager) IssueUpstreamToken(sess *Session, exchangeID string) (UpstreamToken, time.Time, error) {
	if sess == nil {
		return "", time.Time{}, fmt.Errorf("%w: nil session", ErrInvalidSession)
	}

	now := m.now()
	if sess.State.Final() || sess.ExpiredAt(now) {
		return "", time.Time{}, fmt.Errorf("%w: session %s is not usable", ErrInvalidSession, sess.ID)
	}

	exp := now.Add(m.upstreamTTL)
	if exp.After(sess.ExpiresAt) {
		exp = sess.ExpiresAt
	}
	exp = exp.Truncate(time.Second)
	if !exp.After(now) {
		return "", time.Time{}, fmt.Errorf("%w: session %s expires too soon", ErrInvalidSession, sess.ID)
	}

	tok, err := m.upstream.sign(sess, exchangeID, now, exp)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// Terminate ends a session. It is idempotent; unknown ids are not an error.
func (m *Manager) Terminate(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = ReasonClientRequest
	}
	_, err := m.finish(ctx, id, StateTerminated, reason)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Get returns the stored session without authenticating anything.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Stats returns session counts per state.
func (m *Manager) Stats(ctx context.Context) (map[State]int, error) {
	return m.store.Count(ctx)
}

// finish moves a session into a final state. A session that is already
// final is returned unchanged.
func (m *Manager) finish(ctx context.Context, id string, to State, reason string) (*Session, error) {
	// States only move forward, so a conflict can repeat at most twice.
	for range 3 {
		sess, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.State.Final() {
			return sess, nil
		}
		if !canTransition(sess.State, to) {
			return nil, fmt.Errorf("invalid transition %s -> %s", sess.State, to)
		}

		updated, err := m.store.Transition(ctx, id, sess.State, to, m.now(), reason)
		if errors.Is(err, ErrStateConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		m.logger.InfoContext(ctx, "session ended",
			"session_id", id,
			"state", to,
			"reason", reason,
		)
		m.notify(sess.State, to, reason)
		return updated, nil
	}
	return nil, ErrStateConflict
}

func (m *Manager) notify(from, to State, reason string) {
	if m.onTransition != nil {
		m.onTransition(from, to, reason)
	}
}

// newSessionID returns 32 random bytes, base64url encoded without padding.
func newSessionID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
