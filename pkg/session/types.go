package session

import (
	"errors"
	"fmt"
	"time"
)

// Authentication errors. Handlers map them to HTTP statuses with errors.Is.
var (
	// ErrOriginRejected means the embedding domain is not allow-listed.
	ErrOriginRejected = errors.New("origin rejected")

	// ErrInvalidSession covers bad signatures, expired tokens, and
	// terminated, expired, or unknown sessions.
	ErrInvalidSession = errors.New("invalid session")

	// ErrFingerprintMismatch means the presented client no longer resembles
	// the one the session was created for. The session is terminated.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")

	// ErrNotFound is returned by stores for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrStateConflict is returned by stores when a compare-and-swap lost a race.
	ErrStateConflict = errors.New("session state changed concurrently")
)

// State is the lifecycle state of a session.
type State string

const (
	StateCreated    State = "created"
	StateActive     State = "active"
	StateTerminated State = "terminated"
	StateExpired    State = "expired"
)

// Final reports whether no further transitions are possible.
func (s State) Final() bool {
	return s == StateTerminated || s == StateExpired
}

// canTransition encodes the lifecycle:
//
//	created -> active -> terminated | expired
//	created -> terminated | expired
func canTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateActive || to == StateTerminated || to == StateExpired
	case StateActive:
		return to == StateTerminated || to == StateExpired
	default:
		return false
	}
}

// Session is the server-side record of one widget conversation.
// The fingerprint hash is fixed at creation.
type Session struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	OriginDomain    string    `json:"origin_domain"`
	FingerprintHash string    `json:"-"`
	State           State     `json:"state"`

	// EndedAt is set when the session reaches a final state.
	EndedAt time.Time `json:"ended_at,omitempty"`

	// EndReason records why the session was terminated.
	EndReason string `json:"end_reason,omitempty"`
}

// Clone returns a copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ExpiredAt reports whether the session lifetime is over at now.
// A session is valid at any instant strictly before ExpiresAt.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Remaining returns the lifetime left at now, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	d := s.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// MismatchError explains which fingerprint fields failed the similarity check.
type MismatchError struct {
	SessionID  string
	HardFields []string
	SoftDrift  int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("fingerprint mismatch for session %s (hard=%v soft_drift=%d)",
		e.SessionID, e.HardFields, e.SoftDrift)
}

// Unwrap returns ErrFingerprintMismatch.
func (e *MismatchError) Unwrap() error {
	return ErrFingerprintMismatch
}
