package types

import "time"

// CreateSessionResponse is returned by POST /session/create. The client
// token is also set as the session cookie.
type CreateSessionResponse struct {
	SessionID         string    `json:"session_id"`
	ClientToken       string    `json:"client_token"`
	ExpiresAt         time.Time `json:"expires_at"`
	UpstreamToken     string    `json:"upstream_token"`
	UpstreamExpiresAt time.Time `json:"upstream_expires_at"`
	OriginDomain      string    `json:"origin_domain"`
}

// ValidateSessionResponse is returned by GET /session/validate.
type ValidateSessionResponse struct {
	Valid        bool      `json:"valid"`
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	OriginDomain string    `json:"origin_domain"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// DestroySessionResponse is returned by DELETE /session/destroy.
type DestroySessionResponse struct {
	Terminated bool   `json:"terminated"`
	SessionID  string `json:"session_id,omitempty"`
}

// MessageAcceptedResponse is returned with 202 when a message is staged.
type MessageAcceptedResponse struct {
	ExchangeID string    `json:"exchange_id"`
	StreamURL  string    `json:"stream_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// StatsResponse is returned by GET /chat/stats.
type StatsResponse struct {
	Connections    ConnectionStats `json:"connections"`
	PendingCount   int             `json:"pending_messages"`
	BreakerState   string          `json:"breaker_state"`
	UpstreamHealth bool            `json:"upstream_healthy"`
	Sessions       map[string]int  `json:"sessions,omitempty"`
}

// ConnectionRecord is one active relay task, as listed by GET /chat/stats.
type ConnectionRecord struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ClientIP       string    `json:"client_ip,omitempty"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	BytesForwarded int64     `json:"bytes_forwarded"`
	EventCount     int64     `json:"event_count"`
}

// ConnectionStats mirrors the relay's connection tracker.
type ConnectionStats struct {
	Active         int            `json:"active"`
	Limit          int64          `json:"limit"`
	PerIP          map[string]int `json:"per_ip,omitempty"`
	BytesForwarded int64          `json:"bytes_forwarded"`
	EventCount     int64          `json:"event_count"`
	OldestStart    *time.Time     `json:"oldest_start,omitempty"`

	Records []ConnectionRecord `json:"records"`
}
