package types

import "strings"

// FingerprintMaterial is the client-supplied part of the session
// fingerprint. The client IP is never taken from the body.
type FingerprintMaterial struct {
	// UserAgent is used only when the User-Agent header is missing.
	UserAgent string `json:"user_agent,omitempty"`

	// AcceptLanguage falls back to the Accept-Language header.
	AcceptLanguage string `json:"accept_language,omitempty"`

	// Screen is the viewport resolution as "WxH".
	Screen string `json:"screen,omitempty"`
}

// CreateSessionRequest is the body of POST /session/create.
type CreateSessionRequest struct {
	// OriginDomain is the domain embedding the widget. The Origin header is
	// used when it is empty.
	OriginDomain string `json:"origin_domain"`

	// FingerprintMaterial is optional; headers supply the rest.
	FingerprintMaterial FingerprintMaterial `json:"fingerprint_material"`
}

// ChatMessageRequest is the body of POST /chat/message.
type ChatMessageRequest struct {
	// Message is the user's chat message.
	Message string `json:"message"`

	// Stream relays the response inline as NDJSON. When false the message
	// is staged for GET /chat/stream/{session_id}.
	Stream bool `json:"stream,omitempty"`

	// Screen refreshes the fingerprint's screen field for this request.
	Screen string `json:"screen,omitempty"`
}

// Validate checks required fields.
func (r *ChatMessageRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	return nil
}

// ValidationError is a request field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}
