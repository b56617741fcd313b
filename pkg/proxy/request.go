package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"

	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/session"
)

const (
	// DefaultMaxBodyBytes bounds JSON request bodies when no limit is configured.
	DefaultMaxBodyBytes = 64 * 1024

	// AuthorizationHeader carries the client token as a bearer credential.
	AuthorizationHeader = "Authorization"

	// SessionTokenHeader carries the client token for clients without cookies.
	SessionTokenHeader = "X-Session-Token"

	// ScreenHeader carries the viewport resolution for fingerprinting.
	ScreenHeader = "X-Client-Screen"

	// RequestIDHeader is the HTTP header for request ID propagation.
	RequestIDHeader = "X-Request-ID"

	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "chat_session"
)

// DecodeJSON reads a JSON body of at most maxBytes into dst. An empty body
// leaves dst untouched. Failures are returned as *RequestError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return &RequestError{
				Message: "Content-Type must be application/json",
				Code:    types.CodeUnsupportedMediaType,
				Param:   "Content-Type",
			}
		}
	}

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &maxErr):
			return &RequestError{
				Message:  fmt.Sprintf("request body exceeds maximum size of %d bytes", maxBytes),
				Code:     types.CodeRequestTooLarge,
				Param:    "body",
				TooLarge: true,
			}
		default:
			return &RequestError{
				Message: fmt.Sprintf("invalid JSON: %v", err),
				Code:    types.CodeInvalidJSON,
				Param:   "body",
			}
		}
	}

	if dec.More() {
		return &RequestError{
			Message: "request body must contain a single JSON object",
			Code:    types.CodeInvalidJSON,
			Param:   "body",
		}
	}
	return nil
}

// ParseChatMessageRequest decodes and validates a POST /chat/message body.
func ParseChatMessageRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (*types.ChatMessageRequest, error) {
	var req types.ChatMessageRequest
	if err := DecodeJSON(w, r, maxBytes, &req); err != nil {
		return nil, err
	}

	if err := req.Validate(); err != nil {
		var valErr *types.ValidationError
		if errors.As(err, &valErr) {
			return nil, &RequestError{
				Message: valErr.Message,
				Code:    types.CodeMissingField,
				Param:   valErr.Field,
			}
		}
		return nil, err
	}
	return &req, nil
}

// ExtractClientToken finds the client token in the session cookie, an
// "Authorization: Bearer" header, or the X-Session-Token header, in that
// order. It returns "" when none is present.
func ExtractClientToken(r *http.Request, cookieName string) session.ClientToken {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return session.ClientToken(c.Value)
	}

	if auth := r.Header.Get(AuthorizationHeader); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			if tok := strings.TrimSpace(parts[1]); tok != "" {
				return session.ClientToken(tok)
			}
		}
	}

	return session.ClientToken(strings.TrimSpace(r.Header.Get(SessionTokenHeader)))
}

// ClientIP returns the address of the client. Proxy headers are honoured
// only when trustProxy is set, since any client can forge them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xr) != nil {
			return xr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FingerprintMaterial assembles the fingerprint inputs for a request.
// Headers win over body values; the IP always comes from the connection.
func FingerprintMaterial(r *http.Request, clientIP string, body types.FingerprintMaterial) session.Material {
	m := session.Material{
		UserAgent:      r.Header.Get("User-Agent"),
		IP:             clientIP,
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Screen:         r.Header.Get(ScreenHeader),
	}
	if m.UserAgent == "" {
		m.UserAgent = body.UserAgent
	}
	if m.AcceptLanguage == "" {
		m.AcceptLanguage = body.AcceptLanguage
	}
	if m.Screen == "" {
		m.Screen = body.Screen
	}
	return m
}

// OriginDomain returns the host of the Origin header, falling back to the
// Referer header. It returns "" when neither is usable.
func OriginDomain(r *http.Request) string {
	for _, h := range []string{"Origin", "Referer"} {
		v := r.Header.Get(h)
		if v == "" || v == "null" {
			continue
		}
		if _, rest, ok := strings.Cut(v, "://"); ok {
			v = rest
		}
		if i := strings.IndexAny(v, "/?#"); i >= 0 {
			v = v[:i]
		}
		if host, _, err := net.SplitHostPort(v); err == nil {
			v = host
		}
		if v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

// ExtractRequestID extracts the request ID from the X-Request-ID header.
// If the header is not present, it returns an empty string.
func ExtractRequestID(r *http.Request) string {
	return r.Header.Get(RequestIDHeader)
}

// RequestError represents a request parsing or validation error.
type RequestError struct {
	Message string
	Code    string
	Param   string

	// TooLarge selects 413 instead of 400.
	TooLarge bool
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return e.Message
}

// ToErrorResponse converts a RequestError to an error response.
func (e *RequestError) ToErrorResponse() *types.ErrorResponse {
	if e.TooLarge {
		return types.NewErrorResponse(e.Message, types.ErrorTypePayloadTooLarge, e.Param, e.Code)
	}
	return types.NewInvalidRequestError(e.Message, e.Param, e.Code)
}
