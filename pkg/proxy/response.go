package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mercator-hq/chatrelay/pkg/limits/ratelimit"
	"mercator-hq/chatrelay/pkg/proxy/types"
)

// WriteJSONResponse writes a JSON response to the HTTP response writer.
// It sets the appropriate content-type header and handles marshaling errors.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON response: %w", err)
	}

	return nil
}

// WriteErrorResponse writes an error body with the status implied by its
// type. A retry hint is also sent as a Retry-After header.
func WriteErrorResponse(w http.ResponseWriter, errResp *types.ErrorResponse) error {
	if errResp.Error.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(errResp.Error.RetryAfter))
	}
	return WriteJSONResponse(w, errResp.Error.HTTPStatusCode(), errResp)
}

// SetSSEHeaders sets the appropriate headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// SetNDJSONHeaders sets the headers for a newline-delimited JSON event stream.
func SetNDJSONHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
}

// SetRateLimitHeaders reports the most restrictive scope of a limiter check.
func SetRateLimitHeaders(w http.ResponseWriter, res ratelimit.CheckResult) {
	if res.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(max(res.Remaining, 0), 10))
	if !res.Reset.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	}
	if !res.Allowed {
		h.Set("Retry-After", strconv.Itoa(retrySeconds(res.RetryAfter)))
	}
}

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Domain string
	Secure bool
}

func (o CookieOptions) name() string {
	if o.Name == "" {
		return DefaultCookieName
	}
	return o.Name
}

// SetSessionCookie stores the client token in an HttpOnly cookie that
// expires with the session.
func SetSessionCookie(w http.ResponseWriter, opts CookieOptions, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    token,
		Path:     "/",
		Domain:   opts.Domain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		Secure:   opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    "",
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   -1,
		Secure:   opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
