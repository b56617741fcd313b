package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/security/threat"
	"mercator-hq/chatrelay/pkg/security/validation"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/telemetry/logging"
)

// fingerprint assembles sanitized fingerprint material for a request.
// The same sanitizing runs at creation and at every validation so the
// two hashes are comparable.
func fingerprint(r *http.Request, ip string, body types.FingerprintMaterial) session.Material {
	m := proxy.FingerprintMaterial(r, ip, body)
	m.UserAgent = validation.UserAgent(m.UserAgent)
	m.Screen = validation.Screen(m.Screen)
	return m
}

// authenticator validates client tokens and feeds every authenticated
// request to the anomaly scorer.
type authenticator struct {
	sessions Sessions
	threat   ThreatObserver
	opts     Options
}

// authenticate returns the session behind the request's client token.
// A session the scorer terminates on this request is reported as invalid.
func (a authenticator) authenticate(r *http.Request, ip string, body types.FingerprintMaterial, message bool) (*session.Session, error) {
	tok := proxy.ExtractClientToken(r, a.opts.Cookie.Name)
	if tok == "" {
		return nil, fmt.Errorf("%w: no client token", session.ErrInvalidSession)
	}

	material := fingerprint(r, ip, body)
	sess, err := a.sessions.Validate(r.Context(), tok, material)
	if err != nil {
		return nil, err
	}

	if a.threat != nil {
		assessment := a.threat.Observe(r.Context(), threat.Observation{
			SessionID: sess.ID,
			CreatedAt: sess.CreatedAt,
			IP:        ip,
			UserAgent: material.UserAgent,
			Message:   message,
		})
		if assessment.Terminated {
			return nil, fmt.Errorf("%w: terminated after anomaly score %d", session.ErrInvalidSession, assessment.Score)
		}
	}
	return sess, nil
}

// SessionHandler serves the session lifecycle endpoints.
type SessionHandler struct {
	authenticator
	limits   Limits
	relay    Relayer
	recorder Recorder
}

// NewSessionHandler creates a session handler. observer and rec may be nil.
func NewSessionHandler(sessions Sessions, limits Limits, rl Relayer, observer ThreatObserver, rec Recorder, opts Options) *SessionHandler {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &SessionHandler{
		authenticator: authenticator{sessions: sessions, threat: observer, opts: opts},
		limits:        limits,
		relay:         rl,
		recorder:      rec,
	}
}

// Create handles POST /session/create.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := proxy.DecodeJSON(w, r, h.opts.MaxBodyBytes, &req); err != nil {
		writeError(w, r, h.recorder, "failed to parse session request", err)
		return
	}

	raw := req.OriginDomain
	if raw == "" {
		raw = proxy.OriginDomain(r)
	}
	origin, err := validation.NormalizeDomain(raw)
	if err != nil {
		writeError(w, r, h.recorder, "session origin rejected",
			fmt.Errorf("%w: %v", session.ErrOriginRejected, err))
		return
	}

	ctx := logging.WithOrigin(r.Context(), origin)
	r = r.WithContext(ctx)

	ip := h.opts.clientIP(r)
	res, err := h.limits.CheckCreate(ip, origin)
	proxy.SetRateLimitHeaders(w, res)
	if err != nil {
		writeError(w, r, h.recorder, "session creation rate limited", err)
		return
	}

	material := fingerprint(r, ip, req.FingerprintMaterial)
	sess, tokens, err := h.sessions.Create(ctx, origin, material)
	if err != nil {
		writeError(w, r, h.recorder, "failed to create session", err)
		return
	}
	ctx = logging.WithSessionID(ctx, sess.ID)

	if h.threat != nil {
		h.threat.SessionCreated(sess.ID, ip, material.UserAgent)
	}

	proxy.SetSessionCookie(w, h.opts.Cookie, string(tokens.Client), tokens.ClientExpiresAt)

	slog.InfoContext(ctx, "session created", "expires_at", sess.ExpiresAt)

	resp := types.CreateSessionResponse{
		SessionID:         sess.ID,
		ClientToken:       string(tokens.Client),
		ExpiresAt:         tokens.ClientExpiresAt,
		UpstreamToken:     string(tokens.Upstream),
		UpstreamExpiresAt: tokens.UpstreamExpiresAt,
		OriginDomain:      sess.OriginDomain,
	}
	if err := proxy.WriteJSONResponse(w, http.StatusOK, resp); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// Validate handles GET /session/validate.
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ip := h.opts.clientIP(r)
	sess, err := h.authenticate(r, ip, types.FingerprintMaterial{}, false)
	if err != nil {
		writeError(w, r, h.recorder, "session validation failed", err)
		return
	}

	resp := types.ValidateSessionResponse{
		Valid:        true,
		SessionID:    sess.ID,
		State:        string(sess.State),
		OriginDomain: sess.OriginDomain,
		ExpiresAt:    sess.ExpiresAt,
	}
	if err := proxy.WriteJSONResponse(w, http.StatusOK, resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to write response", "error", err)
	}
}

// Destroy handles DELETE /session/destroy. The cookie is cleared even
// when the token no longer names a live session.
func (h *SessionHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	if proxy.ExtractClientToken(r, h.opts.Cookie.Name) == "" {
		writeError(w, r, h.recorder, "no session to destroy", &proxy.RequestError{
			Message: "No active session",
			Code:    types.CodeMissingField,
			Param:   "client_token",
		})
		return
	}

	ip := h.opts.clientIP(r)
	sess, err := h.authenticate(r, ip, types.FingerprintMaterial{}, false)
	proxy.ClearSessionCookie(w, h.opts.Cookie)
	if err != nil {
		writeError(w, r, h.recorder, "session destroy rejected", err)
		return
	}

	ctx := logging.WithSessionID(r.Context(), sess.ID)
	if err := h.sessions.Terminate(ctx, sess.ID, session.ReasonClientRequest); err != nil {
		writeError(w, r, h.recorder, "failed to terminate session", err)
		return
	}
	if h.relay != nil {
		h.relay.Discard(sess.ID)
	}

	slog.InfoContext(ctx, "session destroyed")

	resp := types.DestroySessionResponse{Terminated: true, SessionID: sess.ID}
	if err := proxy.WriteJSONResponse(w, http.StatusOK, resp); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}
