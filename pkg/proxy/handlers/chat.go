package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/security/threat"
	"mercator-hq/chatrelay/pkg/security/validation"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/telemetry/logging"
)

// StreamPath is the route of the two-step stream endpoint.
const StreamPath = "/chat/stream/{session_id}"

// ChatHandler serves POST /chat/message and GET /chat/stream/{session_id}.
type ChatHandler struct {
	authenticator
	limits    Limits
	relay     Relayer
	validator *validation.MessageValidator
	recorder  Recorder
	heartbeat time.Duration
}

// NewChatHandler creates a chat handler. observer and rec may be nil.
// heartbeat is the SSE keep-alive interval of the stream endpoint.
func NewChatHandler(
	sessions Sessions,
	limits Limits,
	rl Relayer,
	observer ThreatObserver,
	validator *validation.MessageValidator,
	rec Recorder,
	heartbeat time.Duration,
	opts Options,
) *ChatHandler {
	if rec == nil {
		rec = nopRecorder{}
	}
	if validator == nil {
		validator = validation.NewMessageValidator(0)
	}
	return &ChatHandler{
		authenticator: authenticator{sessions: sessions, threat: observer, opts: opts},
		limits:        limits,
		relay:         rl,
		validator:     validator,
		recorder:      rec,
		heartbeat:     heartbeat,
	}
}

// Message handles POST /chat/message. With "stream": true the response is
// relayed inline as NDJSON; otherwise the message is staged and the client
// is pointed at the stream endpoint with 202 Accepted.
func (h *ChatHandler) Message(w http.ResponseWriter, r *http.Request) {
	req, err := proxy.ParseChatMessageRequest(w, r, h.opts.MaxBodyBytes)
	if err != nil {
		writeError(w, r, h.recorder, "failed to parse chat message", err)
		return
	}

	// Content checks run before any session or limiter state is touched.
	msg, err := h.validator.Validate(req.Message)
	if err != nil {
		writeError(w, r, h.recorder, "chat message rejected", err)
		return
	}

	ip := h.opts.clientIP(r)
	sess, err := h.authenticate(r, ip, types.FingerprintMaterial{Screen: req.Screen}, true)
	if err != nil {
		writeError(w, r, h.recorder, "chat message authentication failed", err)
		return
	}
	ctx := logging.WithOrigin(logging.WithSessionID(r.Context(), sess.ID), sess.OriginDomain)
	r = r.WithContext(ctx)

	res, err := h.limits.CheckMessage(ip, sess.ID, sess.OriginDomain)
	proxy.SetRateLimitHeaders(w, res)
	if err != nil {
		writeError(w, r, h.recorder, "chat message rate limited", err)
		return
	}

	h.inspect(r, msg)

	if !req.Stream {
		h.stage(w, r, sess, msg)
		return
	}

	slog.InfoContext(ctx, "relaying chat message", "mode", "ndjson", "message_length", len(msg))

	sink := proxy.NewNDJSONSink(w, h.opts.WriteTimeout)
	result, err := h.relay.Run(ctx, relay.Exchange{
		Session:  sess,
		Message:  msg,
		ClientIP: ip,
	}, sink)
	h.finish(w, r, sink.Started(), result, err)
}

// Stream handles GET /chat/stream/{session_id}. It claims the message
// staged by POST /chat/message and relays it as Server-Sent Events. An
// optional exchange_id query parameter must match the staged exchange.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	pathID, err := validation.SessionID(chi.URLParam(r, "session_id"))
	if err != nil {
		writeError(w, r, h.recorder, "invalid stream session id", err)
		return
	}

	ip := h.opts.clientIP(r)
	sess, err := h.authenticate(r, ip, types.FingerprintMaterial{}, false)
	if err != nil {
		writeError(w, r, h.recorder, "chat stream authentication failed", err)
		return
	}
	if sess.ID != pathID {
		writeError(w, r, h.recorder, "chat stream session mismatch", session.ErrInvalidSession)
		return
	}
	ctx := logging.WithOrigin(logging.WithSessionID(r.Context(), sess.ID), sess.OriginDomain)
	r = r.WithContext(ctx)

	pending, err := h.relay.Claim(sess.ID, r.URL.Query().Get("exchange_id"))
	if err != nil {
		writeError(w, r, h.recorder, "no staged message to stream", err)
		return
	}

	slog.InfoContext(ctx, "relaying chat message",
		"mode", "sse",
		"exchange_id", pending.ID,
		"message_length", len(pending.Message),
	)

	sink := proxy.NewSSESink(w, h.heartbeat, h.opts.WriteTimeout)
	defer sink.Close()

	result, err := h.relay.Run(ctx, relay.Exchange{
		ID:       pending.ID,
		Session:  sess,
		Message:  pending.Message,
		ClientIP: ip,
	}, sink)
	if err != nil && !sink.Started() && retryable(err) && h.relay.Restore(pending) {
		slog.InfoContext(ctx, "staged message kept for retry", "exchange_id", pending.ID)
	}
	h.finish(w, r, sink.Started(), result, err)
}

// retryable reports whether Run refused an exchange for a reason that may
// clear on its own: a busy session, the connection cap or an open circuit.
func retryable(err error) bool {
	var open *breaker.OpenError
	return errors.Is(err, relay.ErrSessionBusy) ||
		errors.Is(err, relay.ErrTooManyConnections) ||
		errors.As(err, &open)
}

func (h *ChatHandler) stage(w http.ResponseWriter, r *http.Request, sess *session.Session, msg string) {
	ctx := r.Context()
	pending, err := h.relay.Stage(sess.ID, msg)
	if err != nil {
		writeError(w, r, h.recorder, "failed to stage chat message", err)
		return
	}

	slog.InfoContext(ctx, "chat message staged",
		"exchange_id", pending.ID,
		"expires_at", pending.ExpiresAt,
	)

	resp := types.MessageAcceptedResponse{
		ExchangeID: pending.ID,
		StreamURL:  "/chat/stream/" + sess.ID + "?exchange_id=" + pending.ID,
		ExpiresAt:  pending.ExpiresAt,
	}
	if err := proxy.WriteJSONResponse(w, http.StatusAccepted, resp); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

// finish reports a relay outcome. Errors from Run arrive before any event
// was written, so they still get a JSON error response.
func (h *ChatHandler) finish(w http.ResponseWriter, r *http.Request, started bool, res relay.Result, err error) {
	ctx := r.Context()
	if err != nil {
		if started {
			slog.ErrorContext(ctx, "relay failed after stream start", "error", err)
			return
		}
		writeError(w, r, h.recorder, "relay rejected chat message", err)
		return
	}

	attrs := []any{
		"exchange_id", res.ExchangeID,
		"terminal", res.Terminal,
		"events", res.Events,
		"items", res.Items,
		"bytes_forwarded", res.BytesForwarded,
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Malformed > 0 {
		attrs = append(attrs, "malformed_lines", res.Malformed)
	}
	if res.SinkErr != nil {
		attrs = append(attrs, "client_error", res.SinkErr)
	}
	if res.Terminal == relay.EventError {
		slog.WarnContext(ctx, "chat relay ended with error", append(attrs, "reason", res.Reason)...)
		return
	}
	slog.InfoContext(ctx, "chat relay completed", attrs...)
}

// inspect runs the advisory content heuristics. Nothing is rejected here.
func (h *ChatHandler) inspect(r *http.Request, msg string) {
	report := threat.Inspect(r.Header.Get("User-Agent"), msg)
	if report.Bot.Likely {
		h.recorder.RecordContentSignal("bot")
		slog.WarnContext(r.Context(), "message looks automated",
			"confidence", report.Bot.Confidence,
			"indicators", report.Bot.Indicators,
		)
	}
	if report.Spam.Likely {
		h.recorder.RecordContentSignal("spam")
		slog.WarnContext(r.Context(), "message looks like spam",
			"confidence", report.Spam.Confidence,
			"indicators", report.Spam.Indicators,
		)
	}
}
