package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"mercator-hq/chatrelay/pkg/limits/ratelimit"
	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/security/threat"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/telemetry/logging"
)

// Sessions is the part of *session.Manager the handlers use.
type Sessions interface {
	Create(ctx context.Context, origin string, material session.Material) (*session.Session, session.TokenPair, error)
	Validate(ctx context.Context, tok session.ClientToken, material session.Material) (*session.Session, error)
	Terminate(ctx context.Context, id, reason string) error
	Stats(ctx context.Context) (map[session.State]int, error)
}

// Limits is the part of *limits.Manager the handlers use.
type Limits interface {
	CheckCreate(ip, origin string) (ratelimit.CheckResult, error)
	CheckMessage(ip, sessionID, origin string) (ratelimit.CheckResult, error)
}

// Relayer is the part of *relay.Relay the handlers use.
type Relayer interface {
	Stage(sessionID, message string) (*relay.PendingExchange, error)
	Claim(sessionID, exchangeID string) (*relay.PendingExchange, error)
	Restore(ex *relay.PendingExchange) bool
	Discard(sessionID string)
	Run(ctx context.Context, ex relay.Exchange, sink relay.Sink) (relay.Result, error)
	Stats() relay.ConnectionStats
	Connections() []relay.ConnectionRecord
	PendingCount() int
}

// ThreatObserver is the part of *threat.Scorer the handlers use.
type ThreatObserver interface {
	SessionCreated(sessionID, ip, userAgent string)
	Observe(ctx context.Context, obs threat.Observation) threat.Assessment
}

// Recorder receives handler-level metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordError(code string)
	RecordContentSignal(kind string)
}

type nopRecorder struct{}

func (nopRecorder) RecordError(string)         {}
func (nopRecorder) RecordContentSignal(string) {}

// Options carries the request handling settings shared by all handlers.
type Options struct {
	// Cookie configures the session cookie.
	Cookie proxy.CookieOptions

	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool

	// MaxBodyBytes bounds JSON request bodies.
	MaxBodyBytes int64

	// WriteTimeout bounds each streamed write.
	WriteTimeout time.Duration
}

func (o Options) clientIP(r *http.Request) string {
	if ip := logging.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return proxy.ClientIP(r, o.TrustProxy)
}

// writeError logs err, counts its code and writes the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, rec Recorder, msg string, err error) {
	resp := proxy.HandleError(err)
	rec.RecordError(resp.Error.Code)

	ctx := r.Context()
	if resp.Error.Type == types.ErrorTypeServerError {
		slog.ErrorContext(ctx, msg, "error", err)
	} else {
		slog.InfoContext(ctx, msg, "error", err, "code", resp.Error.Code)
	}

	if werr := proxy.WriteErrorResponse(w, resp); werr != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", werr)
	}
}
