package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"mercator-hq/chatrelay/pkg/limits/ratelimit"
	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/handlers"
	"mercator-hq/chatrelay/pkg/proxy/middleware"
	"mercator-hq/chatrelay/pkg/security/auth"
	"mercator-hq/chatrelay/pkg/security/validation"
	"mercator-hq/chatrelay/pkg/telemetry/health"
	"mercator-hq/chatrelay/pkg/telemetry/tracing"
)

// routes builds the router and its middleware chain.
//
// The chat routes stream and are left out of the timeout group; the relay
// deadline bounds them instead.
func (s *Server) routes() http.Handler {
	cfg := s.cfg
	collector := s.telemetry.Metrics()

	opts := handlers.Options{
		Cookie: proxy.CookieOptions{
			Name:   cfg.Session.Cookie.Name,
			Domain: cfg.Session.Cookie.Domain,
			Secure: cfg.Session.Cookie.Secure,
		},
		TrustProxy:   cfg.Server.TrustProxyHeaders,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var observer handlers.ThreatObserver
	if s.scorer != nil {
		observer = observedScorer{Scorer: s.scorer, rec: collector}
	}

	sessionHandler := handlers.NewSessionHandler(s.sessions, s.limits, s.relay, observer, collector, opts)
	chatHandler := handlers.NewChatHandler(
		s.sessions,
		s.limits,
		s.relay,
		observer,
		validation.NewMessageValidator(cfg.Security.MaxMessageLength),
		collector,
		cfg.Relay.HeartbeatInterval,
		opts,
	)
	statsHandler := handlers.NewStatsHandler(s.relay, s.sessions, s.breaker, s.prober)

	requireOperator := auth.Middleware(s.operators, auth.DefaultSources)

	limitIP := middleware.RateLimitMiddleware(func(r *http.Request) (ratelimit.CheckResult, error) {
		return s.limits.CheckIP(middleware.GetClientIP(r))
	})

	r := chi.NewRouter()
	r.Use(
		middleware.RecoveryMiddleware,
		middleware.RequestIDMiddleware,
		middleware.ClientIPMiddleware(cfg.Server.TrustProxyHeaders),
		tracing.HTTPMiddleware(s.telemetry.Tracer()),
		middleware.LoggingMiddleware(collector),
		middleware.CORSMiddleware(s.corsConfig()),
	)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TimeoutMiddleware(cfg.Server.WriteTimeout))

		r.Post("/session/create", sessionHandler.Create)
		r.With(limitIP).Get("/session/validate", sessionHandler.Validate)
		r.With(limitIP).Delete("/session/destroy", sessionHandler.Destroy)
		r.With(requireOperator).Get("/chat/stats", statsHandler.ServeHTTP)
	})

	r.Post("/chat/message", chatHandler.Message)
	r.Get(handlers.StreamPath, chatHandler.Stream)

	r.Get("/health", s.checker.LivenessHandler())
	r.Head("/health", s.checker.LivenessHandler())
	r.Get("/ready", s.checker.ReadinessHandler())
	r.Get("/version", health.VersionHandler(s.opts.version, s.opts.commit, s.opts.buildTime))

	if collector.Enabled() {
		metricsHandler := collector.Handler()
		if cfg.Security.Operator.ProtectMetrics {
			metricsHandler = requireOperator(metricsHandler)
		}
		r.Handle(cfg.Telemetry.Metrics.Path, metricsHandler)
	}

	return r
}

// corsConfig admits the configured origins plus any origin whose host is
// on the session allow-list.
func (s *Server) corsConfig() *middleware.CORSConfig {
	c := s.cfg.Server.CORS
	return &middleware.CORSConfig{
		Enabled:        c.Enabled,
		AllowedOrigins: c.AllowedOrigins,
		AllowOrigin: func(origin string) bool {
			host, err := validation.NormalizeDomain(origin)
			return err == nil && s.origins.Allowed(host)
		},
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}
