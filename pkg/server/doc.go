// Package server wires the chat relay together and runs it.
//
// New builds every component from the configuration: the session store
// and manager, the upstream client and its health prober, the circuit
// breaker, the streaming relay, the rate limiters and the anomaly scorer.
// Start runs their background loops, serves HTTP (optionally TLS with
// certificate hot reload) and shuts everything down on SIGINT, SIGTERM or
// context cancellation.
//
// # Routes
//
//	POST   /session/create            create a session for an allow-listed origin
//	GET    /session/validate          check the presented client token
//	DELETE /session/destroy           terminate the session, clear the cookie
//	POST   /chat/message              stage a message (202) or relay it inline as NDJSON
//	GET    /chat/stream/{session_id}  relay the staged message as Server-Sent Events
//	GET    /chat/stats                connection and breaker counters (operator key)
//	GET    /health, /ready, /version  probes and build information
//	GET    /metrics                   Prometheus metrics
//
// # Middleware
//
// Every request passes recovery, request ID, client IP resolution,
// tracing, access logging and CORS, in that order. The non-streaming
// routes also run under a timeout; the two chat routes do not, because
// their output must reach the client unbuffered. The relay deadline
// bounds them instead.
//
// # Basic Usage
//
//	cfg := config.GetConfig()
//	tel, err := telemetry.New(&cfg.Telemetry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	srv, err := server.New(ctx, cfg, tel, server.WithConfigPath(path))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Hot Reload
//
// With WithConfigPath the configuration file is watched. A valid new
// configuration replaces the origin allow-list, the operator keys, the rate
// limit rules and the log level without a restart; everything else needs
// one.
//
// # Operator Keys
//
// When security.operator.keys is non-empty, /chat/stats (and /metrics with
// protect_metrics) require one of the keys in X-Operator-Key or a bearer
// Authorization header.
package server
