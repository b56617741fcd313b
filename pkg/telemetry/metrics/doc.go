// Package metrics provides Prometheus metrics for the relay.
//
// # Metrics Categories
//
//   - Stream metrics: active streams, streams by terminal reason, events
//     by type, stream duration, bytes forwarded, malformed upstream lines
//   - HTTP metrics: requests by route and status, request duration
//   - Guard metrics: session transitions, rate-limit denials by scope,
//     circuit breaker state, anomaly assessments, content signals
//   - Gauges sampled at scrape time: open connections, pending exchanges,
//     upstream health
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	rl, _ := relay.New(relay.Config{..., Recorder: collector})
//	sessions := session.NewManager(session.Config{..., OnTransition: collector.RecordSessionTransition})
//	br := breaker.New(breaker.Config{..., OnStateChange: collector.RecordBreakerState})
//
//	r.Handle("/metrics", collector.Handler())
//
// A disabled collector accepts every call and records nothing.
//
// # Cardinality
//
// No label carries a session ID, client address or origin domain. Routes
// are labelled by their pattern, not the request path.
package metrics
