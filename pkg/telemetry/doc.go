// Package telemetry bundles the relay's observability: structured
// logging, Prometheus metrics, OpenTelemetry tracing and health checks.
//
// # Components
//
//   - logging: slog handler chain with secret redaction and request fields
//   - metrics: Prometheus collector, also the relay's stream recorder
//   - tracing: OTLP tracer provider and W3C propagation
//   - health: liveness and readiness checks
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.Logger().Info("listening", "addr", cfg.Server.ListenAddress)
//	rl, _ := relay.New(relay.Config{..., Recorder: tel.Metrics()})
//
// # Redaction
//
// Client and upstream tokens never reach the log output in full:
//
//   - Bearer eyJhbGciOi... → Bearer ***
//   - client_token=eyJhbGciOi... → eyJh***
//   - X-API-Key: n8n_live_... → X-API-Key: ***
package telemetry
