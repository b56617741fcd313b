// Package tracing provides OpenTelemetry tracing for the relay.
//
// # Overview
//
// New installs a global tracer provider that exports spans over OTLP gRPC
// and a W3C Trace Context propagator. Packages that create spans call
// otel.Tracer directly, so they pick up whatever provider is installed.
// When tracing is disabled the global provider is left as the no-op
// default.
//
// # Trace Context Propagation
//
// HTTPMiddleware extracts incoming trace context and opens a server span
// per request. The upstream client injects the current context into the
// webhook request, so one trace covers the browser request and the
// upstream call:
//
//	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//
// # Sampling
//
// The sample ratio selects the sampler: 1 samples every trace, 0 samples
// none, and anything in between samples that fraction by trace ID. All
// samplers respect the parent's decision.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	handler = tracing.HTTPMiddleware(tracer)(handler)
package tracing
