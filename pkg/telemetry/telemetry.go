package telemetry

import (
	"context"
	"fmt"

	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/telemetry/logging"
	"mercator-hq/chatrelay/pkg/telemetry/metrics"
	"mercator-hq/chatrelay/pkg/telemetry/tracing"
)

// Telemetry holds the process-wide logger, metrics collector and tracer.
type Telemetry struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// New builds all telemetry components and installs the logger as the
// slog default.
func New(cfg *config.TelemetryConfig) (*Telemetry, error) {
	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}

	tracer, err := tracing.New(&cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to configure tracing: %w", err)
	}

	return &Telemetry{
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		tracer:  tracer,
	}, nil
}

// Logger returns the process logger.
func (t *Telemetry) Logger() *logging.Logger { return t.logger }

// Metrics returns the metrics collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Apply updates the settings that can change without a restart.
func (t *Telemetry) Apply(cfg *config.TelemetryConfig) error {
	return t.logger.SetLevel(cfg.Logging.Level)
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tracer.Shutdown(ctx)
}
