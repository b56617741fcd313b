package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newSampler maps a sample ratio onto a parent-based sampler.
func newSampler(ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler

	switch {
	case ratio < 0 || ratio > 1:
		return nil, fmt.Errorf("sample ratio must be between 0.0 and 1.0, got %f", ratio)
	case ratio == 1:
		base = sdktrace.AlwaysSample()
	case ratio == 0:
		base = sdktrace.NeverSample()
	default:
		base = sdktrace.TraceIDRatioBased(ratio)
	}

	return sdktrace.ParentBased(base), nil
}
