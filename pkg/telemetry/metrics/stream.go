package metrics

import (
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/relay"

	"github.com/prometheus/client_golang/prometheus"
)

// StreamMetrics tracks relayed streams.
//
// Metrics:
//   - chatrelay_stream_active: streams currently relaying
//   - chatrelay_stream_total: finished streams by terminal event and reason
//   - chatrelay_stream_events_total: events delivered by type
//   - chatrelay_stream_duration_seconds: time from start to terminal event
//   - chatrelay_stream_bytes_total: bytes read upstream and written to clients
//   - chatrelay_stream_malformed_lines_total: upstream lines wrapped as raw items
type StreamMetrics struct {
	active    prometheus.Gauge
	total     *prometheus.CounterVec
	events    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	bytes     *prometheus.CounterVec
	malformed prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics.
func NewStreamMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *StreamMetrics {
	sm := &StreamMetrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Number of streams currently relaying",
		}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "stream",
			Name:      "total",
			Help:      "Finished streams by terminal event and reason",
		}, []string{"terminal", "reason"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Events delivered to clients by type",
		}, []string{"type"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Duration of relayed streams in seconds",
			Buckets:   cfg.DurationBuckets,
		}, []string{"reason"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Bytes read from the upstream and forwarded to clients",
		}, []string{"direction"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "stream",
			Name:      "malformed_lines_total",
			Help:      "Upstream lines that were not valid envelopes",
		}),
	}

	registry.MustRegister(sm.active, sm.total, sm.events, sm.duration, sm.bytes, sm.malformed)
	return sm
}

func (sm *StreamMetrics) finish(res relay.Result) {
	sm.active.Dec()

	terminal := string(res.Terminal)
	if terminal == "" {
		terminal = "none"
	}
	sm.total.WithLabelValues(terminal, res.Reason).Inc()
	sm.duration.WithLabelValues(res.Reason).Observe(res.Duration.Seconds())
	sm.bytes.WithLabelValues("upstream").Add(float64(res.UpstreamBytes))
	sm.bytes.WithLabelValues("client").Add(float64(res.BytesForwarded))
	if res.Malformed > 0 {
		sm.malformed.Add(float64(res.Malformed))
	}
}
