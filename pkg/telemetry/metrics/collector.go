package metrics

import (
	"strconv"
	"time"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns the registry and every metric the relay exports.
// It implements relay.Recorder.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	stream *StreamMetrics
	http   *HTTPMetrics
	guard  *GuardMetrics
}

var _ relay.Recorder = (*Collector)(nil)

// NewCollector creates a collector. If registry is nil a fresh registry
// with the Go and process collectors is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "chatrelay"
	}
	if len(cfg.DurationBuckets) == 0 {
		// Streams wait on a slow upstream; the tail matters more than the head.
		cfg.DurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60}
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		stream:   NewStreamMetrics(cfg, registry),
		http:     NewHTTPMetrics(cfg, registry),
		guard:    NewGuardMetrics(cfg, registry),
	}
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StreamStarted records a task reaching the upstream.
func (c *Collector) StreamStarted() {
	if !c.Enabled() {
		return
	}
	c.stream.active.Inc()
}

// EventSent records one event delivered to a client.
func (c *Collector) EventSent(t relay.EventType) {
	if !c.Enabled() {
		return
	}
	c.stream.events.WithLabelValues(string(t)).Inc()
}

// StreamFinished records the outcome of a task.
func (c *Collector) StreamFinished(res relay.Result) {
	if !c.Enabled() {
		return
	}
	c.stream.finish(res)
}

// RecordHTTPRequest records a completed HTTP request. route is the
// router pattern.
func (c *Collector) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if !c.Enabled() {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.http.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.http.duration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError records an error response by its error code.
func (c *Collector) RecordError(code string) {
	if !c.Enabled() {
		return
	}
	c.http.errors.WithLabelValues(code).Inc()
}

// RecordSessionTransition matches session.Config.OnTransition.
func (c *Collector) RecordSessionTransition(from, to session.State, reason string) {
	if !c.Enabled() {
		return
	}
	if reason == "" {
		reason = "none"
	}
	c.guard.sessionTransitions.WithLabelValues(string(from), string(to), reason).Inc()
}

// RecordRateLimited records a request denied by the given scope.
func (c *Collector) RecordRateLimited(scope string) {
	if !c.Enabled() {
		return
	}
	c.guard.rateLimited.WithLabelValues(scope).Inc()
}

// RecordBreakerState matches breaker.Config.OnStateChange.
func (c *Collector) RecordBreakerState(name string, from, to breaker.State) {
	if !c.Enabled() {
		return
	}
	c.guard.setBreakerState(name, to)
	c.guard.breakerTransitions.WithLabelValues(name, to.String()).Inc()
}

// RecordAssessment records an anomaly assessment that crossed a threshold.
// outcome is "suspicious" or "terminated".
func (c *Collector) RecordAssessment(outcome string) {
	if !c.Enabled() {
		return
	}
	c.guard.assessments.WithLabelValues(outcome).Inc()
}

// RecordContentSignal records an advisory bot or spam signal.
func (c *Collector) RecordContentSignal(kind string) {
	if !c.Enabled() {
		return
	}
	c.guard.contentSignals.WithLabelValues(kind).Inc()
}

// RegisterGaugeFunc exports fn as a gauge sampled at scrape time.
func (c *Collector) RegisterGaugeFunc(subsystem, name, help string, fn func() float64) {
	if !c.Enabled() {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.config.Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}
