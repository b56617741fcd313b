package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:         true,
		Namespace:       "test",
		DurationBuckets: []float64{0.1, 1, 10},
	}
}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(testConfig(), prometheus.NewRegistry())
}

// ==================================================================
// Construction
// ==================================================================

func TestNewCollector_Defaults(t *testing.T) {
	cfg := &config.MetricsConfig{Enabled: true}
	c := NewCollector(cfg, nil)

	if cfg.Namespace != "chatrelay" {
		t.Errorf("Namespace = %q", cfg.Namespace)
	}
	if len(cfg.DurationBuckets) == 0 {
		t.Error("DurationBuckets not defaulted")
	}
	if c.Registry() == nil {
		t.Fatal("nil registry")
	}

	mfs, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var sawGo bool
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), "go_") {
			sawGo = true
		}
	}
	if !sawGo {
		t.Error("default registry lacks Go runtime metrics")
	}
}

// ==================================================================
// Streams
// ==================================================================

func TestCollector_StreamLifecycle(t *testing.T) {
	c := newTestCollector(t)

	c.StreamStarted()
	c.StreamStarted()
	if got := testutil.ToFloat64(c.stream.active); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}

	c.EventSent(relay.EventBegin)
	c.EventSent(relay.EventItem)
	c.EventSent(relay.EventItem)
	c.EventSent(relay.EventEnd)

	c.StreamFinished(relay.Result{
		Terminal:       relay.EventEnd,
		Reason:         relay.ReasonCompleted,
		Malformed:      2,
		BytesForwarded: 120,
		UpstreamBytes:  200,
		Duration:       1500 * time.Millisecond,
	})

	if got := testutil.ToFloat64(c.stream.active); got != 1 {
		t.Errorf("active after finish = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stream.events.WithLabelValues("item")); got != 2 {
		t.Errorf("item events = %v", got)
	}
	if got := testutil.ToFloat64(c.stream.total.WithLabelValues("end", "completed")); got != 1 {
		t.Errorf("completed streams = %v", got)
	}
	if got := testutil.ToFloat64(c.stream.bytes.WithLabelValues("client")); got != 120 {
		t.Errorf("client bytes = %v", got)
	}
	if got := testutil.ToFloat64(c.stream.malformed); got != 2 {
		t.Errorf("malformed = %v", got)
	}
	if n := testutil.CollectAndCount(c.stream.duration); n != 1 {
		t.Errorf("duration series = %d", n)
	}
}

func TestCollector_StreamWithoutTerminal(t *testing.T) {
	c := newTestCollector(t)
	c.StreamStarted()
	c.StreamFinished(relay.Result{Reason: relay.ReasonCanceled})

	if got := testutil.ToFloat64(c.stream.total.WithLabelValues("none", "canceled")); got != 1 {
		t.Errorf("canceled streams = %v", got)
	}
}

// ==================================================================
// HTTP and guards
// ==================================================================

func TestCollector_HTTP(t *testing.T) {
	c := newTestCollector(t)

	c.RecordHTTPRequest("/session/create", http.MethodPost, 200, 10*time.Millisecond)
	c.RecordHTTPRequest("", http.MethodGet, 404, time.Millisecond)
	c.RecordError("rate_limited")

	if got := testutil.ToFloat64(c.http.requests.WithLabelValues("/session/create", "POST", "200")); got != 1 {
		t.Errorf("create requests = %v", got)
	}
	if got := testutil.ToFloat64(c.http.requests.WithLabelValues("unmatched", "GET", "404")); got != 1 {
		t.Errorf("unmatched requests = %v", got)
	}
	if got := testutil.ToFloat64(c.http.errors.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("errors = %v", got)
	}
}

func TestCollector_Guards(t *testing.T) {
	c := newTestCollector(t)

	c.RecordSessionTransition(session.StateActive, session.StateTerminated, session.ReasonFingerprintMismatch)
	c.RecordSessionTransition(session.StateCreated, session.StateActive, "")
	c.RecordRateLimited("ip")
	c.RecordRateLimited("ip")
	c.RecordAssessment("suspicious")
	c.RecordContentSignal("bot")

	if got := testutil.ToFloat64(c.guard.sessionTransitions.WithLabelValues(
		"active", "terminated", session.ReasonFingerprintMismatch)); got != 1 {
		t.Errorf("terminations = %v", got)
	}
	if got := testutil.ToFloat64(c.guard.sessionTransitions.WithLabelValues("created", "active", "none")); got != 1 {
		t.Errorf("activations = %v", got)
	}
	if got := testutil.ToFloat64(c.guard.rateLimited.WithLabelValues("ip")); got != 2 {
		t.Errorf("ip denials = %v", got)
	}
	if got := testutil.ToFloat64(c.guard.assessments.WithLabelValues("suspicious")); got != 1 {
		t.Errorf("assessments = %v", got)
	}
	if got := testutil.ToFloat64(c.guard.contentSignals.WithLabelValues("bot")); got != 1 {
		t.Errorf("content signals = %v", got)
	}
}

func TestCollector_BreakerState(t *testing.T) {
	c := newTestCollector(t)

	steps := []struct {
		from, to breaker.State
		want     float64
	}{
		{breaker.StateClosed, breaker.StateOpen, 2},
		{breaker.StateOpen, breaker.StateHalfOpen, 1},
		{breaker.StateHalfOpen, breaker.StateClosed, 0},
	}
	for _, s := range steps {
		c.RecordBreakerState("upstream", s.from, s.to)
		if got := testutil.ToFloat64(c.guard.breakerState.WithLabelValues("upstream")); got != s.want {
			t.Errorf("after %s state gauge = %v, want %v", s.to, got, s.want)
		}
	}
	if got := testutil.ToFloat64(c.guard.breakerTransitions.WithLabelValues("upstream", breaker.StateOpen.String())); got != 1 {
		t.Errorf("open transitions = %v", got)
	}
}

func TestCollector_GaugeFunc(t *testing.T) {
	c := newTestCollector(t)
	n := 3
	c.RegisterGaugeFunc("relay", "connections", "Open connections", func() float64 { return float64(n) })

	expected := `
# HELP test_relay_connections Open connections
# TYPE test_relay_connections gauge
test_relay_connections 3
`
	if err := testutil.GatherAndCompare(c.Registry(), strings.NewReader(expected), "test_relay_connections"); err != nil {
		t.Error(err)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := NewCollector(cfg, prometheus.NewRegistry())

	c.StreamStarted()
	c.EventSent(relay.EventItem)
	c.RecordRateLimited("ip")
	c.RegisterGaugeFunc("relay", "connections", "x", func() float64 { return 1 })

	if got := testutil.ToFloat64(c.stream.active); got != 0 {
		t.Errorf("disabled collector recorded active = %v", got)
	}
	if got := testutil.ToFloat64(c.guard.rateLimited.WithLabelValues("ip")); got != 0 {
		t.Errorf("disabled collector recorded denials = %v", got)
	}

	var nilCollector *Collector
	nilCollector.StreamStarted()
	if nilCollector.Enabled() {
		t.Error("nil collector reports enabled")
	}
}

// ==================================================================
// Handler
// ==================================================================

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector(t)
	c.RecordRateLimited("session")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_ratelimit_denied_total{scope="session"} 1`) {
		t.Errorf("body missing denial counter:\n%s", rec.Body.String())
	}
}
