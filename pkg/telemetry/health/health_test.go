package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okCheck(context.Context) error { return nil }

func failCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// ==================================================================
// Checker
// ==================================================================

func TestNew_DefaultTimeout(t *testing.T) {
	if c := New(0); c.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.timeout)
	}
	if c := New(time.Second); c.timeout != time.Second {
		t.Errorf("timeout = %v, want 1s", c.timeout)
	}
}

func TestChecker_RegisterAndList(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("upstream", okCheck, NonCritical())
	c.RegisterCheck("session_store", okCheck)
	c.RegisterCheck("session_store", okCheck)

	names := c.ListChecks()
	if len(names) != 2 || names[0] != "session_store" || names[1] != "upstream" {
		t.Errorf("ListChecks() = %v", names)
	}

	c.UnregisterCheck("upstream")
	if names := c.ListChecks(); len(names) != 1 {
		t.Errorf("after unregister ListChecks() = %v", names)
	}
}

func TestChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		register   func(c *Checker)
		wantStatus string
		wantReady  bool
	}{
		{
			name:       "no checks",
			register:   func(*Checker) {},
			wantStatus: StatusReady,
			wantReady:  true,
		},
		{
			name: "all ok",
			register: func(c *Checker) {
				c.RegisterCheck("session_store", okCheck)
				c.RegisterCheck("upstream", okCheck, NonCritical())
			},
			wantStatus: StatusReady,
			wantReady:  true,
		},
		{
			name: "non-critical failure degrades",
			register: func(c *Checker) {
				c.RegisterCheck("session_store", okCheck)
				c.RegisterCheck("upstream", failCheck("upstream health status 502"), NonCritical())
			},
			wantStatus: StatusDegraded,
			wantReady:  true,
		},
		{
			name: "critical failure is not ready",
			register: func(c *Checker) {
				c.RegisterCheck("session_store", failCheck("database is locked"))
				c.RegisterCheck("upstream", failCheck("down"), NonCritical())
			},
			wantStatus: StatusNotReady,
			wantReady:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(time.Second)
			tt.register(c)

			got := c.CheckReadiness(context.Background())
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.Ready() != tt.wantReady {
				t.Errorf("Ready() = %v, want %v", got.Ready(), tt.wantReady)
			}
		})
	}
}

func TestChecker_Timeout(t *testing.T) {
	c := New(20 * time.Millisecond)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	got := c.CheckReadiness(context.Background())
	res := got.Checks["slow"]
	if res.Status != StatusUnhealthy {
		t.Errorf("slow check status = %q", res.Status)
	}
	if got.Status != StatusNotReady {
		t.Errorf("overall = %q", got.Status)
	}
}

func TestChecker_Liveness(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("broken", failCheck("x"))

	if got := c.CheckLiveness(context.Background()); got.Status != StatusOK {
		t.Errorf("liveness = %q, want ok regardless of checks", got.Status)
	}
}

// ==================================================================
// Endpoints
// ==================================================================

func TestReadinessHandler(t *testing.T) {
	c := New(time.Second)
	c.RegisterCheck("session_store", okCheck)
	c.RegisterCheck("upstream", failCheck("breaker open"), NonCritical())

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("degraded status code = %d, want 200", rec.Code)
	}
	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusDegraded {
		t.Errorf("status = %q", body.Status)
	}
	if up := body.Checks["upstream"]; up.Message != "breaker open" || up.Critical {
		t.Errorf("upstream check = %+v", up)
	}

	c.RegisterCheck("session_store", failCheck("closed"))
	rec = httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready status code = %d, want 503", rec.Code)
	}
}

func TestLivenessHandler_Head(t *testing.T) {
	c := New(time.Second)
	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodHead, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD wrote a body: %q", rec.Body.String())
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.0", "abc123", "2026-03-01")(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.0" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}
