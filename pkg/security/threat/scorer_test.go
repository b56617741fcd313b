package threat

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type recordingTerminator struct {
	mu      sync.Mutex
	ended   []string
	reasons []string
	err     error
}

func (r *recordingTerminator) Terminate(_ context.Context, id, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ended = append(r.ended, id)
	r.reasons = append(r.reasons, reason)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newTestScorer(term Terminator) (*Scorer, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewScorer(Config{Now: c.Now}, term), c
}

const (
	ua1 = "Mozilla/5.0 (Macintosh) Chrome/120"
	ua2 = "Mozilla/5.0 (Windows) Firefox/120"
)

func TestScorer_CleanSession(t *testing.T) {
	s, c := newTestScorer(nil)
	s.SessionCreated("s1", "203.0.113.10", ua1)

	a := s.Observe(context.Background(), Observation{
		SessionID: "s1", CreatedAt: c.t, IP: "203.0.113.10", UserAgent: ua1, Message: true,
	})
	if a.Score != 0 || len(a.Indicators) != 0 || a.Suspicious {
		t.Errorf("expected clean assessment, got %+v", a)
	}
}

func TestScorer_Indicators(t *testing.T) {
	tests := []struct {
		name       string
		obs        func(created time.Time) Observation
		want       []Indicator
		score      int
		suspicious bool
	}{
		{
			name: "ip change",
			obs: func(created time.Time) Observation {
				return Observation{SessionID: "s1", CreatedAt: created, IP: "198.51.100.1", UserAgent: ua1}
			},
			want:  []Indicator{IndicatorIPChange},
			score: 30,
		},
		{
			name: "ip and ua change",
			obs: func(created time.Time) Observation {
				return Observation{SessionID: "s1", CreatedAt: created, IP: "198.51.100.1", UserAgent: ua2}
			},
			want:  []Indicator{IndicatorIPChange, IndicatorUserAgentChange},
			score: 50,
		},
		{
			name: "old session with ip and ua change",
			obs: func(created time.Time) Observation {
				return Observation{SessionID: "s1", CreatedAt: created.Add(-49 * time.Hour), IP: "198.51.100.1", UserAgent: ua2}
			},
			want:       []Indicator{IndicatorIPChange, IndicatorUserAgentChange, IndicatorLongSession},
			score:      65,
			suspicious: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newTestScorer(nil)
			s.SessionCreated("s1", "203.0.113.10", ua1)

			a := s.Observe(context.Background(), tt.obs(c.t))
			if !slices.Equal(a.Indicators, tt.want) {
				t.Errorf("indicators = %v, want %v", a.Indicators, tt.want)
			}
			if a.Score != tt.score {
				t.Errorf("score = %d, want %d", a.Score, tt.score)
			}
			if a.Suspicious != tt.suspicious {
				t.Errorf("suspicious = %v, want %v", a.Suspicious, tt.suspicious)
			}
		})
	}
}

func TestScorer_RapidSessionCreation(t *testing.T) {
	s, c := newTestScorer(nil)
	for i := range 6 {
		s.SessionCreated(string(rune('a'+i)), "203.0.113.10", ua1)
		c.t = c.t.Add(time.Minute)
	}
	if got := s.creations["203.0.113.10"].Count(c.t, s.cfg.Window); got != 6 {
		t.Fatalf("recent creations = %d, want 6", got)
	}

	a := s.Observe(context.Background(), Observation{SessionID: "a", IP: "203.0.113.10", UserAgent: ua1})
	if !slices.Contains(a.Indicators, IndicatorRapidSessions) {
		t.Errorf("expected rapid session indicator, got %v", a.Indicators)
	}

	c.t = c.t.Add(2 * time.Hour)
	a = s.Observe(context.Background(), Observation{SessionID: "a", IP: "203.0.113.10", UserAgent: ua1})
	if slices.Contains(a.Indicators, IndicatorRapidSessions) {
		t.Error("creation burst should age out of the window")
	}
}

func TestScorer_MessageFrequency(t *testing.T) {
	s, c := newTestScorer(nil)
	s.SessionCreated("s1", "203.0.113.10", ua1)

	obs := Observation{SessionID: "s1", IP: "203.0.113.10", UserAgent: ua1, Message: true}
	var a Assessment
	for range 101 {
		c.t = c.t.Add(10 * time.Second)
		a = s.Observe(context.Background(), obs)
	}
	if !slices.Contains(a.Indicators, IndicatorMessageFrequency) {
		t.Errorf("expected message frequency indicator after 101 messages, got %v", a.Indicators)
	}

	// Non-message requests do not count.
	obs.Message = false
	s2, _ := newTestScorer(nil)
	s2.SessionCreated("s1", "203.0.113.10", ua1)
	for range 200 {
		a = s2.Observe(context.Background(), obs)
	}
	if slices.Contains(a.Indicators, IndicatorMessageFrequency) {
		t.Error("non-message requests must not count as messages")
	}
}

func TestScorer_TerminatesAboveThreshold(t *testing.T) {
	term := &recordingTerminator{}
	s, c := newTestScorer(term)

	for i := range 6 {
		s.SessionCreated(string(rune('a'+i)), "198.51.100.1", ua1)
	}
	s.SessionCreated("victim", "203.0.113.10", ua1)

	// ip change (30) + ua change (20) + rapid creation from the new ip (40) = 90
	a := s.Observe(context.Background(), Observation{
		SessionID: "victim", CreatedAt: c.t, IP: "198.51.100.1", UserAgent: ua2,
	})
	if a.Score != 90 {
		t.Errorf("score = %d, want 90", a.Score)
	}
	if !a.Terminated {
		t.Fatal("expected session to be terminated")
	}
	if len(term.ended) != 1 || term.ended[0] != "victim" || term.reasons[0] != "anomaly_score" {
		t.Errorf("unexpected terminations %v %v", term.ended, term.reasons)
	}
	if s.Len() != 7-1 {
		t.Errorf("terminated profile should be forgotten, have %d", s.Len())
	}
}

func TestScorer_TerminateFailure(t *testing.T) {
	term := &recordingTerminator{err: errors.New("store down")}
	s, c := newTestScorer(term)

	for i := range 6 {
		s.SessionCreated(string(rune('a'+i)), "198.51.100.1", ua1)
	}
	s.SessionCreated("victim", "203.0.113.10", ua1)

	a := s.Observe(context.Background(), Observation{
		SessionID: "victim", CreatedAt: c.t, IP: "198.51.100.1", UserAgent: ua2,
	})
	if a.Terminated {
		t.Error("failed termination must not be reported as terminated")
	}
}

func TestScorer_UnknownSessionAdoptsBaseline(t *testing.T) {
	s, _ := newTestScorer(nil)

	a := s.Observe(context.Background(), Observation{SessionID: "s1", IP: "203.0.113.10", UserAgent: ua1})
	if a.Score != 0 {
		t.Errorf("first sighting should score 0, got %d", a.Score)
	}
	a = s.Observe(context.Background(), Observation{SessionID: "s1", IP: "198.51.100.1", UserAgent: ua1})
	if a.Score != 30 {
		t.Errorf("expected ip change against adopted baseline, got %d", a.Score)
	}
}

func TestScorer_Cleanup(t *testing.T) {
	s, c := newTestScorer(nil)
	s.SessionCreated("s1", "203.0.113.10", ua1)
	s.SessionCreated("s2", "203.0.113.11", ua1)

	c.t = c.t.Add(90 * time.Minute)
	s.Observe(context.Background(), Observation{SessionID: "s2", IP: "203.0.113.11", UserAgent: ua1})

	c.t = c.t.Add(60 * time.Minute)
	removed := s.Cleanup()

	// s1 idle for 2.5h is evicted; both creation windows are older than 1h.
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 profile left, got %d", s.Len())
	}
}
