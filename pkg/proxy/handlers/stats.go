package handlers

import (
	"log/slog"
	"net/http"

	"mercator-hq/chatrelay/pkg/breaker"
	"mercator-hq/chatrelay/pkg/proxy"
	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/relay"
)

// BreakerState reports the circuit breaker state.
type BreakerState interface {
	State() breaker.State
}

// UpstreamHealth reports the result of the background upstream probe.
type UpstreamHealth interface {
	Healthy() bool
}

// StatsHandler serves GET /chat/stats.
type StatsHandler struct {
	relay    Relayer
	sessions Sessions
	breaker  BreakerState
	health   UpstreamHealth
}

// NewStatsHandler creates a stats handler. sessions and health may be nil.
func NewStatsHandler(rl Relayer, sessions Sessions, br BreakerState, health UpstreamHealth) *StatsHandler {
	return &StatsHandler{relay: rl, sessions: sessions, breaker: br, health: health}
}

// ServeHTTP implements http.Handler.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cs := h.relay.Stats()

	resp := types.StatsResponse{
		Connections: types.ConnectionStats{
			Active:         cs.Active,
			Limit:          cs.Limit,
			PerIP:          cs.PerIP,
			BytesForwarded: cs.BytesForwarded,
			EventCount:     cs.EventCount,
			OldestStart:    cs.OldestStart,
			Records:        connectionRecords(h.relay.Connections()),
		},
		PendingCount:   h.relay.PendingCount(),
		BreakerState:   h.breaker.State().String(),
		UpstreamHealth: true,
	}
	if h.health != nil {
		resp.UpstreamHealth = h.health.Healthy()
	}

	if h.sessions != nil {
		counts, err := h.sessions.Stats(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count sessions", "error", err)
		} else {
			resp.Sessions = make(map[string]int, len(counts))
			for state, n := range counts {
				resp.Sessions[string(state)] = n
			}
		}
	}

	if err := proxy.WriteJSONResponse(w, http.StatusOK, resp); err != nil {
		slog.ErrorContext(ctx, "failed to write response", "error", err)
	}
}

func connectionRecords(recs []relay.ConnectionRecord) []types.ConnectionRecord {
	out := make([]types.ConnectionRecord, len(recs))
	for i, r := range recs {
		out[i] = types.ConnectionRecord{
			ID:             r.ID,
			SessionID:      r.SessionID,
			ClientIP:       r.ClientIP,
			StartTime:      r.StartTime,
			LastActivity:   r.LastActivity,
			BytesForwarded: r.BytesForwarded,
			EventCount:     r.EventCount,
		}
	}
	return out
}
