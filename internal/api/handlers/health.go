package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/matiasleandrokruk/velune/internal/domain/relay"
)

// UpstreamChecker probes the generation engine. *llm.OllamaProvider satisfies it.
type UpstreamChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionCounter reports sessions in flight. *relay.Relay satisfies it.
type SessionCounter interface {
	Active() int64
}

// StatsSource reports lifecycle totals. *relay.Monitor satisfies it.
type StatsSource interface {
	Snapshot() relay.Stats
}

const upstreamProbeTimeout = 2 * time.Second

// HealthHandler serves GET / and GET /health.
type HealthHandler struct {
	model    string
	upstream UpstreamChecker
	sessions SessionCounter
	stats    StatsSource
}

// NewHealthHandler builds the handler; upstream and stats may be nil.
func NewHealthHandler(model string, upstream UpstreamChecker, sessions SessionCounter, stats StatsSource) *HealthHandler {
	return &HealthHandler{model: model, upstream: upstream, sessions: sessions, stats: stats}
}

type rootResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type healthResponse struct {
	Status         string       `json:"status"`
	Model          string       `json:"model"`
	Upstream       string       `json:"upstream"`
	ActiveSessions int64        `json:"active_sessions"`
	Sessions       *relay.Stats `json:"sessions,omitempty"`
}

// Root reports that the relay is up and which model it serves.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse{Status: "ok", Model: h.model})
}

// Health adds the upstream probe and session counters. It answers 200 even when
// the engine is unreachable; the upstream field carries that state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Model: h.model, Upstream: "ok"}
	if h.upstream != nil {
		ctx, cancel := context.WithTimeout(r.Context(), upstreamProbeTimeout)
		defer cancel()
		if err := h.upstream.HealthCheck(ctx); err != nil {
			resp.Upstream = "unreachable"
		}
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.Active()
	}
	if h.stats != nil {
		s := h.stats.Snapshot()
		resp.Sessions = &s
	}
	writeJSON(w, http.StatusOK, resp)
}
