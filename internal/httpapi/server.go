package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/aria/internal/config"
	"github.com/antoniostano/aria/internal/conversation"
	"github.com/antoniostano/aria/internal/observability"
)

// Server exposes the diagnostics surface: health, metrics, a redacted view
// of the live conversation and rolling pipeline latencies.
type Server struct {
	cfg            config.Config
	convo          *conversation.State
	stages         *observability.StageWindow
	transportState func() string
}

func New(cfg config.Config, convo *conversation.State, stages *observability.StageWindow, transportState func() string) *Server {
	return &Server{
		cfg:            cfg,
		convo:          convo,
		stages:         stages,
		transportState: transportState,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/conversation", s.handleConversation)
	r.Get("/v1/conversation/stats", s.handleConversationStats)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	state := "unknown"
	if s.transportState != nil {
		state = s.transportState()
	}
	status := http.StatusOK
	if state != "active" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{
		"status":    "ready",
		"transport": state,
	})
}

type turnView struct {
	ItemID   string `json:"item_id"`
	Role     string `json:"role"`
	Text     string `json:"text,omitempty"`
	Resolved bool   `json:"resolved"`
}

func (s *Server) handleConversation(w http.ResponseWriter, _ *http.Request) {
	if s.convo == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation state not configured")
		return
	}
	turns := s.convo.Snapshot()
	views := make([]turnView, 0, len(turns))
	for _, t := range turns {
		views = append(views, turnView{
			ItemID:   t.ID,
			Role:     string(t.Role),
			Text:     t.Text,
			Resolved: t.Resolved,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"turns": views,
	})
}

func (s *Server) handleConversationStats(w http.ResponseWriter, _ *http.Request) {
	if s.convo == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation state not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"turns":               s.convo.Len(),
		"usage_tokens":        s.convo.UsageTokens(),
		"turns_since_summary": s.convo.TurnsSinceSummary(),
		"summaries":           s.convo.SummaryCount(),
		"pending_transcripts": len(s.convo.PendingIDs()),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "latency window not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
