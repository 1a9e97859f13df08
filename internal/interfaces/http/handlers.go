package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/jackson97300/mia-core/internal/export"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     time.Time      `json:"timestamp"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Pipeline      map[string]any `json:"pipeline"`
	Staleness     map[string]any `json:"staleness"`
	VIX           map[string]any `json:"vix"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	summary := s.deps.Staleness.CheckAll(s.deps.VIX.Level(), now)
	counters := s.deps.Orchestrator.Counters()

	status := "healthy"
	if summary.CriticalCount > 0 {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:        status,
		Timestamp:     now,
		UptimeSeconds: now.Sub(s.start).Seconds(),
		Pipeline: map[string]any{
			"processed":            counters.Processed,
			"accepted":             counters.Accepted,
			"rejected":             counters.Rejected,
			"blocked_by_staleness": counters.BlockedByStaleness,
			"errors":               counters.Errors,
		},
		Staleness: map[string]any{
			"total":    summary.TotalSources,
			"warning":  summary.WarningCount,
			"critical": summary.CriticalCount,
		},
		VIX: map[string]any{
			"level":  s.deps.VIX.Level(),
			"regime": s.deps.VIX.CurrentRegime(),
		},
	}
	if s.deps.Registry != nil {
		if families, err := s.deps.Registry.Gather(); err == nil {
			resp.Pipeline["metric_samples"] = sampleCount(families)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func sampleCount(families []*dto.MetricFamily) int {
	n := 0
	for _, f := range families {
		n += len(f.GetMetric())
	}
	return n
}

func (s *Server) handleLatestDecision(w http.ResponseWriter, r *http.Request) {
	d := s.deps.Orchestrator.Latest()
	if d == nil {
		writeError(w, http.StatusNotFound, "no decision recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dispatcher == nil {
		writeError(w, http.StatusNotFound, "alerting disabled")
		return
	}
	n := queryInt(r, "limit", 50)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":  s.deps.Dispatcher.Recent(n),
		"dropped": s.deps.Dispatcher.Dropped(),
	})
}

func (s *Server) handleLatencyExport(w http.ResponseWriter, r *http.Request) {
	exp := export.LatencyExporter{Tracker: s.deps.Latency, Dispatcher: s.deps.Dispatcher}
	doc, err := exp.Export("json")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

func (s *Server) handleScoringExport(w http.ResponseWriter, r *http.Request) {
	exp := export.ScoringExporter{Calculator: s.deps.Scorer, Dispatcher: s.deps.Dispatcher}
	doc, err := exp.Export("json")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRaw(w, http.StatusOK, doc)
}

func (s *Server) handleStalenessExport(w http.ResponseWriter, r *http.Request) {
	summary := s.deps.Staleness.CheckAll(s.deps.VIX.Level(), time.Now().UTC())
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleVIXSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.VIX.Summary())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "unknown endpoint")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode http response")
	}
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		log.Error().Err(err).Msg("write http response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
