package api

import (
	"net/http"
	"time"

	"searchrelay/internal/version"
	"searchrelay/model"
)

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": s.reg.PerformanceSummary(),
	})
}

func (s *Server) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Summary())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary := s.monitor.Summary()

	resp := map[string]any{
		"version":    version.String(),
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"overall":    summary.Overall,
		"providers":  s.reg.PerformanceSummary(),
		"metrics":    s.orch.Metrics(),
	}
	if s.cache != nil {
		resp["cache"] = s.cache.Stats()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleHealth is the liveness probe: 200 while at least one provider is
// usable, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	summary := s.monitor.Summary()

	status := http.StatusOK
	if summary.Overall == model.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":     summary.Overall,
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	})
}
