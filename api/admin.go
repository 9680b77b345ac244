package api

import (
	"net/http"
)

func (s *Server) handleProviderEnable(w http.ResponseWriter, r *http.Request) {
	s.setProviderEnabled(w, r, true)
}

func (s *Server) handleProviderDisable(w http.ResponseWriter, r *http.Request) {
	s.setProviderEnabled(w, r, false)
}

func (s *Server) setProviderEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := r.PathValue("id")
	p, ok := s.reg.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "provider "+id+" not found")
		return
	}

	p.SetEnabled(enabled)
	s.log.Info("provider toggled", "provider", id, "enabled", enabled)
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": id,
		"enabled":  enabled,
	})
}

func (s *Server) handleProviderPriority(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, ok := s.reg.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "provider "+id+" not found")
		return
	}

	var req struct {
		Priority *int `json:"priority"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Priority == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "priority is required")
		return
	}
	if *req.Priority < 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "priority must be non-negative")
		return
	}

	p.SetPriority(*req.Priority)
	s.log.Info("provider priority changed", "provider", id, "priority", *req.Priority)
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": id,
		"priority": *req.Priority,
	})
}

func (s *Server) handleAdminCacheClear(w http.ResponseWriter, r *http.Request) {
	s.orch.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cache cleared"})
}

func (s *Server) handleAdminCacheMaintain(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.TriggerMaintenance(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "maintenance triggered"})
}
