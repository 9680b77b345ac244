package api

import (
	"net/http"

	"searchrelay/model"
	"searchrelay/orchestrator"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body: "+err.Error())
		return
	}

	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "query is required")
		return
	}

	result := s.orch.Search(r.Context(), orchestrator.SearchParams{
		Query:       req.Query,
		TechHint:    req.TechHint,
		MaxResults:  req.MaxResults,
		ProviderIDs: req.Providers,
		Locale:      req.Locale,
		SafeSearch:  req.SafeSearch,
	})
	result.TraceID = traceID(r)

	writeJSON(w, http.StatusOK, result)
}
