package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"propertyops/internal/models"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
)

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	sys, err := s.health.DetailedHealth(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if sys.Status == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, sys)
}

func (s *Server) handleHealthMetrics(w http.ResponseWriter, r *http.Request) {
	samples, err := telemetry.Snapshot()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": samples})
}

func (s *Server) handleListChecks(w http.ResponseWriter, r *http.Request) {
	checks, err := s.health.ListChecks(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": checks})
}

func (s *Server) handleGetCheck(w http.ResponseWriter, r *http.Request) {
	check, err := s.health.GetCheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	result, err := s.health.RunCheck(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListCheckResults(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), store.DefaultListLimit)
	results, err := s.health.ListResults(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": results})
}

func (s *Server) handleListHealthAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("status"); raw != "" && !models.ValidAlertStatus(raw) {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "unknown status: "+raw)
		return
	}
	if raw := q.Get("severity"); raw != "" && !models.ValidAlertSeverity(raw) {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "unknown severity: "+raw)
		return
	}
	f := store.HealthAlertFilter{
		Status:   models.AlertStatus(q.Get("status")),
		Severity: models.AlertSeverity(q.Get("severity")),
		Limit:    parseIntParam(q.Get("limit"), store.DefaultListLimit),
		Offset:   parseIntParam(q.Get("offset"), 0),
	}
	alerts, total, err := s.health.ListAlerts(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: alerts, Total: total, Limit: clampLimit(f.Limit), Offset: f.Offset})
}

type alertActionRequest struct {
	Note *string `json:"note"`
}

func (s *Server) handleAcknowledgeHealthAlert(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
			return
		}
	}
	p := principalFrom(r.Context())
	alert, err := s.health.Acknowledge(r.Context(), chi.URLParam(r, "id"), p.UserID, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleResolveHealthAlert(w http.ResponseWriter, r *http.Request) {
	var req alertActionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
			return
		}
	}
	p := principalFrom(r.Context())
	alert, err := s.health.Resolve(r.Context(), chi.URLParam(r, "id"), p.UserID, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}
