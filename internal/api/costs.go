package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"propertyops/internal/models"
	"propertyops/internal/store"
)

type recordCostRequest struct {
	Period      string  `json:"period"`
	ServiceType string  `json:"service_type"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Description *string `json:"description"`
	OrgID       *string `json:"org_id"`
}

func (s *Server) handleRecordCost(w http.ResponseWriter, r *http.Request) {
	var req recordCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	cost, err := s.costs.RecordCost(r.Context(), models.InfrastructureCost{
		Period:      req.Period,
		ServiceType: req.ServiceType,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		OrgID:       req.OrgID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cost)
}

func (s *Server) handleListCosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.CostFilter{
		PeriodFrom:  q.Get("period_from"),
		PeriodTo:    q.Get("period_to"),
		ServiceType: q.Get("service_type"),
		OrgID:       q.Get("org_id"),
		Limit:       parseIntParam(q.Get("limit"), store.DefaultListLimit),
		Offset:      parseIntParam(q.Get("offset"), 0),
	}
	items, total, err := s.costs.ListCosts(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total, Limit: clampLimit(f.Limit), Offset: f.Offset})
}

func (s *Server) handleCostDashboard(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period != "" {
		if _, err := time.Parse("2006-01", period); err != nil {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "period must be YYYY-MM")
			return
		}
	}
	dash, err := s.costs.Dashboard(r.Context(), period)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

type createBudgetRequest struct {
	Period          string  `json:"period"`
	ServiceType     *string `json:"service_type"`
	ThresholdAmount float64 `json:"threshold_amount"`
	Currency        string  `json:"currency"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req createBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	budget, err := s.costs.CreateBudget(r.Context(), models.CostBudget{
		Period:          req.Period,
		ServiceType:     req.ServiceType,
		ThresholdAmount: req.ThresholdAmount,
		Currency:        req.Currency,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.costs.ListBudgets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": budgets})
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	budget, err := s.costs.GetBudget(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var u models.BudgetUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	budget, err := s.costs.UpdateBudget(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, budget)
}

func (s *Server) handleListCostAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("severity"); raw != "" && !models.ValidAlertSeverity(raw) {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "unknown severity: "+raw)
		return
	}
	f := store.CostAlertFilter{
		UnacknowledgedOnly: q.Get("unacknowledged") == "true",
		Severity:           models.AlertSeverity(q.Get("severity")),
		Limit:              parseIntParam(q.Get("limit"), store.DefaultListLimit),
		Offset:             parseIntParam(q.Get("offset"), 0),
	}
	alerts, total, err := s.costs.ListAlerts(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: alerts, Total: total, Limit: clampLimit(f.Limit), Offset: f.Offset})
}

func (s *Server) handleAcknowledgeCostAlert(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	alert, err := s.costs.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleListUtilization(w http.ResponseWriter, r *http.Request) {
	items, err := s.costs.ListResourceUtilization(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	items, err := s.costs.ListRecommendations(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleImplementRecommendation(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	rec, err := s.costs.MarkRecommendationImplemented(r.Context(), chi.URLParam(r, "id"), p.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
