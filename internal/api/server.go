package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"propertyops/internal/apperr"
	"propertyops/internal/config"
	"propertyops/internal/costs"
	"propertyops/internal/health"
	"propertyops/internal/queue"
	"propertyops/internal/ratelimit"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
)

// Server wires HTTP handlers for the management API.
type Server struct {
	cfg     config.Config
	store   *store.Store
	queue   *queue.RedisQueue
	health  *health.Registry
	costs   *costs.Monitor
	limiter *ratelimit.OrgLimiter
	log     *zap.SugaredLogger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, q *queue.RedisQueue, hr *health.Registry, cm *costs.Monitor, limiter *ratelimit.OrgLimiter, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		health:  hr,
		costs:   cm,
		limiter: limiter,
		log:     log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(s.requireAdmin)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleCreateJob)
			r.Get("/", s.handleListJobs)
			r.Get("/queues/stats", s.handleQueueStats)
			r.Get("/types/stats", s.handleTypeStats)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/retry", s.handleRetryJob)
			r.Post("/{id}/cancel", s.handleCancelJob)
			r.Get("/{id}/executions", s.handleListExecutions)
		})

		r.Route("/health", func(r chi.Router) {
			r.Get("/detailed", s.handleDetailedHealth)
			r.Get("/metrics", s.handleHealthMetrics)
			r.Get("/checks", s.handleListChecks)
			r.Get("/checks/{id}", s.handleGetCheck)
			r.Post("/checks/{id}/run", s.handleRunCheck)
			r.Get("/checks/{id}/results", s.handleListCheckResults)
			r.Get("/alerts", s.handleListHealthAlerts)
			r.Post("/alerts/{id}/acknowledge", s.handleAcknowledgeHealthAlert)
			r.Post("/alerts/{id}/resolve", s.handleResolveHealthAlert)
		})

		r.Route("/costs", func(r chi.Router) {
			r.Post("/", s.handleRecordCost)
			r.Get("/", s.handleListCosts)
			r.Get("/dashboard", s.handleCostDashboard)
			r.Post("/budgets", s.handleCreateBudget)
			r.Get("/budgets", s.handleListBudgets)
			r.Get("/budgets/{id}", s.handleGetBudget)
			r.Patch("/budgets/{id}", s.handleUpdateBudget)
			r.Get("/alerts", s.handleListCostAlerts)
			r.Post("/alerts/{id}/acknowledge", s.handleAcknowledgeCostAlert)
			r.Get("/utilization", s.handleListUtilization)
			r.Get("/recommendations", s.handleListRecommendations)
			r.Post("/recommendations/{id}/implement", s.handleImplementRecommendation)
		})
	})

	return r
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// writeError maps a service error onto the structured body. Database causes
// are logged, never leaked.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.Code(err)
	message := err.Error()
	if code == "database_error" || code == "internal_error" {
		s.log.Errorw("request failed", "error", err)
		message = "internal error"
	}
	writeErrorBody(w, status, code, message)
}
