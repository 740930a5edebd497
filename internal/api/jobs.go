package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"propertyops/internal/models"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
)

type createJobRequest struct {
	JobType     string         `json:"job_type"`
	Queue       string         `json:"queue"`
	Payload     map[string]any `json:"payload"`
	ScheduledAt *time.Time     `json:"scheduled_at"`
	MaxAttempts int            `json:"max_attempts"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
		return
	}
	if req.JobType == "" {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "job_type is required")
		return
	}
	if req.Queue != "" && !s.knownQueue(req.Queue) {
		writeErrorBody(w, http.StatusBadRequest, "validation_error", "unknown queue: "+req.Queue)
		return
	}

	p := principalFrom(r.Context())
	allowed, _, err := s.limiter.Allow(r.Context(), p.OrgID)
	if err != nil {
		s.log.Warnw("rate limiter unavailable, allowing request", "error", err)
	} else if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeErrorBody(w, http.StatusTooManyRequests, "rate_limited", "job submission rate limit exceeded")
		return
	}

	params := store.CreateJobParams{
		JobType:     req.JobType,
		Queue:       req.Queue,
		Payload:     req.Payload,
		MaxAttempts: req.MaxAttempts,
	}
	if req.ScheduledAt != nil {
		params.ScheduledAt = req.ScheduledAt.UTC()
	}
	if p.OrgID != "" {
		orgID := p.OrgID
		params.OrgID = &orgID
	}

	job, err := s.store.CreateJob(r.Context(), params)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if job.ScheduledAt.After(time.Now().UTC()) {
		err = s.queue.Schedule(r.Context(), job.ID, job.Queue, job.ScheduledAt)
	} else {
		err = s.queue.Enqueue(r.Context(), job.ID, job.Queue, job.ScheduledAt)
	}
	if err != nil {
		// The job row exists; the worker's missed-job sweep enqueues it again.
		s.log.Errorw("enqueue after create failed", "job_id", job.ID, "error", err)
	}

	telemetry.JobsCreated.Inc()
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) knownQueue(name string) bool {
	for _, q := range s.cfg.Queues {
		if q == name {
			return true
		}
	}
	return false
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type listResponse struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := store.JobFilter{
		JobType: q.Get("job_type"),
		Queue:   q.Get("queue"),
		OrgID:   q.Get("org_id"),
		Limit:   parseIntParam(q.Get("limit"), store.DefaultListLimit),
		Offset:  parseIntParam(q.Get("offset"), 0),
	}
	if raw := q.Get("status"); raw != "" {
		if !models.ValidJobStatus(raw) {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "unknown status: "+raw)
			return
		}
		f.Status = models.JobStatus(raw)
	}
	if raw := q.Get("created_after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "created_after must be RFC 3339")
			return
		}
		f.CreatedAfter = t
	}
	if raw := q.Get("created_before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "created_before must be RFC 3339")
			return
		}
		f.CreatedBefore = t
	}

	jobs, total, err := s.store.ListJobs(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: jobs, Total: total, Limit: clampLimit(f.Limit), Offset: f.Offset})
}

type retryJobRequest struct {
	ScheduledAt   *time.Time `json:"scheduled_at"`
	ResetAttempts bool       `json:"reset_attempts"`
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req retryJobRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErrorBody(w, http.StatusBadRequest, "validation_error", "invalid JSON body")
			return
		}
	}
	scheduledAt := time.Now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	job, err := s.store.RetryJob(r.Context(), id, scheduledAt, req.ResetAttempts)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if job.ScheduledAt.After(time.Now().UTC()) {
		err = s.queue.Schedule(r.Context(), job.ID, job.Queue, job.ScheduledAt)
	} else {
		err = s.queue.Enqueue(r.Context(), job.ID, job.Queue, job.ScheduledAt)
	}
	if err != nil {
		s.log.Errorw("enqueue after retry failed", "job_id", job.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.CancelJob(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.queue.Remove(r.Context(), id); err != nil {
		s.log.Warnw("remove cancelled job from queue failed", "job_id", id, "error", err)
	}
	telemetry.JobsCancelled.Inc()
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// 404 for an unknown job rather than an empty history.
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	execs, err := s.store.ListExecutions(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": execs})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.QueueStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (s *Server) handleTypeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TypeStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": stats})
}

func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		return store.MaxListLimit
	}
	return limit
}
