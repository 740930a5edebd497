package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
	StatusRetrying  JobStatus = "retrying"
	StatusCancelled JobStatus = "cancelled"
)

var allJobStatuses = []JobStatus{
	StatusPending, StatusRunning, StatusSucceeded, StatusFailed, StatusRetrying, StatusCancelled,
}

// ValidJobStatus reports whether s is a known job status. Unknown values are
// rejected at the API boundary, not deep in the store.
func ValidJobStatus(s string) bool {
	for _, known := range allJobStatuses {
		if JobStatus(s) == known {
			return true
		}
	}
	return false
}

func statusStrings(allowed func(JobStatus) bool) []string {
	out := []string{}
	for _, s := range allJobStatuses {
		if allowed(s) {
			out = append(out, string(s))
		}
	}
	return out
}

// The SQL status filters in the store are derived from the guard methods
// below, so a lifecycle change in one place cannot drift from the other.
var (
	ClaimableStatuses   = statusStrings(JobStatus.Claimable)
	RetryableStatuses   = statusStrings(JobStatus.Retryable)
	CancellableStatuses = statusStrings(JobStatus.Cancellable)
)

// Terminal reports whether a job in this status can never transition again.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusCancelled
}

// Cancellable reports whether a job in this status may move to cancelled.
func (s JobStatus) Cancellable() bool {
	switch s {
	case StatusPending, StatusRunning, StatusRetrying:
		return true
	default:
		return false
	}
}

// Retryable reports whether a manual retry is legal from this status.
// Terminal states, including cancelled, are immutable.
func (s JobStatus) Retryable() bool {
	return s == StatusFailed || s == StatusRetrying
}

// Claimable reports whether a worker may lease a job in this status.
func (s JobStatus) Claimable() bool {
	return s == StatusPending || s == StatusRetrying
}

// BackgroundJob is a unit of deferred work persisted in Postgres.
type BackgroundJob struct {
	ID          string         `json:"id"`
	JobType     string         `json:"job_type"`
	Queue       string         `json:"queue"`
	Payload     map[string]any `json:"payload"`
	Status      JobStatus      `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	OrgID       *string        `json:"org_id,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ExecutionOutcome is the result of a single attempt.
type ExecutionOutcome string

const (
	OutcomeSucceeded ExecutionOutcome = "succeeded"
	OutcomeFailed    ExecutionOutcome = "failed"
)

// JobExecution is one attempt's audit record. Rows are append-only and owned
// by the job they record.
type JobExecution struct {
	ID           string           `json:"id"`
	JobID        string           `json:"job_id"`
	Attempt      int              `json:"attempt"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	Outcome      ExecutionOutcome `json:"outcome,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
}

// QueueStats aggregates one queue's current shape for dashboards.
type QueueStats struct {
	Queue                   string  `json:"queue"`
	PendingCount            int64   `json:"pending_count"`
	RunningCount            int64   `json:"running_count"`
	RetryingCount           int64   `json:"retrying_count"`
	FailedCount24h          int64   `json:"failed_count_24h"`
	CompletedCount24h       int64   `json:"completed_count_24h"`
	AvgDurationMs           float64 `json:"avg_duration_ms"`
	P95DurationMs           float64 `json:"p95_duration_ms"`
	OldestPendingAgeSeconds int64   `json:"oldest_pending_age_seconds"`
}

// TypeStats aggregates one job type's history.
type TypeStats struct {
	JobType       string  `json:"job_type"`
	TotalCount    int64   `json:"total_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	PendingCount  int64   `json:"pending_count"`
	FailedCount   int64   `json:"failed_count"`
}
