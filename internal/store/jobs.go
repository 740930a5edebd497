package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"propertyops/internal/apperr"
	"propertyops/internal/models"
)

const (
	// DefaultListLimit applies when a list request omits the limit.
	DefaultListLimit = 50
	// MaxListLimit is the hard cap on page size.
	MaxListLimit = 100
)

const jobColumns = `id, job_type, queue, payload, status, attempts, max_attempts, scheduled_at, org_id, last_error, created_at, updated_at`

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	JobType     string
	Queue       string
	Payload     map[string]any
	ScheduledAt time.Time
	OrgID       *string
	MaxAttempts int
}

// CreateJob inserts a pending job. ScheduledAt defaults to now.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.BackgroundJob, error) {
	if p.Queue == "" {
		p.Queue = "default"
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.ScheduledAt.IsZero() {
		p.ScheduledAt = time.Now().UTC()
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.BackgroundJob{}, apperr.Validationf("marshal payload: %v", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO background_jobs (id, job_type, queue, payload, status, attempts, max_attempts, scheduled_at, org_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $9)
	`, id, p.JobType, p.Queue, payloadJSON, models.StatusPending, p.MaxAttempts, p.ScheduledAt, p.OrgID, now)
	if err != nil {
		return models.BackgroundJob{}, apperr.Database("insert job", err)
	}

	return models.BackgroundJob{
		ID:          id,
		JobType:     p.JobType,
		Queue:       p.Queue,
		Payload:     p.Payload,
		Status:      models.StatusPending,
		Attempts:    0,
		MaxAttempts: p.MaxAttempts,
		ScheduledAt: p.ScheduledAt,
		OrgID:       p.OrgID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.BackgroundJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM background_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BackgroundJob{}, fmt.Errorf("job %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.BackgroundJob{}, apperr.Database("get job", err)
	}
	return job, nil
}

// JobFilter narrows a job listing. Zero values mean "any". Filters map onto a
// fixed set of parameterized clauses; caller input is never interpolated.
type JobFilter struct {
	JobType       string
	Status        models.JobStatus
	Queue         string
	OrgID         string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// ListJobs returns a filtered page of jobs plus the total match count.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]models.BackgroundJob, int64, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where := "TRUE"
	args := []any{}
	addClause := func(clause string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND %s $%d", clause, len(args))
	}
	if f.JobType != "" {
		addClause("job_type =", f.JobType)
	}
	if f.Status != "" {
		addClause("status =", string(f.Status))
	}
	if f.Queue != "" {
		addClause("queue =", f.Queue)
	}
	if f.OrgID != "" {
		addClause("org_id =", f.OrgID)
	}
	if !f.CreatedAfter.IsZero() {
		addClause("created_at >=", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		addClause("created_at <=", f.CreatedBefore)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM background_jobs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Database("count jobs", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT `+jobColumns+` FROM background_jobs WHERE `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Database("list jobs", err)
	}
	defer rows.Close()

	jobs := []models.BackgroundJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, apperr.Database("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Database("list jobs", err)
	}
	return jobs, total, nil
}

// RetryJob re-queues a failed or retrying job. Terminal states, cancelled
// included, stay put. A retry that keeps the attempt counter must leave at
// least one attempt unused, otherwise the next execution has nowhere legal to
// record its outcome. The conditional WHERE detects illegal transitions; a
// follow-up read tells not-found apart from wrong-state.
func (s *Store) RetryJob(ctx context.Context, id string, scheduledAt time.Time, resetAttempts bool) (models.BackgroundJob, error) {
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE background_jobs
		SET status = $2, scheduled_at = $3, attempts = CASE WHEN $4 THEN 0 ELSE attempts END, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = ANY($5) AND ($4 OR attempts < max_attempts)
		RETURNING `+jobColumns,
		id, models.StatusPending, scheduledAt, resetAttempts,
		models.RetryableStatuses)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return models.BackgroundJob{}, getErr
		}
		if !current.Status.Retryable() {
			return models.BackgroundJob{}, fmt.Errorf("cannot retry job %s in status %s: %w", id, current.Status, apperr.ErrInvalidState)
		}
		return models.BackgroundJob{}, fmt.Errorf("job %s has used all %d attempts, retry it with reset_attempts: %w", id, current.MaxAttempts, apperr.ErrInvalidState)
	}
	if err != nil {
		return models.BackgroundJob{}, apperr.Database("retry job", err)
	}
	return job, nil
}

// CancelJob cancels a pending, running, or retrying job. Terminal states are
// left untouched. A running job learns of cancellation at its next claim
// checkpoint; cancellation is cooperative.
func (s *Store) CancelJob(ctx context.Context, id string) (models.BackgroundJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE background_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING `+jobColumns,
		id, models.StatusCancelled, models.CancellableStatuses)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BackgroundJob{}, s.transitionError(ctx, id, "cancel")
	}
	if err != nil {
		return models.BackgroundJob{}, apperr.Database("cancel job", err)
	}
	return job, nil
}

// ClaimJob atomically leases a due job for execution. The WHERE-status-check
// guarantees at most one concurrent executor per job: a second claimer sees
// zero rows and walks away.
func (s *Store) ClaimJob(ctx context.Context, id string) (models.BackgroundJob, bool, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE background_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3) AND scheduled_at <= NOW()
		RETURNING `+jobColumns,
		id, models.StatusRunning, models.ClaimableStatuses)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BackgroundJob{}, false, nil
	}
	if err != nil {
		return models.BackgroundJob{}, false, apperr.Database("claim job", err)
	}
	return job, true, nil
}

// MarkSucceeded completes a running job.
func (s *Store) MarkSucceeded(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE background_jobs SET status = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusSucceeded, models.StatusRunning)
	if err != nil {
		return apperr.Database("mark succeeded", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running: %w", id, apperr.ErrInvalidState)
	}
	return nil
}

// MarkRetrying schedules another attempt after a failure.
func (s *Store) MarkRetrying(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE background_jobs SET status = $2, attempts = $3, scheduled_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, id, models.StatusRetrying, attempts, nextRun, lastErr, models.StatusRunning)
	if err != nil {
		return apperr.Database("mark retrying", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running: %w", id, apperr.ErrInvalidState)
	}
	return nil
}

// MarkFailed terminates a running job whose attempts are exhausted.
func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE background_jobs SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailed, attempts, lastErr, models.StatusRunning)
	if err != nil {
		return apperr.Database("mark failed", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running: %w", id, apperr.ErrInvalidState)
	}
	return nil
}

// ReleaseStuck returns a job whose executor disappeared back to pending.
// Conditional on running so a job that finished in the meantime is untouched.
func (s *Store) ReleaseStuck(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE background_jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusPending, models.StatusRunning)
	if err != nil {
		return apperr.Database("release stuck job", err)
	}
	return nil
}

// DueJobs returns dispatchable jobs whose scheduled_at has passed the cutoff,
// oldest first. The worker sweep re-enqueues them in case the Redis entry was
// lost; callers pass a cutoff far enough in the past that rows on the normal
// dispatch path are never touched.
func (s *Store) DueJobs(ctx context.Context, dueBefore time.Time, limit int) ([]models.BackgroundJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM background_jobs
		WHERE status = ANY($1) AND scheduled_at <= $2
		ORDER BY scheduled_at LIMIT $3
	`, models.ClaimableStatuses, dueBefore, limit)
	if err != nil {
		return nil, apperr.Database("list due jobs", err)
	}
	defer rows.Close()

	jobs := []models.BackgroundJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Database("scan due job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("list due jobs", err)
	}
	return jobs, nil
}

// StartExecution appends the attempt's audit row before the handler runs.
func (s *Store) StartExecution(ctx context.Context, jobID string, attempt int) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_executions (id, job_id, attempt, started_at)
		VALUES ($1, $2, $3, NOW())
	`, id, jobID, attempt)
	if err != nil {
		return "", apperr.Database("start execution", err)
	}
	return id, nil
}

// FinishExecution records the attempt's outcome. The worker calls this before
// the job's own status update so history never lags the terminal state.
func (s *Store) FinishExecution(ctx context.Context, execID string, outcome models.ExecutionOutcome, errMsg *string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_executions SET finished_at = NOW(), outcome = $2, error_message = $3
		WHERE id = $1
	`, execID, string(outcome), errMsg)
	if err != nil {
		return apperr.Database("finish execution", err)
	}
	return nil
}

// ListExecutions returns a job's attempt history in start order.
func (s *Store) ListExecutions(ctx context.Context, jobID string) ([]models.JobExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, attempt, started_at, finished_at, outcome, error_message
		FROM job_executions WHERE job_id = $1 ORDER BY started_at
	`, jobID)
	if err != nil {
		return nil, apperr.Database("list executions", err)
	}
	defer rows.Close()

	execs := []models.JobExecution{}
	for rows.Next() {
		var e models.JobExecution
		var finished pgtype.Timestamptz
		var outcome, errMsg pgtype.Text
		if err := rows.Scan(&e.ID, &e.JobID, &e.Attempt, &e.StartedAt, &finished, &outcome, &errMsg); err != nil {
			return nil, apperr.Database("scan execution", err)
		}
		e.FinishedAt = timePtr(finished)
		if outcome.Valid {
			e.Outcome = models.ExecutionOutcome(outcome.String)
		}
		e.ErrorMessage = textPtr(errMsg)
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("list executions", err)
	}
	return execs, nil
}

// QueueStats aggregates per-queue counts and execution latencies.
func (s *Store) QueueStats(ctx context.Context) ([]models.QueueStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue,
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'retrying'),
			COUNT(*) FILTER (WHERE status = 'failed' AND updated_at >= NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE status = 'succeeded' AND updated_at >= NOW() - INTERVAL '24 hours'),
			COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(scheduled_at) FILTER (WHERE status = 'pending')), 0)
		FROM background_jobs
		GROUP BY queue
		ORDER BY queue
	`)
	if err != nil {
		return nil, apperr.Database("queue stats", err)
	}
	defer rows.Close()

	stats := []models.QueueStats{}
	byQueue := map[string]int{}
	for rows.Next() {
		var st models.QueueStats
		var oldest float64
		if err := rows.Scan(&st.Queue, &st.PendingCount, &st.RunningCount, &st.RetryingCount, &st.FailedCount24h, &st.CompletedCount24h, &oldest); err != nil {
			return nil, apperr.Database("scan queue stats", err)
		}
		st.OldestPendingAgeSeconds = int64(oldest)
		byQueue[st.Queue] = len(stats)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("queue stats", err)
	}

	// Latency aggregates come from completed executions in the last 24h.
	durRows, err := s.pool.Query(ctx, `
		SELECT j.queue,
			COALESCE(AVG(EXTRACT(EPOCH FROM e.finished_at - e.started_at) * 1000), 0),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM e.finished_at - e.started_at) * 1000), 0)
		FROM job_executions e
		JOIN background_jobs j ON j.id = e.job_id
		WHERE e.finished_at IS NOT NULL AND e.started_at >= NOW() - INTERVAL '24 hours'
		GROUP BY j.queue
	`)
	if err != nil {
		return nil, apperr.Database("queue durations", err)
	}
	defer durRows.Close()

	for durRows.Next() {
		var queue string
		var avg, p95 float64
		if err := durRows.Scan(&queue, &avg, &p95); err != nil {
			return nil, apperr.Database("scan queue durations", err)
		}
		if i, ok := byQueue[queue]; ok {
			stats[i].AvgDurationMs = avg
			stats[i].P95DurationMs = p95
		}
	}
	if err := durRows.Err(); err != nil {
		return nil, apperr.Database("queue durations", err)
	}
	return stats, nil
}

// TypeStats aggregates per-job-type totals and success rates.
func (s *Store) TypeStats(ctx context.Context) ([]models.TypeStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT j.job_type,
			COUNT(DISTINCT j.id),
			COUNT(DISTINCT j.id) FILTER (WHERE j.status = 'pending'),
			COUNT(DISTINCT j.id) FILTER (WHERE j.status = 'failed'),
			COALESCE(AVG(EXTRACT(EPOCH FROM e.finished_at - e.started_at) * 1000), 0),
			COUNT(e.id) FILTER (WHERE e.outcome = 'succeeded'),
			COUNT(e.id) FILTER (WHERE e.outcome IS NOT NULL)
		FROM background_jobs j
		LEFT JOIN job_executions e ON e.job_id = j.id AND e.finished_at IS NOT NULL
		GROUP BY j.job_type
		ORDER BY j.job_type
	`)
	if err != nil {
		return nil, apperr.Database("type stats", err)
	}
	defer rows.Close()

	stats := []models.TypeStats{}
	for rows.Next() {
		var st models.TypeStats
		var succeeded, finished int64
		if err := rows.Scan(&st.JobType, &st.TotalCount, &st.PendingCount, &st.FailedCount, &st.AvgDurationMs, &succeeded, &finished); err != nil {
			return nil, apperr.Database("scan type stats", err)
		}
		if finished > 0 {
			st.SuccessRate = float64(succeeded) / float64(finished)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Database("type stats", err)
	}
	return stats, nil
}

// transitionError distinguishes a missing job from an illegal transition
// after a conditional update touched zero rows.
func (s *Store) transitionError(ctx context.Context, id, op string) error {
	if _, err := s.GetJob(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("cannot %s job %s in its current status: %w", op, id, apperr.ErrInvalidState)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.BackgroundJob, error) {
	var job models.BackgroundJob
	var payloadJSON []byte
	var orgID, lastErr pgtype.Text

	if err := row.Scan(&job.ID, &job.JobType, &job.Queue, &payloadJSON, &job.Status, &job.Attempts, &job.MaxAttempts, &job.ScheduledAt, &orgID, &lastErr, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.BackgroundJob{}, err
	}
	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.BackgroundJob{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	job.OrgID = textPtr(orgID)
	job.LastError = textPtr(lastErr)
	return job, nil
}
