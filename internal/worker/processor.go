package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"propertyops/internal/config"
	"propertyops/internal/models"
	"propertyops/internal/queue"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
)

// Processor drives the worker execution loop. It promotes due jobs, claims
// them through the store's conditional update, runs the registered handler,
// and applies the retry policy on failure.
type Processor struct {
	cfg            config.Config
	queue          *queue.RedisQueue
	store          *store.Store
	log            *zap.SugaredLogger
	handlers       map[string]Handler
	defaultHandler Handler
}

// Handler executes a job for a given type.
type Handler func(ctx context.Context, job models.BackgroundJob) error

// NewProcessor wires the worker loop.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, st *store.Store, log *zap.SugaredLogger) *Processor {
	p := &Processor{
		cfg:      cfg,
		queue:    q,
		store:    st,
		log:      log,
		handlers: make(map[string]Handler),
	}
	p.defaultHandler = p.handleDefault
	return p
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	var nextSweep time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if now := time.Now(); now.After(nextSweep) {
			p.sweepMissedJobs(ctx, now)
			nextSweep = now.Add(p.cfg.VisibilityTimeout)
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), int64(p.cfg.ScheduledBatchSize))
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			for _, id := range reclaimed {
				if err := p.store.ReleaseStuck(ctx, id); err != nil {
					p.log.Warnw("release stuck job failed", "job_id", id, "error", err)
				}
			}
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		p.processOne(ctx, jobID)
	}
}

// sweepMissedJobs re-enqueues dispatchable jobs whose Redis entry was lost,
// for example when an enqueue after job creation failed or the worker dropped
// a claim mid-flight. Only rows overdue by a full visibility window are
// touched, so the sweep never races the normal dispatch path, and a duplicate
// entry for an already-dispatched job is harmless because its claim misses.
func (p *Processor) sweepMissedJobs(ctx context.Context, now time.Time) {
	cutoff := now.Add(-p.cfg.VisibilityTimeout)
	jobs, err := p.store.DueJobs(ctx, cutoff, p.cfg.ScheduledBatchSize)
	if err != nil {
		p.log.Warnw("missed-job sweep failed", "error", err)
		return
	}
	requeued := 0
	for _, job := range jobs {
		if err := p.queue.Enqueue(ctx, job.ID, job.Queue, now); err != nil {
			p.log.Warnw("re-enqueue missed job failed", "job_id", job.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		p.log.Infow("re-enqueued missed jobs", "count", requeued)
	}
}

// processOne runs a single dequeued job id through claim, execution, and
// outcome recording.
func (p *Processor) processOne(ctx context.Context, jobID string) {
	// The conditional claim is the authoritative lease. Losing it means the
	// job was cancelled, already handled, or not yet due; either way this
	// worker walks away.
	job, claimed, err := p.store.ClaimJob(ctx, jobID)
	if err != nil {
		// Keep the in-flight entry; RequeueExpired redelivers once the
		// visibility timeout lapses and the store may be back by then.
		p.log.Warnw("claim failed", "job_id", jobID, "error", err)
		return
	}
	if !claimed {
		_ = p.queue.Ack(ctx, jobID)
		return
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	attempt := job.Attempts + 1
	execID, err := p.store.StartExecution(ctx, job.ID, attempt)
	if err != nil {
		p.log.Errorw("start execution failed", "job_id", job.ID, "error", err)
		_ = p.store.ReleaseStuck(ctx, job.ID)
		return
	}

	runErr := p.runJob(ctx, job)

	// The execution record always lands before the job's status moves, so
	// history is never behind the terminal state.
	if runErr == nil {
		if err := p.store.FinishExecution(ctx, execID, models.OutcomeSucceeded, nil); err != nil {
			p.log.Errorw("finish execution failed", "job_id", job.ID, "error", err)
		}
		if err := p.store.MarkSucceeded(ctx, job.ID); err != nil {
			// Without the status update the job is still running in Postgres.
			// Leave the in-flight entry so the visibility sweep releases and
			// redelivers it instead of marooning the row.
			p.log.Errorw("mark succeeded failed", "job_id", job.ID, "error", err)
			return
		}
		_ = p.queue.Ack(ctx, job.ID)
		telemetry.JobsSucceeded.Inc()
		p.log.Infow("job succeeded", "job_id", job.ID, "job_type", job.JobType, "attempt", attempt)
		return
	}

	msg := runErr.Error()
	if err := p.store.FinishExecution(ctx, execID, models.OutcomeFailed, &msg); err != nil {
		p.log.Errorw("finish execution failed", "job_id", job.ID, "error", err)
	}

	if attempt >= job.MaxAttempts {
		if err := p.store.MarkFailed(ctx, job.ID, attempt, msg); err != nil {
			p.log.Errorw("mark failed failed", "job_id", job.ID, "error", err)
			return
		}
		_ = p.queue.Ack(ctx, job.ID)
		telemetry.JobsFailed.Inc()
		p.log.Warnw("job failed permanently", "job_id", job.ID, "job_type", job.JobType, "attempts", attempt, "error", msg)
		return
	}

	nextRun := time.Now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempt))
	if err := p.store.MarkRetrying(ctx, job.ID, attempt, nextRun, msg); err != nil {
		p.log.Errorw("mark retrying failed", "job_id", job.ID, "error", err)
		return
	}
	_ = p.queue.Ack(ctx, job.ID)
	_ = p.queue.Schedule(ctx, job.ID, job.Queue, nextRun)
	telemetry.JobsRetried.Inc()
	p.log.Infow("job retry scheduled", "job_id", job.ID, "job_type", job.JobType, "attempt", attempt, "next_run", nextRun.UTC().Format(time.RFC3339))
}

// runJob dispatches to the type's handler under the execution timeout.
func (p *Processor) runJob(ctx context.Context, job models.BackgroundJob) error {
	handler, ok := p.handlers[job.JobType]
	if !ok {
		if p.defaultHandler == nil {
			return fmt.Errorf("no handler registered for type %q", job.JobType)
		}
		handler = p.defaultHandler
	}
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	defer cancel()
	return handler(runCtx, job)
}

// backoffWithJitter doubles the wait per attempt, capped at max, with half of
// the wait randomized to spread retry storms. Doubling stops the moment the
// cap is reached, so a large attempt number cannot overflow the duration.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	wait := base
	for i := 1; i < attempt && wait < max; i++ {
		wait *= 2
		if wait <= 0 || wait > max {
			wait = max
			break
		}
	}
	half := wait / 2
	if half <= 0 {
		return wait
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
