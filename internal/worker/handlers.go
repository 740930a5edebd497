package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"propertyops/internal/costs"
	"propertyops/internal/models"
)

// EmailSendHandler simulates delivery of a tenant notification email. Real
// delivery goes through the gateway's mail relay; the job exists so retries
// and audit history live here.
func EmailSendHandler(log *zap.SugaredLogger) Handler {
	return func(ctx context.Context, job models.BackgroundJob) error {
		to, _ := job.Payload["to"].(string)
		if to == "" {
			return errors.New("payload.to is required")
		}
		subject, _ := job.Payload["subject"].(string)
		if subject == "" {
			return errors.New("payload.subject is required")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		log.Infow("email dispatched", "job_id", job.ID, "to", to, "subject", subject)
		return nil
	}
}

// CostReportExportHandler renders a period's cost report and uploads it.
func CostReportExportHandler(monitor *costs.Monitor, log *zap.SugaredLogger) Handler {
	return func(ctx context.Context, job models.BackgroundJob) error {
		period, _ := job.Payload["period"].(string)
		if period == "" {
			period = time.Now().UTC().Format("2006-01")
		}
		location, err := monitor.ExportReport(ctx, period)
		if err != nil {
			return fmt.Errorf("export cost report: %w", err)
		}
		log.Infow("cost report exported", "job_id", job.ID, "period", period, "location", location)
		return nil
	}
}

// handleDefault keeps simulated behavior for job types without a registered
// handler, used in development and testing.
func (p *Processor) handleDefault(ctx context.Context, job models.BackgroundJob) error {
	if val, ok := job.Payload["should_fail"].(bool); ok && val {
		return errors.New("simulated failure requested by payload.should_fail")
	}
	if ms, ok := asInt(job.Payload["duration_ms"]); ok && ms > 0 {
		sleep := time.Duration(ms) * time.Millisecond
		if sleep > p.cfg.VisibilityTimeout/2 {
			_ = p.queue.ExtendLease(ctx, job.ID, sleep)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	default:
		return 0, false
	}
}
