package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"propertyops/internal/apperr"
	"propertyops/internal/models"
)

var (
	testStore     *Store
	testContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "propertyops",
				"POSTGRES_PASSWORD": "propertyops",
				"POSTGRES_DB":       "propertyops_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}

	port, err := testContainer.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://propertyops:propertyops@%s:%s/propertyops_test?sslmode=disable", host, port.Port())
	testStore, err = New(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	if err := testStore.RunMigrations(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	code := m.Run()

	testStore.Close()
	_ = testContainer.Terminate(ctx)
	os.Exit(code)
}

func createTestJob(t *testing.T, maxAttempts int, scheduledAt time.Time) models.BackgroundJob {
	t.Helper()
	job, err := testStore.CreateJob(context.Background(), CreateJobParams{
		JobType:     "email_send",
		Queue:       "default",
		Payload:     map[string]any{"to": "ops@example.com"},
		ScheduledAt: scheduledAt,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestRetryJobRequiresRemainingAttempts(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 2, time.Now().Add(-time.Second))

	// Burn both attempts the way the worker does.
	if _, claimed, err := testStore.ClaimJob(ctx, job.ID); err != nil || !claimed {
		t.Fatalf("first claim = %v, %v", claimed, err)
	}
	if err := testStore.MarkRetrying(ctx, job.ID, 1, time.Now().Add(-time.Second), "boom"); err != nil {
		t.Fatalf("mark retrying: %v", err)
	}
	if _, claimed, err := testStore.ClaimJob(ctx, job.ID); err != nil || !claimed {
		t.Fatalf("second claim = %v, %v", claimed, err)
	}
	if err := testStore.MarkFailed(ctx, job.ID, 2, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// With every attempt used, a retry that keeps the counter would hand the
	// worker an attempt number the attempts check constraint rejects.
	_, err := testStore.RetryJob(ctx, job.ID, time.Time{}, false)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("preserve-attempts retry of exhausted job = %v, want invalid state", err)
	}

	got, err := testStore.RetryJob(ctx, job.ID, time.Time{}, true)
	if err != nil {
		t.Fatalf("reset retry: %v", err)
	}
	if got.Status != models.StatusPending || got.Attempts != 0 {
		t.Fatalf("reset retry = %s attempts %d, want pending 0", got.Status, got.Attempts)
	}
}

func TestRetryJobPreservesUnusedAttempts(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 3, time.Now().Add(-time.Second))

	if _, claimed, err := testStore.ClaimJob(ctx, job.ID); err != nil || !claimed {
		t.Fatalf("claim = %v, %v", claimed, err)
	}
	if err := testStore.MarkFailed(ctx, job.ID, 1, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := testStore.RetryJob(ctx, job.ID, time.Time{}, false)
	if err != nil {
		t.Fatalf("retry with attempts left: %v", err)
	}
	if got.Status != models.StatusPending || got.Attempts != 1 {
		t.Fatalf("retry = %s attempts %d, want pending 1", got.Status, got.Attempts)
	}
}

func TestRetryJobRejectsTerminalAndMissing(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 3, time.Now().Add(-time.Second))

	if _, err := testStore.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := testStore.RetryJob(ctx, job.ID, time.Time{}, true); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("retry of cancelled job = %v, want invalid state", err)
	}
	if _, err := testStore.RetryJob(ctx, "no-such-job", time.Time{}, true); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("retry of missing job = %v, want not found", err)
	}
}

func TestCancelJobTransitions(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 3, time.Now().Add(-time.Second))

	got, err := testStore.CancelJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	if _, err := testStore.CancelJob(ctx, job.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("double cancel = %v, want invalid state", err)
	}
	if _, err := testStore.CancelJob(ctx, "no-such-job"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("cancel missing = %v, want not found", err)
	}
}

func TestClaimJobSingleWinner(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 3, time.Now().Add(-time.Second))

	if _, claimed, err := testStore.ClaimJob(ctx, job.ID); err != nil || !claimed {
		t.Fatalf("first claim = %v, %v", claimed, err)
	}
	if _, claimed, err := testStore.ClaimJob(ctx, job.ID); err != nil || claimed {
		t.Fatalf("second claim = %v, %v, want miss", claimed, err)
	}

	future := createTestJob(t, 3, time.Now().Add(time.Hour))
	if _, claimed, err := testStore.ClaimJob(ctx, future.ID); err != nil || claimed {
		t.Fatalf("claim of future job = %v, %v, want miss", claimed, err)
	}
}

func TestMarkTransitionsRequireRunning(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 3, time.Now().Add(-time.Second))

	if err := testStore.MarkSucceeded(ctx, job.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("mark succeeded on pending = %v, want invalid state", err)
	}

	if _, claimed, err := testStore.ClaimJob(ctx, job.ID); err != nil || !claimed {
		t.Fatalf("claim = %v, %v", claimed, err)
	}
	if err := testStore.MarkSucceeded(ctx, job.ID); err != nil {
		t.Fatalf("mark succeeded on running: %v", err)
	}
	if err := testStore.MarkFailed(ctx, job.ID, 1, "late"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("mark failed on succeeded = %v, want invalid state", err)
	}
}

func TestDueJobsReturnsOnlyOverdueDispatchable(t *testing.T) {
	ctx := context.Background()
	overdue := createTestJob(t, 3, time.Now().Add(-2*time.Hour))
	fresh := createTestJob(t, 3, time.Now().Add(-time.Second))
	cancelled := createTestJob(t, 3, time.Now().Add(-2*time.Hour))
	if _, err := testStore.CancelJob(ctx, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	jobs, err := testStore.DueJobs(ctx, time.Now().Add(-30*time.Minute), 100)
	if err != nil {
		t.Fatalf("due jobs: %v", err)
	}
	seen := map[string]bool{}
	for _, j := range jobs {
		seen[j.ID] = true
	}
	if !seen[overdue.ID] {
		t.Fatal("overdue pending job missing from sweep")
	}
	if seen[fresh.ID] {
		t.Fatal("recently scheduled job must not be swept")
	}
	if seen[cancelled.ID] {
		t.Fatal("cancelled job must not be swept")
	}
}

func TestExecutionHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	job := createTestJob(t, 3, time.Now().Add(-time.Second))

	first, err := testStore.StartExecution(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	msg := "boom"
	if err := testStore.FinishExecution(ctx, first, models.OutcomeFailed, &msg); err != nil {
		t.Fatalf("finish execution: %v", err)
	}
	second, err := testStore.StartExecution(ctx, job.ID, 2)
	if err != nil {
		t.Fatalf("start execution: %v", err)
	}
	if err := testStore.FinishExecution(ctx, second, models.OutcomeSucceeded, nil); err != nil {
		t.Fatalf("finish execution: %v", err)
	}

	execs, err := testStore.ListExecutions(ctx, job.ID)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("executions = %d, want 2", len(execs))
	}
	if execs[0].Attempt != 1 || execs[1].Attempt != 2 {
		t.Fatalf("attempt order = %d, %d, want 1, 2", execs[0].Attempt, execs[1].Attempt)
	}
	if execs[0].Outcome != models.OutcomeFailed {
		t.Fatalf("first outcome = %v, want failed", execs[0].Outcome)
	}
}

func createTestCheck(t *testing.T, name string) models.HealthCheckConfig {
	t.Helper()
	check, err := testStore.UpsertHealthCheck(context.Background(), models.HealthCheckConfig{
		ID:             name,
		Name:           name,
		Enabled:        true,
		IntervalSec:    30,
		TimeoutSec:     5,
		AlertThreshold: models.HealthUnhealthy,
		AlertSeverity:  models.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("upsert check: %v", err)
	}
	return check
}

func TestHealthAlertDedupAndRebreach(t *testing.T) {
	ctx := context.Background()
	check := createTestCheck(t, "postgres-dedup")

	alert, created, err := testStore.CreateHealthAlertIfNoneActive(ctx, check.ID, models.SeverityCritical, "probe failing")
	if err != nil || !created {
		t.Fatalf("first breach = %v, %v, want created", created, err)
	}

	// A second breach while the alert is active must not stack a duplicate.
	if _, created, err := testStore.CreateHealthAlertIfNoneActive(ctx, check.ID, models.SeverityCritical, "still failing"); err != nil || created {
		t.Fatalf("repeat breach = %v, %v, want deduplicated", created, err)
	}

	if _, err := testStore.ResolveHealthAlert(ctx, alert.ID, "u1", nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// Resolved history does not block a fresh breach.
	if _, created, err := testStore.CreateHealthAlertIfNoneActive(ctx, check.ID, models.SeverityCritical, "failing again"); err != nil || !created {
		t.Fatalf("re-breach after resolve = %v, %v, want created", created, err)
	}
}

func TestHealthAlertLifecycleTransitions(t *testing.T) {
	ctx := context.Background()
	check := createTestCheck(t, "redis-lifecycle")

	alert, _, err := testStore.CreateHealthAlertIfNoneActive(ctx, check.ID, models.SeverityWarning, "latency high")
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}

	acked, err := testStore.AcknowledgeHealthAlert(ctx, alert.ID, "u1", nil)
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.AlertAcknowledged {
		t.Fatalf("status = %s, want acknowledged", acked.Status)
	}
	if _, err := testStore.AcknowledgeHealthAlert(ctx, alert.ID, "u2", nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("double acknowledge = %v, want invalid state", err)
	}

	resolved, err := testStore.ResolveHealthAlert(ctx, alert.ID, "u1", nil)
	if err != nil {
		t.Fatalf("resolve acknowledged: %v", err)
	}
	if resolved.Status != models.AlertResolved {
		t.Fatalf("status = %s, want resolved", resolved.Status)
	}
	if _, err := testStore.ResolveHealthAlert(ctx, alert.ID, "u1", nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("double resolve = %v, want invalid state", err)
	}
	if _, err := testStore.AcknowledgeHealthAlert(ctx, "no-such-alert", "u1", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("acknowledge missing = %v, want not found", err)
	}
}

func TestCostAlertRaisedOncePerCrossing(t *testing.T) {
	ctx := context.Background()
	budget, err := testStore.CreateBudget(ctx, models.CostBudget{
		Period:          "2026-08",
		ThresholdAmount: 1000,
		Currency:        "USD",
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}

	alert := models.CostAlert{
		BudgetID:     budget.ID,
		Period:       "2026-08",
		ThresholdPct: 80,
		Severity:     models.SeverityWarning,
		Message:      "80% of budget spent",
	}
	created, err := testStore.CreateCostAlertOnce(ctx, alert)
	if err != nil || !created {
		t.Fatalf("first crossing = %v, %v, want created", created, err)
	}

	// The same crossing raised again, as every monitor sweep does, is a no-op.
	alert.ID = ""
	if created, err := testStore.CreateCostAlertOnce(ctx, alert); err != nil || created {
		t.Fatalf("repeat crossing = %v, %v, want idempotent", created, err)
	}

	// A higher threshold is a distinct crossing.
	alert.ID = ""
	alert.ThresholdPct = 100
	alert.Severity = models.SeverityCritical
	if created, err := testStore.CreateCostAlertOnce(ctx, alert); err != nil || !created {
		t.Fatalf("next threshold = %v, %v, want created", created, err)
	}

	alerts, _, err := testStore.ListCostAlerts(ctx, CostAlertFilter{Limit: 100})
	if err != nil {
		t.Fatalf("list cost alerts: %v", err)
	}
	var target *models.CostAlert
	for i := range alerts {
		if alerts[i].BudgetID == budget.ID && alerts[i].ThresholdPct == 80 {
			target = &alerts[i]
		}
	}
	if target == nil {
		t.Fatal("raised alert not listed")
	}

	acked, err := testStore.AcknowledgeCostAlert(ctx, target.ID, "u1")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.AlertAcknowledged {
		t.Fatalf("status = %s, want acknowledged", acked.Status)
	}
	if _, err := testStore.AcknowledgeCostAlert(ctx, target.ID, "u2"); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("double acknowledge = %v, want invalid state", err)
	}
}
