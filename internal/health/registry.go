// Package health runs dependency probes, persists their results, and tracks
// the alert lifecycle for breaches.
package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"propertyops/internal/apperr"
	"propertyops/internal/config"
	"propertyops/internal/models"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
)

var statusRank = map[models.HealthStatus]float64{
	models.HealthHealthy:   0,
	models.HealthDegraded:  1,
	models.HealthUnhealthy: 2,
}

// Registry owns the configured probes and the alert engine.
type Registry struct {
	cfg    config.Config
	store  *store.Store
	log    *zap.SugaredLogger
	probes map[string]Probe
}

// NewRegistry builds an empty registry; callers register probes then call
// EnsureChecks to persist their configurations.
func NewRegistry(cfg config.Config, st *store.Store, log *zap.SugaredLogger) *Registry {
	return &Registry{
		cfg:    cfg,
		store:  st,
		log:    log,
		probes: make(map[string]Probe),
	}
}

// Register binds a probe to a check name.
func (r *Registry) Register(name string, probe Probe) {
	if name == "" || probe == nil {
		return
	}
	r.probes[name] = probe
}

// EnsureChecks persists a check config row per registered probe, keeping any
// operator overrides already stored under the same name.
func (r *Registry) EnsureChecks(ctx context.Context) error {
	for name := range r.probes {
		threshold := models.HealthUnhealthy
		severity := models.SeverityCritical
		if name == "disk" {
			threshold = models.HealthDegraded
			severity = models.SeverityWarning
		}
		_, err := r.store.UpsertHealthCheck(ctx, models.HealthCheckConfig{
			Name:           name,
			Description:    fmt.Sprintf("%s dependency probe", name),
			Enabled:        true,
			IntervalSec:    int(r.cfg.HealthCheckInterval.Seconds()),
			TimeoutSec:     int(r.cfg.HealthProbeTimeout.Seconds()),
			AlertThreshold: threshold,
			AlertSeverity:  severity,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ListChecks returns the configured probes.
func (r *Registry) ListChecks(ctx context.Context) ([]models.HealthCheckConfig, error) {
	return r.store.ListHealthChecks(ctx)
}

// GetCheck returns one probe config by id.
func (r *Registry) GetCheck(ctx context.Context, id string) (models.HealthCheckConfig, error) {
	return r.store.GetHealthCheck(ctx, id)
}

// ListResults returns a check's results newest-first.
func (r *Registry) ListResults(ctx context.Context, checkID string, limit int) ([]models.HealthCheckResult, error) {
	if _, err := r.store.GetHealthCheck(ctx, checkID); err != nil {
		return nil, err
	}
	return r.store.ListHealthResults(ctx, checkID, limit)
}

// RunCheck executes one probe, persists the result, and raises an alert when
// the outcome crosses the check's configured threshold. A check that still
// has an active alert does not stack a second one; a breach after resolution
// opens a new alert.
func (r *Registry) RunCheck(ctx context.Context, checkID string) (models.HealthCheckResult, error) {
	check, err := r.store.GetHealthCheck(ctx, checkID)
	if err != nil {
		return models.HealthCheckResult{}, err
	}
	probe, ok := r.probes[check.Name]
	if !ok {
		return models.HealthCheckResult{}, fmt.Errorf("no probe registered for check %q: %w", check.Name, apperr.ErrNotFound)
	}

	timeout := time.Duration(check.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = r.cfg.HealthProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, probeErr := probe(probeCtx)
	latency := time.Since(start)

	if status == models.HealthHealthy && latency >= r.cfg.DegradedLatency && r.cfg.DegradedLatency > 0 {
		status = models.HealthDegraded
		probeErr = fmt.Errorf("latency %s exceeds %s", latency.Round(time.Millisecond), r.cfg.DegradedLatency)
	}

	result := models.HealthCheckResult{
		CheckID:   check.ID,
		Status:    status,
		LatencyMs: float64(latency.Microseconds()) / 1000,
	}
	if probeErr != nil {
		msg := probeErr.Error()
		result.Error = &msg
	}
	result, err = r.store.InsertHealthResult(ctx, result)
	if err != nil {
		return models.HealthCheckResult{}, err
	}

	telemetry.HealthCheckStatus.WithLabelValues(check.Name).Set(statusRank[status])
	telemetry.HealthCheckLatency.WithLabelValues(check.Name).Set(result.LatencyMs)

	if statusRank[status] >= statusRank[check.AlertThreshold] {
		message := fmt.Sprintf("check %q reported %s", check.Name, status)
		if result.Error != nil {
			message = fmt.Sprintf("%s: %s", message, *result.Error)
		}
		if _, created, err := r.store.CreateHealthAlertIfNoneActive(ctx, check.ID, check.AlertSeverity, message); err != nil {
			r.log.Warnw("health alert creation failed", "check", check.Name, "error", err)
		} else if created {
			r.log.Warnw("health alert raised", "check", check.Name, "status", status)
		}
	}
	return result, nil
}

// RunAll executes every enabled check, used by the worker's health ticker.
func (r *Registry) RunAll(ctx context.Context) {
	checks, err := r.store.ListHealthChecks(ctx)
	if err != nil {
		r.log.Warnw("list health checks failed", "error", err)
		return
	}
	for _, check := range checks {
		if !check.Enabled {
			continue
		}
		if _, err := r.RunCheck(ctx, check.ID); err != nil {
			r.log.Warnw("health check run failed", "check", check.Name, "error", err)
		}
	}
}

// ListAlerts returns a filtered page of health alerts.
func (r *Registry) ListAlerts(ctx context.Context, f store.HealthAlertFilter) ([]models.HealthAlert, int64, error) {
	return r.store.ListHealthAlerts(ctx, f)
}

// Acknowledge moves an active alert to acknowledged.
func (r *Registry) Acknowledge(ctx context.Context, alertID, userID string, note *string) (models.HealthAlert, error) {
	return r.store.AcknowledgeHealthAlert(ctx, alertID, userID, note)
}

// Resolve terminates an active or acknowledged alert.
func (r *Registry) Resolve(ctx context.Context, alertID, userID string, note *string) (models.HealthAlert, error) {
	return r.store.ResolveHealthAlert(ctx, alertID, userID, note)
}

// DetailedHealth aggregates the latest result per dependency plus process
// metrics. Overall status is the worst dependency status.
func (r *Registry) DetailedHealth(ctx context.Context) (models.SystemHealth, error) {
	checks, err := r.store.ListHealthChecks(ctx)
	if err != nil {
		return models.SystemHealth{}, err
	}
	latest, err := r.store.LatestHealthResults(ctx)
	if err != nil {
		return models.SystemHealth{}, err
	}

	deps := []models.DependencyHealth{}
	statuses := []models.HealthStatus{}
	for _, check := range checks {
		result, ok := latest[check.ID]
		if !ok {
			continue
		}
		deps = append(deps, models.DependencyHealth{
			Name:      check.Name,
			Status:    result.Status,
			LatencyMs: result.LatencyMs,
			Error:     result.Error,
			CheckedAt: result.CheckedAt,
		})
		statuses = append(statuses, result.Status)
	}

	return models.SystemHealth{
		Status:       models.WorstHealth(statuses...),
		Dependencies: deps,
		Process:      r.processMetrics(ctx),
		CheckedAt:    time.Now().UTC(),
	}, nil
}

func (r *Registry) processMetrics(ctx context.Context) models.ProcessMetrics {
	var pm models.ProcessMetrics
	pm.GoroutineCount = runtime.NumGoroutine()

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		pm.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		pm.MemUsedMB = float64(vm.Used) / 1024 / 1024
		pm.MemTotalMB = float64(vm.Total) / 1024 / 1024
		pm.MemPercent = vm.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		pm.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
		pm.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
		pm.DiskPercent = usage.UsedPercent
	}
	if r.store != nil {
		pm.DBConnsTotal, pm.DBConnsIdle, pm.DBConnsInUse = r.store.PoolStats()
	}
	return pm
}
