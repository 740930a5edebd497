package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"propertyops/internal/apperr"
	"propertyops/internal/models"
)

const alertColumns = `id, check_id, severity, status, message, acknowledged_by, acknowledged_at, resolved_by, resolved_at, note, created_at`

// UpsertHealthCheck registers a named probe configuration, keeping the
// existing row's id when the name already exists.
func (s *Store) UpsertHealthCheck(ctx context.Context, c models.HealthCheckConfig) (models.HealthCheckConfig, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO health_checks (id, name, description, enabled, interval_sec, timeout_sec, alert_threshold, alert_severity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			enabled = EXCLUDED.enabled,
			interval_sec = EXCLUDED.interval_sec,
			timeout_sec = EXCLUDED.timeout_sec,
			alert_threshold = EXCLUDED.alert_threshold,
			alert_severity = EXCLUDED.alert_severity
		RETURNING id, created_at
	`, c.ID, c.Name, c.Description, c.Enabled, c.IntervalSec, c.TimeoutSec, c.AlertThreshold, c.AlertSeverity)
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return models.HealthCheckConfig{}, apperr.Database("upsert health check", err)
	}
	return c, nil
}

// ListHealthChecks returns all configured probes.
func (s *Store) ListHealthChecks(ctx context.Context) ([]models.HealthCheckConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, enabled, interval_sec, timeout_sec, alert_threshold, alert_severity, created_at
		FROM health_checks ORDER BY name
	`)
	if err != nil {
		return nil, apperr.Database("list health checks", err)
	}
	defer rows.Close()

	checks := []models.HealthCheckConfig{}
	for rows.Next() {
		var c models.HealthCheckConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Enabled, &c.IntervalSec, &c.TimeoutSec, &c.AlertThreshold, &c.AlertSeverity, &c.CreatedAt); err != nil {
			return nil, apperr.Database("scan health check", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// GetHealthCheck fetches one probe config by id.
func (s *Store) GetHealthCheck(ctx context.Context, id string) (models.HealthCheckConfig, error) {
	var c models.HealthCheckConfig
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, enabled, interval_sec, timeout_sec, alert_threshold, alert_severity, created_at
		FROM health_checks WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.Enabled, &c.IntervalSec, &c.TimeoutSec, &c.AlertThreshold, &c.AlertSeverity, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HealthCheckConfig{}, fmt.Errorf("health check %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.HealthCheckConfig{}, apperr.Database("get health check", err)
	}
	return c, nil
}

// InsertHealthResult appends one probe outcome to the check's time series.
func (s *Store) InsertHealthResult(ctx context.Context, r models.HealthCheckResult) (models.HealthCheckResult, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO health_check_results (id, check_id, status, latency_ms, error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING checked_at
	`, r.ID, r.CheckID, r.Status, r.LatencyMs, r.Error)
	if err := row.Scan(&r.CheckedAt); err != nil {
		return models.HealthCheckResult{}, apperr.Database("insert health result", err)
	}
	return r, nil
}

// ListHealthResults returns a check's results newest-first.
func (s *Store) ListHealthResults(ctx context.Context, checkID string, limit int) ([]models.HealthCheckResult, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, check_id, status, latency_ms, error, checked_at
		FROM health_check_results WHERE check_id = $1
		ORDER BY checked_at DESC LIMIT $2
	`, checkID, limit)
	if err != nil {
		return nil, apperr.Database("list health results", err)
	}
	defer rows.Close()

	results := []models.HealthCheckResult{}
	for rows.Next() {
		var r models.HealthCheckResult
		var probeErr pgtype.Text
		if err := rows.Scan(&r.ID, &r.CheckID, &r.Status, &r.LatencyMs, &probeErr, &r.CheckedAt); err != nil {
			return nil, apperr.Database("scan health result", err)
		}
		r.Error = textPtr(probeErr)
		results = append(results, r)
	}
	return results, rows.Err()
}

// LatestHealthResults returns the newest result per check, keyed by check id.
func (s *Store) LatestHealthResults(ctx context.Context) (map[string]models.HealthCheckResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (check_id) id, check_id, status, latency_ms, error, checked_at
		FROM health_check_results
		ORDER BY check_id, checked_at DESC
	`)
	if err != nil {
		return nil, apperr.Database("latest health results", err)
	}
	defer rows.Close()

	latest := map[string]models.HealthCheckResult{}
	for rows.Next() {
		var r models.HealthCheckResult
		var probeErr pgtype.Text
		if err := rows.Scan(&r.ID, &r.CheckID, &r.Status, &r.LatencyMs, &probeErr, &r.CheckedAt); err != nil {
			return nil, apperr.Database("scan health result", err)
		}
		r.Error = textPtr(probeErr)
		latest[r.CheckID] = r
	}
	return latest, rows.Err()
}

// CreateHealthAlertIfNoneActive raises an alert for a check unless one is
// already active. Returns the alert and whether a new row was inserted.
// A resolved alert does not block a new one; re-breach opens fresh history.
func (s *Store) CreateHealthAlertIfNoneActive(ctx context.Context, checkID string, severity models.AlertSeverity, message string) (models.HealthAlert, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO health_alerts (id, check_id, severity, status, message)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM health_alerts WHERE check_id = $2 AND status = $6
		)
		RETURNING `+alertColumns,
		uuid.New().String(), checkID, severity, models.AlertActive, message, models.AlertActive)

	alert, err := scanHealthAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HealthAlert{}, false, nil
	}
	if err != nil {
		return models.HealthAlert{}, false, apperr.Database("create health alert", err)
	}
	return alert, true, nil
}

// HealthAlertFilter narrows an alert listing.
type HealthAlertFilter struct {
	Status   models.AlertStatus
	Severity models.AlertSeverity
	Limit    int
	Offset   int
}

// ListHealthAlerts returns a filtered page of alerts newest-first.
func (s *Store) ListHealthAlerts(ctx context.Context, f HealthAlertFilter) ([]models.HealthAlert, int64, error) {
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
	if f.Status != "" {
		args = append(args, string(f.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		where += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM health_alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Database("count health alerts", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT `+alertColumns+` FROM health_alerts WHERE `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Database("list health alerts", err)
	}
	defer rows.Close()

	alerts := []models.HealthAlert{}
	for rows.Next() {
		alert, err := scanHealthAlert(rows)
		if err != nil {
			return nil, 0, apperr.Database("scan health alert", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

// AcknowledgeHealthAlert moves an active alert to acknowledged.
func (s *Store) AcknowledgeHealthAlert(ctx context.Context, id, userID string, note *string) (models.HealthAlert, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE health_alerts
		SET status = $2, acknowledged_by = $3, acknowledged_at = NOW(), note = COALESCE($4, note)
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+alertColumns,
		id, models.AlertAcknowledged, userID, note, models.AcknowledgeableAlertStatuses)

	alert, err := scanHealthAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HealthAlert{}, s.healthAlertTransitionError(ctx, id, "acknowledge")
	}
	if err != nil {
		return models.HealthAlert{}, apperr.Database("acknowledge health alert", err)
	}
	return alert, nil
}

// ResolveHealthAlert terminates an active or acknowledged alert.
func (s *Store) ResolveHealthAlert(ctx context.Context, id, userID string, note *string) (models.HealthAlert, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE health_alerts
		SET status = $2, resolved_by = $3, resolved_at = NOW(), note = COALESCE($4, note)
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+alertColumns,
		id, models.AlertResolved, userID, note, models.ResolvableAlertStatuses)

	alert, err := scanHealthAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HealthAlert{}, s.healthAlertTransitionError(ctx, id, "resolve")
	}
	if err != nil {
		return models.HealthAlert{}, apperr.Database("resolve health alert", err)
	}
	return alert, nil
}

func (s *Store) healthAlertTransitionError(ctx context.Context, id, op string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM health_alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return apperr.Database("check health alert", err)
	}
	if !exists {
		return fmt.Errorf("health alert %s: %w", id, apperr.ErrNotFound)
	}
	return fmt.Errorf("cannot %s health alert %s in its current status: %w", op, id, apperr.ErrInvalidState)
}

func scanHealthAlert(row rowScanner) (models.HealthAlert, error) {
	var a models.HealthAlert
	var ackBy, resBy, note pgtype.Text
	var ackAt, resAt pgtype.Timestamptz
	if err := row.Scan(&a.ID, &a.CheckID, &a.Severity, &a.Status, &a.Message, &ackBy, &ackAt, &resBy, &resAt, &note, &a.CreatedAt); err != nil {
		return models.HealthAlert{}, err
	}
	a.AcknowledgedBy = textPtr(ackBy)
	a.AcknowledgedAt = timePtr(ackAt)
	a.ResolvedBy = textPtr(resBy)
	a.ResolvedAt = timePtr(resAt)
	a.Note = textPtr(note)
	return a, nil
}
