package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"propertyops/internal/apperr"
	"propertyops/internal/models"
)

const costAlertColumns = `id, budget_id, period, threshold_pct, severity, status, message, acknowledged_by, acknowledged_at, resolved_by, resolved_at, created_at`

// RecordCost inserts one cost line item.
func (s *Store) RecordCost(ctx context.Context, c models.InfrastructureCost) (models.InfrastructureCost, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO infrastructure_costs (id, period, service_type, amount, currency, description, org_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING recorded_at
	`, c.ID, c.Period, c.ServiceType, c.Amount, c.Currency, c.Description, c.OrgID)
	if err := row.Scan(&c.RecordedAt); err != nil {
		return models.InfrastructureCost{}, apperr.Database("insert cost", err)
	}
	return c, nil
}

// CostFilter narrows a cost listing. Period bounds are inclusive YYYY-MM
// strings compared lexicographically.
type CostFilter struct {
	PeriodFrom  string
	PeriodTo    string
	ServiceType string
	OrgID       string
	Limit       int
	Offset      int
}

// ListCosts returns a filtered page of cost line items newest-first.
func (s *Store) ListCosts(ctx context.Context, f CostFilter) ([]models.InfrastructureCost, int64, error) {
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
	if f.PeriodFrom != "" {
		addClause("period >=", f.PeriodFrom)
	}
	if f.PeriodTo != "" {
		addClause("period <=", f.PeriodTo)
	}
	if f.ServiceType != "" {
		addClause("service_type =", f.ServiceType)
	}
	if f.OrgID != "" {
		addClause("org_id =", f.OrgID)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM infrastructure_costs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Database("count costs", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT id, period, service_type, amount, currency, description, org_id, recorded_at
		FROM infrastructure_costs WHERE `+where+`
		ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Database("list costs", err)
	}
	defer rows.Close()

	costs := []models.InfrastructureCost{}
	for rows.Next() {
		var c models.InfrastructureCost
		var desc, orgID pgtype.Text
		if err := rows.Scan(&c.ID, &c.Period, &c.ServiceType, &c.Amount, &c.Currency, &desc, &orgID, &c.RecordedAt); err != nil {
			return nil, 0, apperr.Database("scan cost", err)
		}
		c.Description = textPtr(desc)
		c.OrgID = textPtr(orgID)
		costs = append(costs, c)
	}
	return costs, total, rows.Err()
}

// PeriodTotal sums spend for a period, optionally narrowed to a service type.
func (s *Store) PeriodTotal(ctx context.Context, period string, serviceType *string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM infrastructure_costs
		WHERE period = $1 AND ($2::TEXT IS NULL OR service_type = $2)
	`, period, serviceType).Scan(&total)
	if err != nil {
		return 0, apperr.Database("period total", err)
	}
	return total, nil
}

// PeriodBreakdown sums a period's spend by service type, largest first.
func (s *Store) PeriodBreakdown(ctx context.Context, period string) ([]models.ServiceCost, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_type, COALESCE(SUM(amount), 0)
		FROM infrastructure_costs WHERE period = $1
		GROUP BY service_type ORDER BY 2 DESC
	`, period)
	if err != nil {
		return nil, apperr.Database("period breakdown", err)
	}
	defer rows.Close()

	breakdown := []models.ServiceCost{}
	for rows.Next() {
		var sc models.ServiceCost
		if err := rows.Scan(&sc.ServiceType, &sc.Amount); err != nil {
			return nil, apperr.Database("scan breakdown", err)
		}
		breakdown = append(breakdown, sc)
	}
	return breakdown, rows.Err()
}

// CreateBudget inserts a budget row.
func (s *Store) CreateBudget(ctx context.Context, b models.CostBudget) (models.CostBudget, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Currency == "" {
		b.Currency = "USD"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO cost_budgets (id, period, service_type, threshold_amount, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, b.ID, b.Period, b.ServiceType, b.ThresholdAmount, b.Currency)
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return models.CostBudget{}, apperr.Database("insert budget", err)
	}
	return b, nil
}

// GetBudget fetches one budget by id.
func (s *Store) GetBudget(ctx context.Context, id string) (models.CostBudget, error) {
	var b models.CostBudget
	var svc pgtype.Text
	err := s.pool.QueryRow(ctx, `
		SELECT id, period, service_type, threshold_amount, currency, created_at, updated_at
		FROM cost_budgets WHERE id = $1
	`, id).Scan(&b.ID, &b.Period, &svc, &b.ThresholdAmount, &b.Currency, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CostBudget{}, fmt.Errorf("budget %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.CostBudget{}, apperr.Database("get budget", err)
	}
	b.ServiceType = textPtr(svc)
	return b, nil
}

// UpdateBudget applies a partial update by merging present fields over the
// stored row, then writing the merged result back.
func (s *Store) UpdateBudget(ctx context.Context, id string, u models.BudgetUpdate) (models.CostBudget, error) {
	current, err := s.GetBudget(ctx, id)
	if err != nil {
		return models.CostBudget{}, err
	}
	merged := models.ApplyBudgetUpdate(current, u)

	row := s.pool.QueryRow(ctx, `
		UPDATE cost_budgets
		SET period = $2, service_type = $3, threshold_amount = $4, currency = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, id, merged.Period, merged.ServiceType, merged.ThresholdAmount, merged.Currency)
	if err := row.Scan(&merged.UpdatedAt); err != nil {
		return models.CostBudget{}, apperr.Database("update budget", err)
	}
	return merged, nil
}

// ListBudgets returns all budgets, newest period first.
func (s *Store) ListBudgets(ctx context.Context) ([]models.CostBudget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, period, service_type, threshold_amount, currency, created_at, updated_at
		FROM cost_budgets ORDER BY period DESC, created_at DESC
	`)
	if err != nil {
		return nil, apperr.Database("list budgets", err)
	}
	defer rows.Close()

	budgets := []models.CostBudget{}
	for rows.Next() {
		var b models.CostBudget
		var svc pgtype.Text
		if err := rows.Scan(&b.ID, &b.Period, &svc, &b.ThresholdAmount, &b.Currency, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, apperr.Database("scan budget", err)
		}
		b.ServiceType = textPtr(svc)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// BudgetsForPeriod returns budgets matching a period.
func (s *Store) BudgetsForPeriod(ctx context.Context, period string) ([]models.CostBudget, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, period, service_type, threshold_amount, currency, created_at, updated_at
		FROM cost_budgets WHERE period = $1
	`, period)
	if err != nil {
		return nil, apperr.Database("budgets for period", err)
	}
	defer rows.Close()

	budgets := []models.CostBudget{}
	for rows.Next() {
		var b models.CostBudget
		var svc pgtype.Text
		if err := rows.Scan(&b.ID, &b.Period, &svc, &b.ThresholdAmount, &b.Currency, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, apperr.Database("scan budget", err)
		}
		b.ServiceType = textPtr(svc)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// CreateCostAlertOnce raises an alert for a threshold crossing. The unique
// (budget_id, period, threshold_pct) constraint plus ON CONFLICT DO NOTHING
// makes the raise idempotent per crossing. Returns whether a row was created.
func (s *Store) CreateCostAlertOnce(ctx context.Context, a models.CostAlert) (bool, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cost_alerts (id, budget_id, period, threshold_pct, severity, status, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (budget_id, period, threshold_pct) DO NOTHING
	`, a.ID, a.BudgetID, a.Period, a.ThresholdPct, a.Severity, models.AlertActive, a.Message)
	if err != nil {
		return false, apperr.Database("insert cost alert", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CostAlertFilter narrows a cost alert listing.
type CostAlertFilter struct {
	UnacknowledgedOnly bool
	Severity           models.AlertSeverity
	Limit              int
	Offset             int
}

// ListCostAlerts returns a filtered page of cost alerts newest-first.
func (s *Store) ListCostAlerts(ctx context.Context, f CostAlertFilter) ([]models.CostAlert, int64, error) {
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
	if f.UnacknowledgedOnly {
		args = append(args, string(models.AlertActive))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, string(f.Severity))
		where += fmt.Sprintf(" AND severity = $%d", len(args))
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cost_alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Database("count cost alerts", err)
	}

	args = append(args, f.Limit, f.Offset)
	query := fmt.Sprintf(`SELECT `+costAlertColumns+` FROM cost_alerts WHERE `+where+` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Database("list cost alerts", err)
	}
	defer rows.Close()

	alerts := []models.CostAlert{}
	for rows.Next() {
		alert, err := scanCostAlert(rows)
		if err != nil {
			return nil, 0, apperr.Database("scan cost alert", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

// CountActiveCostAlerts counts active alerts for a period.
func (s *Store) CountActiveCostAlerts(ctx context.Context, period string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM cost_alerts WHERE period = $1 AND status = $2
	`, period, models.AlertActive).Scan(&n)
	if err != nil {
		return 0, apperr.Database("count active cost alerts", err)
	}
	return n, nil
}

// AcknowledgeCostAlert moves an active cost alert to acknowledged.
func (s *Store) AcknowledgeCostAlert(ctx context.Context, id, userID string) (models.CostAlert, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE cost_alerts
		SET status = $2, acknowledged_by = $3, acknowledged_at = NOW()
		WHERE id = $1 AND status = ANY($4)
		RETURNING `+costAlertColumns,
		id, models.AlertAcknowledged, userID, models.AcknowledgeableAlertStatuses)

	alert, err := scanCostAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM cost_alerts WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return models.CostAlert{}, apperr.Database("check cost alert", qerr)
		}
		if !exists {
			return models.CostAlert{}, fmt.Errorf("cost alert %s: %w", id, apperr.ErrNotFound)
		}
		return models.CostAlert{}, fmt.Errorf("cannot acknowledge cost alert %s in its current status: %w", id, apperr.ErrInvalidState)
	}
	if err != nil {
		return models.CostAlert{}, apperr.Database("acknowledge cost alert", err)
	}
	return alert, nil
}

// ListResourceUtilization returns the newest reading per resource.
func (s *Store) ListResourceUtilization(ctx context.Context) ([]models.ResourceUtilization, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (resource_name) id, resource_name, resource_type, used_pct, capacity_unit, measured_at
		FROM resource_utilization
		ORDER BY resource_name, measured_at DESC
	`)
	if err != nil {
		return nil, apperr.Database("list utilization", err)
	}
	defer rows.Close()

	items := []models.ResourceUtilization{}
	for rows.Next() {
		var u models.ResourceUtilization
		if err := rows.Scan(&u.ID, &u.ResourceName, &u.ResourceType, &u.UsedPct, &u.CapacityUnit, &u.MeasuredAt); err != nil {
			return nil, apperr.Database("scan utilization", err)
		}
		items = append(items, u)
	}
	return items, rows.Err()
}

// InsertResourceUtilization appends one usage reading.
func (s *Store) InsertResourceUtilization(ctx context.Context, u models.ResourceUtilization) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.MeasuredAt.IsZero() {
		u.MeasuredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO resource_utilization (id, resource_name, resource_type, used_pct, capacity_unit, measured_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.ResourceName, u.ResourceType, u.UsedPct, u.CapacityUnit, u.MeasuredAt)
	if err != nil {
		return apperr.Database("insert utilization", err)
	}
	return nil
}

// ListRecommendations returns optimization recommendations, open ones first.
func (s *Store) ListRecommendations(ctx context.Context) ([]models.OptimizationRecommendation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, estimated_savings, service_type, implemented, implemented_by, implemented_at, created_at
		FROM optimization_recommendations
		ORDER BY implemented, estimated_savings DESC
	`)
	if err != nil {
		return nil, apperr.Database("list recommendations", err)
	}
	defer rows.Close()

	recs := []models.OptimizationRecommendation{}
	for rows.Next() {
		var rec models.OptimizationRecommendation
		var by pgtype.Text
		var at pgtype.Timestamptz
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.EstimatedSavings, &rec.ServiceType, &rec.Implemented, &by, &at, &rec.CreatedAt); err != nil {
			return nil, apperr.Database("scan recommendation", err)
		}
		rec.ImplementedBy = textPtr(by)
		rec.ImplementedAt = timePtr(at)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CreateRecommendation inserts a suggested cost saving.
func (s *Store) CreateRecommendation(ctx context.Context, rec models.OptimizationRecommendation) (models.OptimizationRecommendation, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO optimization_recommendations (id, title, description, estimated_savings, service_type)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, rec.ID, rec.Title, rec.Description, rec.EstimatedSavings, rec.ServiceType)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return models.OptimizationRecommendation{}, apperr.Database("insert recommendation", err)
	}
	return rec, nil
}

// MarkRecommendationImplemented flips a recommendation to implemented once.
func (s *Store) MarkRecommendationImplemented(ctx context.Context, id, userID string) (models.OptimizationRecommendation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE optimization_recommendations
		SET implemented = TRUE, implemented_by = $2, implemented_at = NOW()
		WHERE id = $1 AND implemented = FALSE
		RETURNING id, title, description, estimated_savings, service_type, implemented, implemented_by, implemented_at, created_at
	`, id, userID)

	var rec models.OptimizationRecommendation
	var by pgtype.Text
	var at pgtype.Timestamptz
	err := row.Scan(&rec.ID, &rec.Title, &rec.Description, &rec.EstimatedSavings, &rec.ServiceType, &rec.Implemented, &by, &at, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if qerr := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM optimization_recommendations WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return models.OptimizationRecommendation{}, apperr.Database("check recommendation", qerr)
		}
		if !exists {
			return models.OptimizationRecommendation{}, fmt.Errorf("recommendation %s: %w", id, apperr.ErrNotFound)
		}
		return models.OptimizationRecommendation{}, fmt.Errorf("recommendation %s is already implemented: %w", id, apperr.ErrInvalidState)
	}
	if err != nil {
		return models.OptimizationRecommendation{}, apperr.Database("mark recommendation implemented", err)
	}
	rec.ImplementedBy = textPtr(by)
	rec.ImplementedAt = timePtr(at)
	return rec, nil
}

func scanCostAlert(row rowScanner) (models.CostAlert, error) {
	var a models.CostAlert
	var ackBy, resBy pgtype.Text
	var ackAt, resAt pgtype.Timestamptz
	if err := row.Scan(&a.ID, &a.BudgetID, &a.Period, &a.ThresholdPct, &a.Severity, &a.Status, &a.Message, &ackBy, &ackAt, &resBy, &resAt, &a.CreatedAt); err != nil {
		return models.CostAlert{}, err
	}
	a.AcknowledgedBy = textPtr(ackBy)
	a.AcknowledgedAt = timePtr(ackAt)
	a.ResolvedBy = textPtr(resBy)
	a.ResolvedAt = timePtr(resAt)
	return a, nil
}
