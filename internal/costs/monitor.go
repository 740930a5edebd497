// Package costs tracks infrastructure spend against budgets and raises
// threshold-crossing alerts.
package costs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"propertyops/internal/apperr"
	"propertyops/internal/config"
	"propertyops/internal/models"
	"propertyops/internal/store"
	"propertyops/internal/telemetry"
)

// Monitor owns cost line items, budgets, and cost alerts.
type Monitor struct {
	cfg      config.Config
	store    *store.Store
	exporter *ReportExporter
	log      *zap.SugaredLogger
}

// NewMonitor wires the cost monitor.
func NewMonitor(cfg config.Config, st *store.Store, exporter *ReportExporter, log *zap.SugaredLogger) *Monitor {
	return &Monitor{cfg: cfg, store: st, exporter: exporter, log: log}
}

// ReachedThresholds returns the configured threshold percentages that total
// has reached for the given budget amount, in ascending order.
func ReachedThresholds(total, budgetAmount float64, thresholds []int) []int {
	if budgetAmount <= 0 {
		return nil
	}
	usedPct := total / budgetAmount * 100
	reached := []int{}
	for _, pct := range thresholds {
		if usedPct >= float64(pct) {
			reached = append(reached, pct)
		}
	}
	return reached
}

func severityForThreshold(pct int) models.AlertSeverity {
	if pct >= 100 {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

// RecordCost persists a cost line item, then evaluates every budget covering
// its period. Raising is idempotent per (budget, period, threshold); the
// store's unique constraint swallows repeat crossings.
func (m *Monitor) RecordCost(ctx context.Context, c models.InfrastructureCost) (models.InfrastructureCost, error) {
	if c.Period == "" {
		return models.InfrastructureCost{}, apperr.Validationf("period is required")
	}
	if _, err := time.Parse("2006-01", c.Period); err != nil {
		return models.InfrastructureCost{}, apperr.Validationf("period must be YYYY-MM, got %q", c.Period)
	}
	if c.ServiceType == "" {
		return models.InfrastructureCost{}, apperr.Validationf("service_type is required")
	}
	if c.Amount < 0 {
		return models.InfrastructureCost{}, apperr.Validationf("amount must not be negative")
	}

	created, err := m.store.RecordCost(ctx, c)
	if err != nil {
		return models.InfrastructureCost{}, err
	}

	if err := m.evaluateBudgets(ctx, created.Period); err != nil {
		// The cost row is already durable; alert evaluation failing should
		// not fail the write. The next recording re-evaluates.
		m.log.Warnw("budget evaluation failed", "period", created.Period, "error", err)
	}
	return created, nil
}

func (m *Monitor) evaluateBudgets(ctx context.Context, period string) error {
	budgets, err := m.store.BudgetsForPeriod(ctx, period)
	if err != nil {
		return err
	}
	for _, budget := range budgets {
		total, err := m.store.PeriodTotal(ctx, period, budget.ServiceType)
		if err != nil {
			return err
		}
		for _, pct := range ReachedThresholds(total, budget.ThresholdAmount, m.cfg.CostAlertThresholds) {
			scope := "all services"
			if budget.ServiceType != nil {
				scope = *budget.ServiceType
			}
			created, err := m.store.CreateCostAlertOnce(ctx, models.CostAlert{
				BudgetID:     budget.ID,
				Period:       period,
				ThresholdPct: pct,
				Severity:     severityForThreshold(pct),
				Message:      fmt.Sprintf("spend for %s (%s) reached %d%% of budget %.2f %s", period, scope, pct, budget.ThresholdAmount, budget.Currency),
			})
			if err != nil {
				return err
			}
			if created {
				telemetry.CostAlertsRaised.Inc()
				m.log.Infow("cost alert raised", "budget_id", budget.ID, "period", period, "threshold_pct", pct)
			}
		}
	}
	return nil
}

// ListCosts proxies the filtered cost listing.
func (m *Monitor) ListCosts(ctx context.Context, f store.CostFilter) ([]models.InfrastructureCost, int64, error) {
	return m.store.ListCosts(ctx, f)
}

// CreateBudget validates and persists a budget.
func (m *Monitor) CreateBudget(ctx context.Context, b models.CostBudget) (models.CostBudget, error) {
	if _, err := time.Parse("2006-01", b.Period); err != nil {
		return models.CostBudget{}, apperr.Validationf("period must be YYYY-MM, got %q", b.Period)
	}
	if b.ThresholdAmount <= 0 {
		return models.CostBudget{}, apperr.Validationf("threshold_amount must be positive")
	}
	return m.store.CreateBudget(ctx, b)
}

// UpdateBudget applies a partial update and re-evaluates the budget's period,
// since lowering a threshold can itself constitute a crossing.
func (m *Monitor) UpdateBudget(ctx context.Context, id string, u models.BudgetUpdate) (models.CostBudget, error) {
	if u.Period != nil {
		if _, err := time.Parse("2006-01", *u.Period); err != nil {
			return models.CostBudget{}, apperr.Validationf("period must be YYYY-MM, got %q", *u.Period)
		}
	}
	if u.ThresholdAmount != nil && *u.ThresholdAmount <= 0 {
		return models.CostBudget{}, apperr.Validationf("threshold_amount must be positive")
	}
	updated, err := m.store.UpdateBudget(ctx, id, u)
	if err != nil {
		return models.CostBudget{}, err
	}
	if err := m.evaluateBudgets(ctx, updated.Period); err != nil {
		m.log.Warnw("budget evaluation failed", "period", updated.Period, "error", err)
	}
	return updated, nil
}

// GetBudget proxies the budget read.
func (m *Monitor) GetBudget(ctx context.Context, id string) (models.CostBudget, error) {
	return m.store.GetBudget(ctx, id)
}

// ListBudgets proxies the budget listing.
func (m *Monitor) ListBudgets(ctx context.Context) ([]models.CostBudget, error) {
	return m.store.ListBudgets(ctx)
}

// Dashboard assembles the current-period summary. Period defaults to the
// current calendar month.
func (m *Monitor) Dashboard(ctx context.Context, period string) (models.CostDashboard, error) {
	now := time.Now().UTC()
	if period == "" {
		period = now.Format("2006-01")
	}
	parsed, err := time.Parse("2006-01", period)
	if err != nil {
		return models.CostDashboard{}, apperr.Validationf("period must be YYYY-MM, got %q", period)
	}
	prior := parsed.AddDate(0, -1, 0).Format("2006-01")

	total, err := m.store.PeriodTotal(ctx, period, nil)
	if err != nil {
		return models.CostDashboard{}, err
	}
	priorTotal, err := m.store.PeriodTotal(ctx, prior, nil)
	if err != nil {
		return models.CostDashboard{}, err
	}
	breakdown, err := m.store.PeriodBreakdown(ctx, period)
	if err != nil {
		return models.CostDashboard{}, err
	}
	activeAlerts, err := m.store.CountActiveCostAlerts(ctx, period)
	if err != nil {
		return models.CostDashboard{}, err
	}

	var budgetAmount, usedPct float64
	budgets, err := m.store.BudgetsForPeriod(ctx, period)
	if err != nil {
		return models.CostDashboard{}, err
	}
	for _, b := range budgets {
		if b.ServiceType == nil {
			budgetAmount += b.ThresholdAmount
		}
	}
	if budgetAmount > 0 {
		usedPct = total / budgetAmount * 100
	}

	var trend float64
	if priorTotal > 0 {
		trend = (total - priorTotal) / priorTotal * 100
	}

	return models.CostDashboard{
		Period:        period,
		TotalAmount:   total,
		BudgetAmount:  budgetAmount,
		BudgetUsedPct: usedPct,
		PriorPeriod:   prior,
		PriorAmount:   priorTotal,
		TrendPct:      trend,
		Breakdown:     breakdown,
		ActiveAlerts:  activeAlerts,
		GeneratedAt:   now,
	}, nil
}

// ListAlerts proxies the filtered cost alert listing.
func (m *Monitor) ListAlerts(ctx context.Context, f store.CostAlertFilter) ([]models.CostAlert, int64, error) {
	return m.store.ListCostAlerts(ctx, f)
}

// AcknowledgeAlert proxies the alert acknowledgement.
func (m *Monitor) AcknowledgeAlert(ctx context.Context, id, userID string) (models.CostAlert, error) {
	return m.store.AcknowledgeCostAlert(ctx, id, userID)
}

// ListResourceUtilization proxies the latest readings per resource.
func (m *Monitor) ListResourceUtilization(ctx context.Context) ([]models.ResourceUtilization, error) {
	return m.store.ListResourceUtilization(ctx)
}

// ListRecommendations proxies the recommendation listing.
func (m *Monitor) ListRecommendations(ctx context.Context) ([]models.OptimizationRecommendation, error) {
	return m.store.ListRecommendations(ctx)
}

// MarkRecommendationImplemented proxies the implemented flip.
func (m *Monitor) MarkRecommendationImplemented(ctx context.Context, id, userID string) (models.OptimizationRecommendation, error) {
	return m.store.MarkRecommendationImplemented(ctx, id, userID)
}

// ExportReport renders a period's breakdown and uploads it via the exporter.
func (m *Monitor) ExportReport(ctx context.Context, period string) (string, error) {
	if m.exporter == nil {
		return "", apperr.Validationf("no report exporter configured")
	}
	dashboard, err := m.Dashboard(ctx, period)
	if err != nil {
		return "", err
	}
	return m.exporter.Export(ctx, dashboard)
}
