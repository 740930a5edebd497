package models

import (
	"time"
)

// InfrastructureCost is one cost line item for a billing period. Periods are
// YYYY-MM strings so range filters are simple lexicographic comparisons.
type InfrastructureCost struct {
	ID          string    `json:"id"`
	Period      string    `json:"period"`
	ServiceType string    `json:"service_type"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description *string   `json:"description,omitempty"`
	OrgID       *string   `json:"org_id,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// CostBudget caps spend for a period, optionally scoped to one service type.
type CostBudget struct {
	ID              string    `json:"id"`
	Period          string    `json:"period"`
	ServiceType     *string   `json:"service_type,omitempty"`
	ThresholdAmount float64   `json:"threshold_amount"`
	Currency        string    `json:"currency"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BudgetUpdate carries optional fields for a partial budget update. Absent
// fields leave the stored value unchanged.
type BudgetUpdate struct {
	Period          *string  `json:"period,omitempty"`
	ServiceType     *string  `json:"service_type,omitempty"`
	ThresholdAmount *float64 `json:"threshold_amount,omitempty"`
	Currency        *string  `json:"currency,omitempty"`
}

// ApplyBudgetUpdate merges present fields of u into b and returns the result.
// Mirrors a COALESCE-per-column partial update, but explicit and testable
// without a database.
func ApplyBudgetUpdate(b CostBudget, u BudgetUpdate) CostBudget {
	if u.Period != nil {
		b.Period = *u.Period
	}
	if u.ServiceType != nil {
		b.ServiceType = u.ServiceType
	}
	if u.ThresholdAmount != nil {
		b.ThresholdAmount = *u.ThresholdAmount
	}
	if u.Currency != nil {
		b.Currency = *u.Currency
	}
	return b
}

// CostAlert is raised when accumulated spend for a period crosses a budget
// threshold percentage. At most one alert exists per (budget, period,
// threshold) triple.
type CostAlert struct {
	ID             string        `json:"id"`
	BudgetID       string        `json:"budget_id"`
	Period         string        `json:"period"`
	ThresholdPct   int           `json:"threshold_pct"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus   `json:"status"`
	Message        string        `json:"message"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string       `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// ServiceCost is one slice of the dashboard breakdown.
type ServiceCost struct {
	ServiceType string  `json:"service_type"`
	Amount      float64 `json:"amount"`
}

// CostDashboard summarizes the current period against budget and trend.
type CostDashboard struct {
	Period          string        `json:"period"`
	TotalAmount     float64       `json:"total_amount"`
	BudgetAmount    float64       `json:"budget_amount"`
	BudgetUsedPct   float64       `json:"budget_used_pct"`
	PriorPeriod     string        `json:"prior_period"`
	PriorAmount     float64       `json:"prior_amount"`
	TrendPct        float64       `json:"trend_pct"`
	Breakdown       []ServiceCost `json:"breakdown"`
	ActiveAlerts    int64         `json:"active_alerts"`
	GeneratedAt     time.Time     `json:"generated_at"`
}

// ResourceUtilization is a point-in-time usage reading for one resource.
type ResourceUtilization struct {
	ID           string    `json:"id"`
	ResourceName string    `json:"resource_name"`
	ResourceType string    `json:"resource_type"`
	UsedPct      float64   `json:"used_pct"`
	CapacityUnit string    `json:"capacity_unit"`
	MeasuredAt   time.Time `json:"measured_at"`
}

// OptimizationRecommendation is a suggested cost saving.
type OptimizationRecommendation struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	EstimatedSavings float64    `json:"estimated_savings"`
	ServiceType      string     `json:"service_type"`
	Implemented      bool       `json:"implemented"`
	ImplementedBy    *string    `json:"implemented_by,omitempty"`
	ImplementedAt    *time.Time `json:"implemented_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
