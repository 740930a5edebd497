package models

import (
	"time"
)

// HealthStatus is the outcome classification for a dependency probe.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// rank orders statuses so the worst one wins in aggregation.
func (s HealthStatus) rank() int {
	switch s {
	case HealthUnhealthy:
		return 2
	case HealthDegraded:
		return 1
	default:
		return 0
	}
}

// WorstHealth returns the worst status among the inputs. An empty input is
// healthy by definition.
func WorstHealth(statuses ...HealthStatus) HealthStatus {
	worst := HealthHealthy
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}
	return worst
}

// AlertSeverity classifies how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle state shared by health and cost alerts.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// CanAcknowledge reports whether the alert may be acknowledged from s.
// Only active alerts can be acknowledged, so a second acknowledge is rejected
// rather than double-counted.
func (s AlertStatus) CanAcknowledge() bool {
	return s == AlertActive
}

// CanResolve reports whether the alert may be resolved from s. Resolved is
// terminal; re-breach opens a new alert instead of reopening this one.
func (s AlertStatus) CanResolve() bool {
	return s == AlertActive || s == AlertAcknowledged
}

var allAlertStatuses = []AlertStatus{AlertActive, AlertAcknowledged, AlertResolved}

// ValidAlertStatus reports whether s is a known alert status.
func ValidAlertStatus(s string) bool {
	for _, known := range allAlertStatuses {
		if AlertStatus(s) == known {
			return true
		}
	}
	return false
}

// ValidAlertSeverity reports whether s is a known alert severity.
func ValidAlertSeverity(s string) bool {
	switch AlertSeverity(s) {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

func alertStatusStrings(allowed func(AlertStatus) bool) []string {
	out := []string{}
	for _, s := range allAlertStatuses {
		if allowed(s) {
			out = append(out, string(s))
		}
	}
	return out
}

// SQL filters in the store take these lists so the transition guards above
// stay the single source of truth.
var (
	AcknowledgeableAlertStatuses = alertStatusStrings(AlertStatus.CanAcknowledge)
	ResolvableAlertStatuses      = alertStatusStrings(AlertStatus.CanResolve)
)

// HealthCheckConfig is a named dependency probe.
type HealthCheckConfig struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	Enabled        bool          `json:"enabled"`
	IntervalSec    int           `json:"interval_sec"`
	TimeoutSec     int           `json:"timeout_sec"`
	AlertThreshold HealthStatus  `json:"alert_threshold"`
	AlertSeverity  AlertSeverity `json:"alert_severity"`
	CreatedAt      time.Time     `json:"created_at"`
}

// HealthCheckResult is one timestamped probe outcome. Results form an
// append-only time series per check.
type HealthCheckResult struct {
	ID        string       `json:"id"`
	CheckID   string       `json:"check_id"`
	Status    HealthStatus `json:"status"`
	LatencyMs float64      `json:"latency_ms"`
	Error     *string      `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthAlert tracks a policy breach for a check.
type HealthAlert struct {
	ID             string        `json:"id"`
	CheckID        string        `json:"check_id"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus   `json:"status"`
	Message        string        `json:"message"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedBy     *string       `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	Note           *string       `json:"note,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DependencyHealth is the latest known state of one dependency, embedded in
// the detailed health snapshot.
type DependencyHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	LatencyMs float64      `json:"latency_ms"`
	Error     *string      `json:"error,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// ProcessMetrics captures host/process resource usage for the snapshot.
type ProcessMetrics struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedMB      float64 `json:"mem_used_mb"`
	MemTotalMB     float64 `json:"mem_total_mb"`
	MemPercent     float64 `json:"mem_percent"`
	DiskUsedGB     float64 `json:"disk_used_gb"`
	DiskTotalGB    float64 `json:"disk_total_gb"`
	DiskPercent    float64 `json:"disk_percent"`
	DBConnsTotal   int32   `json:"db_conns_total"`
	DBConnsIdle    int32   `json:"db_conns_idle"`
	DBConnsInUse   int32   `json:"db_conns_in_use"`
	GoroutineCount int     `json:"goroutine_count"`
}

// SystemHealth is the aggregate snapshot returned by the detailed health
// endpoint. Overall status is the worst status among dependencies.
type SystemHealth struct {
	Status       HealthStatus       `json:"status"`
	Dependencies []DependencyHealth `json:"dependencies"`
	Process      ProcessMetrics     `json:"process"`
	CheckedAt    time.Time          `json:"checked_at"`
}
