package models

import (
	"testing"
)

func TestJobStatusTransitionGuards(t *testing.T) {
	cases := []struct {
		status      JobStatus
		terminal    bool
		cancellable bool
		retryable   bool
		claimable   bool
	}{
		{StatusPending, false, true, false, true},
		{StatusRunning, false, true, false, false},
		{StatusSucceeded, true, false, false, false},
		{StatusFailed, false, false, true, false},
		{StatusRetrying, false, true, true, true},
		{StatusCancelled, true, false, false, false},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("%s Terminal = %v, want %v", c.status, got, c.terminal)
		}
		if got := c.status.Cancellable(); got != c.cancellable {
			t.Errorf("%s Cancellable = %v, want %v", c.status, got, c.cancellable)
		}
		if got := c.status.Retryable(); got != c.retryable {
			t.Errorf("%s Retryable = %v, want %v", c.status, got, c.retryable)
		}
		if got := c.status.Claimable(); got != c.claimable {
			t.Errorf("%s Claimable = %v, want %v", c.status, got, c.claimable)
		}
	}
}

func TestValidJobStatus(t *testing.T) {
	if !ValidJobStatus("pending") || !ValidJobStatus("cancelled") {
		t.Fatal("expected known statuses to validate")
	}
	if ValidJobStatus("queued") || ValidJobStatus("") {
		t.Fatal("expected unknown statuses to be rejected")
	}
}

func TestWorstHealth(t *testing.T) {
	if got := WorstHealth(); got != HealthHealthy {
		t.Fatalf("empty input = %s, want healthy", got)
	}
	if got := WorstHealth(HealthHealthy, HealthHealthy); got != HealthHealthy {
		t.Fatalf("all healthy = %s", got)
	}
	if got := WorstHealth(HealthHealthy, HealthDegraded); got != HealthDegraded {
		t.Fatalf("healthy+degraded = %s, want degraded", got)
	}
	if got := WorstHealth(HealthDegraded, HealthUnhealthy, HealthHealthy); got != HealthUnhealthy {
		t.Fatalf("mixed = %s, want unhealthy", got)
	}
}

func TestAlertLifecycleGuards(t *testing.T) {
	if !AlertActive.CanAcknowledge() {
		t.Fatal("active must be acknowledgeable")
	}
	if AlertAcknowledged.CanAcknowledge() || AlertResolved.CanAcknowledge() {
		t.Fatal("only active alerts may be acknowledged")
	}
	if !AlertActive.CanResolve() || !AlertAcknowledged.CanResolve() {
		t.Fatal("active and acknowledged alerts must be resolvable")
	}
	if AlertResolved.CanResolve() {
		t.Fatal("resolved is terminal")
	}
}

func TestValidAlertStatusAndSeverity(t *testing.T) {
	for _, s := range []string{"active", "acknowledged", "resolved"} {
		if !ValidAlertStatus(s) {
			t.Errorf("ValidAlertStatus(%q) = false", s)
		}
	}
	if ValidAlertStatus("open") || ValidAlertStatus("") {
		t.Fatal("unknown alert statuses must be rejected")
	}

	for _, s := range []string{"info", "warning", "critical"} {
		if !ValidAlertSeverity(s) {
			t.Errorf("ValidAlertSeverity(%q) = false", s)
		}
	}
	if ValidAlertSeverity("catastrophic") || ValidAlertSeverity("") {
		t.Fatal("unknown severities must be rejected")
	}
}

func TestStatusListsMatchGuards(t *testing.T) {
	check := func(name string, list []string, allowed func(JobStatus) bool) {
		seen := map[string]bool{}
		for _, s := range list {
			seen[s] = true
		}
		for _, s := range allJobStatuses {
			if allowed(s) != seen[string(s)] {
				t.Errorf("%s disagrees with guard for %s", name, s)
			}
		}
	}
	check("ClaimableStatuses", ClaimableStatuses, JobStatus.Claimable)
	check("RetryableStatuses", RetryableStatuses, JobStatus.Retryable)
	check("CancellableStatuses", CancellableStatuses, JobStatus.Cancellable)

	if len(AcknowledgeableAlertStatuses) != 1 || AcknowledgeableAlertStatuses[0] != string(AlertActive) {
		t.Fatalf("AcknowledgeableAlertStatuses = %v", AcknowledgeableAlertStatuses)
	}
	if len(ResolvableAlertStatuses) != 2 {
		t.Fatalf("ResolvableAlertStatuses = %v", ResolvableAlertStatuses)
	}
}

func TestApplyBudgetUpdate(t *testing.T) {
	svc := "compute"
	base := CostBudget{ID: "b1", Period: "2026-08", ThresholdAmount: 1000, Currency: "USD"}

	updated := ApplyBudgetUpdate(base, BudgetUpdate{})
	if updated != base {
		t.Fatalf("empty update changed budget: %+v", updated)
	}

	amount := 2500.0
	updated = ApplyBudgetUpdate(base, BudgetUpdate{ThresholdAmount: &amount, ServiceType: &svc})
	if updated.ThresholdAmount != 2500 {
		t.Fatalf("threshold = %v, want 2500", updated.ThresholdAmount)
	}
	if updated.ServiceType == nil || *updated.ServiceType != "compute" {
		t.Fatalf("service type not applied: %+v", updated.ServiceType)
	}
	if updated.Period != "2026-08" || updated.Currency != "USD" {
		t.Fatalf("absent fields must be preserved: %+v", updated)
	}
}
