package costs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"propertyops/internal/models"
)

func TestReachedThresholds(t *testing.T) {
	thresholds := []int{80, 100}

	if got := ReachedThresholds(500, 1000, thresholds); len(got) != 0 {
		t.Fatalf("50%% spend reached %v, want none", got)
	}
	if got := ReachedThresholds(800, 1000, thresholds); len(got) != 1 || got[0] != 80 {
		t.Fatalf("80%% spend reached %v, want [80]", got)
	}
	if got := ReachedThresholds(999, 1000, thresholds); len(got) != 1 || got[0] != 80 {
		t.Fatalf("99.9%% spend reached %v, want [80]", got)
	}
	if got := ReachedThresholds(1200, 1000, thresholds); len(got) != 2 {
		t.Fatalf("120%% spend reached %v, want [80 100]", got)
	}
	if got := ReachedThresholds(1200, 0, thresholds); got != nil {
		t.Fatalf("zero budget reached %v, want nil", got)
	}
}

func TestSeverityForThreshold(t *testing.T) {
	if severityForThreshold(80) != models.SeverityWarning {
		t.Fatal("80% crossing should be a warning")
	}
	if severityForThreshold(100) != models.SeverityCritical {
		t.Fatal("100% crossing should be critical")
	}
	if severityForThreshold(120) != models.SeverityCritical {
		t.Fatal("past-100% crossing should be critical")
	}
}

func TestReportExporterLocal(t *testing.T) {
	dir := t.TempDir()
	exporter := &ReportExporter{
		prefix: "cost-reports",
		dest:   &localUploader{baseDir: dir},
	}

	dashboard := models.CostDashboard{
		Period:      "2026-08",
		TotalAmount: 1234.56,
		Breakdown:   []models.ServiceCost{{ServiceType: "compute", Amount: 1000}},
	}
	location, err := exporter.Export(context.Background(), dashboard)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	want := filepath.Join(dir, "cost-reports", "2026-08.json")
	if location != want {
		t.Fatalf("location = %q, want %q", location, want)
	}

	body, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded models.CostDashboard
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Period != "2026-08" || decoded.TotalAmount != 1234.56 {
		t.Fatalf("report round-trip mismatch: %+v", decoded)
	}
}
