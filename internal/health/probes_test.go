package health

import (
	"context"
	"errors"
	"testing"

	"propertyops/internal/models"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

func TestPingProbe(t *testing.T) {
	ctx := context.Background()

	status, err := PingProbe(&fakePinger{})(ctx)
	if err != nil || status != models.HealthHealthy {
		t.Fatalf("healthy ping = %s, %v", status, err)
	}

	cause := errors.New("connection refused")
	status, err = PingProbe(&fakePinger{err: cause})(ctx)
	if status != models.HealthUnhealthy {
		t.Fatalf("failed ping status = %s, want unhealthy", status)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("probe must surface the ping error, got %v", err)
	}
}

func TestDiskProbeThresholds(t *testing.T) {
	ctx := context.Background()

	// Thresholds above 100% can never trip, so the probe reports healthy
	// regardless of actual usage.
	status, err := DiskProbe("/", 101, 102)(ctx)
	if err != nil {
		t.Fatalf("disk probe: %v", err)
	}
	if status != models.HealthHealthy {
		t.Fatalf("status = %s, want healthy", status)
	}

	// Thresholds at 0% always trip as unhealthy.
	status, err = DiskProbe("/", 0, 0)(ctx)
	if err == nil {
		t.Fatal("expected usage detail error")
	}
	if status != models.HealthUnhealthy {
		t.Fatalf("status = %s, want unhealthy", status)
	}
}

func TestStatusRankOrdering(t *testing.T) {
	if !(statusRank[models.HealthHealthy] < statusRank[models.HealthDegraded] &&
		statusRank[models.HealthDegraded] < statusRank[models.HealthUnhealthy]) {
		t.Fatal("status ranks must order healthy < degraded < unhealthy")
	}
}
