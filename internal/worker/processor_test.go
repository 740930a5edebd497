package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"propertyops/internal/models"
)

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	// The cap holds even for large attempt counts.
	b10 := backoffWithJitter(base, max, 10)
	if b10 > max {
		t.Fatalf("backoff %s exceeds cap %s", b10, max)
	}
}

func TestBackoffExtremeAttemptsStayCapped(t *testing.T) {
	base := 2 * time.Second
	max := 5 * time.Minute

	// Doubling 2s past attempt 33 would overflow int64 if computed naively;
	// the wait must stay positive and within the cap instead.
	for _, attempt := range []int{34, 64, 100, 1 << 20} {
		got := backoffWithJitter(base, max, attempt)
		if got <= 0 || got > max {
			t.Fatalf("attempt %d backoff %s outside (0, %s]", attempt, got, max)
		}
	}
}

func TestBackoffToleratesDegenerateConfig(t *testing.T) {
	// A zero or negative initial backoff falls back to a sane default
	// rather than panicking on the first retry.
	if got := backoffWithJitter(0, time.Minute, 1); got <= 0 || got > time.Minute {
		t.Fatalf("zero base backoff %s outside (0, 1m]", got)
	}
	if got := backoffWithJitter(-time.Second, time.Minute, 3); got <= 0 || got > time.Minute {
		t.Fatalf("negative base backoff %s outside (0, 1m]", got)
	}

	// A cap below the base is lifted to the base.
	if got := backoffWithJitter(time.Minute, time.Second, 1); got <= 0 || got > time.Minute {
		t.Fatalf("inverted cap backoff %s outside (0, 1m]", got)
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	base := time.Second
	max := time.Hour

	// The deterministic floor (wait/2) doubles per attempt until the cap.
	prevFloor := time.Duration(0)
	for attempt := 1; attempt <= 5; attempt++ {
		got := backoffWithJitter(base, max, attempt)
		floor := base * time.Duration(1<<(attempt-1)) / 2
		if got < floor {
			t.Fatalf("attempt %d backoff %s below floor %s", attempt, got, floor)
		}
		if floor <= prevFloor {
			t.Fatalf("floor must grow monotonically, got %s after %s", floor, prevFloor)
		}
		prevFloor = floor
	}
}

func TestEmailSendHandlerValidation(t *testing.T) {
	handler := EmailSendHandler(zap.NewNop().Sugar())
	ctx := context.Background()

	err := handler(ctx, models.BackgroundJob{ID: "j1", Payload: map[string]any{}})
	if err == nil {
		t.Fatal("missing recipient must fail")
	}

	err = handler(ctx, models.BackgroundJob{ID: "j2", Payload: map[string]any{"to": "ops@example.com"}})
	if err == nil {
		t.Fatal("missing subject must fail")
	}

	err = handler(ctx, models.BackgroundJob{ID: "j3", Payload: map[string]any{
		"to":      "ops@example.com",
		"subject": "lease renewal",
	}})
	if err != nil {
		t.Fatalf("valid payload failed: %v", err)
	}
}

func TestAsInt(t *testing.T) {
	if v, ok := asInt(float64(42)); !ok || v != 42 {
		t.Fatalf("float64 = %d, %v", v, ok)
	}
	if v, ok := asInt(7); !ok || v != 7 {
		t.Fatalf("int = %d, %v", v, ok)
	}
	if _, ok := asInt("42"); ok {
		t.Fatal("string must not convert")
	}
}
