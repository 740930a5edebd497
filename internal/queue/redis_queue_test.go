package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"propertyops/internal/config"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.Config{
		Queues:            []string{"default", "reports"},
		VisibilityTimeout: 30 * time.Second,
	}
	return NewRedisQueueWithClient(client, cfg), mr
}

func TestEnqueueAndDequeueWithLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "job-1", "default", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("dequeued %q, want job-1", id)
	}

	// Leased job must not be dequeued again.
	id, err = q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if id != "" {
		t.Fatalf("expected empty dequeue, got %q", id)
	}
}

func TestDequeueRespectsLaneOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	past := time.Now().Add(-time.Second)
	if err := q.Enqueue(ctx, "report-job", "reports", past); err != nil {
		t.Fatalf("enqueue reports: %v", err)
	}
	if err := q.Enqueue(ctx, "default-job", "default", past); err != nil {
		t.Fatalf("enqueue default: %v", err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "default-job" {
		t.Fatalf("dequeued %q, want default-job (default lane first)", id)
	}
}

func TestScheduledJobsPromoteWhenDue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	future := time.Now().Add(time.Hour)
	if err := q.Enqueue(ctx, "job-1", "default", future); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Not yet due.
	n, err := q.PromoteScheduled(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 0 {
		t.Fatalf("promoted %d jobs before due time", n)
	}

	n, err = q.PromoteScheduled(ctx, future.Add(time.Second), 100)
	if err != nil {
		t.Fatalf("promote after due: %v", err)
	}
	if n != 1 {
		t.Fatalf("promoted %d jobs, want 1", n)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Fatalf("dequeue after promote = %q, %v", id, err)
	}
}

func TestRequeueExpiredReclaimsLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "job-1", "reports", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 100)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "job-1" {
		t.Fatalf("reclaimed %v, want [job-1]", ids)
	}

	// Back in its original lane.
	id, err := q.DequeueWithLease(ctx)
	if err != nil || id != "job-1" {
		t.Fatalf("dequeue after reclaim = %q, %v", id, err)
	}
}

func TestRemoveDropsJobEverywhere(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	if err := q.Enqueue(ctx, "job-1", "default", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Remove(ctx, "job-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	id, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if id != "" {
		t.Fatalf("removed job still dequeued: %q", id)
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 0 {
		t.Fatalf("ready depth = %d, %v", depth, err)
	}
}
