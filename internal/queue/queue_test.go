package queue_test

import (
	"context"
	"testing"
	"time"

	"apflow/internal/logging"
	"apflow/internal/queue"
	"apflow/internal/testsupport"
)

func newStore(t *testing.T) (*queue.Store, context.Context) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	return queue.NewStore(db, logging.NewNop()), context.Background()
}

func TestStageOrder(t *testing.T) {
	stages := queue.Stages()
	want := []queue.Stage{
		queue.StageSplit, queue.StageParse, queue.StageMatch,
		queue.StageBill, queue.StageWrite, queue.StageNotify,
	}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}

	next, ok := queue.Next(queue.StageMatch)
	if !ok || next != queue.StageBill {
		t.Fatalf("Next(match) = %s, %t", next, ok)
	}
	if _, ok := queue.Next(queue.StageNotify); ok {
		t.Fatal("notify is the final stage")
	}
}

func TestEnqueueClaimComplete(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageParse, "corr-1", `{"pdf":"a.pdf"}`); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := store.ClaimNext(ctx, queue.StageParse)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.CorrelationID != "corr-1" {
		t.Fatalf("job = %+v", job)
	}
	if job.Status != queue.StatusRunning {
		t.Fatalf("status = %s", job.Status)
	}

	// The running job must not be claimable again.
	second, err := store.ClaimNext(ctx, queue.StageParse)
	if err != nil {
		t.Fatal(err)
	}
	if second != nil {
		t.Fatalf("claimed running job: %+v", second)
	}

	if err := store.MarkCompleted(ctx, queue.StageParse, "corr-1"); err != nil {
		t.Fatal(err)
	}
	stored, err := store.Get(ctx, queue.StageParse, "corr-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != queue.StatusCompleted {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestEnqueueIsIdempotentWhilePending(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageMatch, "corr-1", "first"); err != nil {
		t.Fatal(err)
	}
	// A second enqueue while waiting must not reset or duplicate.
	if err := store.Enqueue(ctx, queue.StageMatch, "corr-1", "second"); err != nil {
		t.Fatal(err)
	}

	job, err := store.Get(ctx, queue.StageMatch, "corr-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Payload != "first" {
		t.Fatalf("payload = %q, pending job must keep its payload", job.Payload)
	}

	jobs, err := store.List(ctx, queue.StageMatch, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
}

func TestEnqueueResetsCompletedJobForRepass(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageMatch, "corr-1", "pass-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(ctx, queue.StageMatch); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkCompleted(ctx, queue.StageMatch, "corr-1"); err != nil {
		t.Fatal(err)
	}

	// Hold resolved: the invoice re-enters at match.
	if err := store.Enqueue(ctx, queue.StageMatch, "corr-1", "pass-2"); err != nil {
		t.Fatal(err)
	}
	job, err := store.ClaimNext(ctx, queue.StageMatch)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Payload != "pass-2" {
		t.Fatalf("job = %+v", job)
	}
	if job.RetryCount != 0 {
		t.Fatalf("retry count = %d, want reset", job.RetryCount)
	}
}

func TestDelayBacksOffUntilDue(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageBill, "corr-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(ctx, queue.StageBill); err != nil {
		t.Fatal(err)
	}
	if err := store.Delay(ctx, queue.StageBill, "corr-1",
		time.Now().Add(time.Hour), "erp timeout"); err != nil {
		t.Fatal(err)
	}

	job, err := store.ClaimNext(ctx, queue.StageBill)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatal("delayed job claimed before its backoff elapsed")
	}

	stored, err := store.Get(ctx, queue.StageBill, "corr-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.RetryCount != 1 || stored.LastError != "erp timeout" {
		t.Fatalf("job = %+v", stored)
	}

	// A past due time makes it claimable again.
	if err := store.Delay(ctx, queue.StageBill, "corr-1",
		time.Now().Add(-time.Second), "erp timeout"); err != nil {
		t.Fatal(err)
	}
	job, err = store.ClaimNext(ctx, queue.StageBill)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("due job must be claimable")
	}
}

func TestPauseBlocksClaims(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageSplit, "corr-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Pause(ctx, queue.StageSplit); err != nil {
		t.Fatal(err)
	}

	job, err := store.ClaimNext(ctx, queue.StageSplit)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Fatal("paused stage must not hand out jobs")
	}

	if err := store.Resume(ctx, queue.StageSplit); err != nil {
		t.Fatal(err)
	}
	job, err = store.ClaimNext(ctx, queue.StageSplit)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("resumed stage must hand out jobs")
	}
}

func TestRetryFailedAndStats(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageWrite, "corr-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Enqueue(ctx, queue.StageWrite, "corr-2", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(ctx, queue.StageWrite); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed(ctx, queue.StageWrite, "corr-1", "boom"); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ws := stats[queue.StageWrite]
	if ws.Failed != 1 || ws.Waiting != 1 {
		t.Fatalf("write stats = %+v", ws)
	}
	if ws.OldestWaiting == nil {
		t.Fatal("oldest waiting must be reported")
	}

	retried, err := store.RetryFailed(ctx, queue.StageWrite)
	if err != nil {
		t.Fatal(err)
	}
	if retried != 1 {
		t.Fatalf("retried = %d", retried)
	}
	job, err := store.Get(ctx, queue.StageWrite, "corr-1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != queue.StatusWaiting || job.LastError != "" {
		t.Fatalf("job = %+v", job)
	}
}

func TestResetStuckRunning(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageParse, "corr-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(ctx, queue.StageParse); err != nil {
		t.Fatal(err)
	}

	reset, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d", reset)
	}
	job, err := store.ClaimNext(ctx, queue.StageParse)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("reset job must be claimable")
	}
}

func TestRemoveAndClear(t *testing.T) {
	store, ctx := newStore(t)

	if err := store.Enqueue(ctx, queue.StageNotify, "corr-1", ""); err != nil {
		t.Fatal(err)
	}
	removed, err := store.Remove(ctx, queue.StageNotify, "corr-1")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("expected removal")
	}

	if err := store.Enqueue(ctx, queue.StageNotify, "corr-2", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(ctx, queue.StageNotify); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkCompleted(ctx, queue.StageNotify, "corr-2"); err != nil {
		t.Fatal(err)
	}
	cleared, err := store.ClearCompleted(ctx, queue.StageNotify)
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d", cleared)
	}
}
