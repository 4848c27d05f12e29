package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
	"apflow/internal/storage"
	"apflow/internal/testsupport"
)

type stubHandler struct {
	stage   queue.Stage
	execute func(ctx context.Context, job *queue.Job) (pipeline.StageResult, error)
	calls   atomic.Int64
}

func (h *stubHandler) Stage() queue.Stage { return h.stage }

func (h *stubHandler) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	h.calls.Add(1)
	if h.execute != nil {
		return h.execute(ctx, job)
	}
	if next, ok := queue.Next(h.stage); ok {
		return pipeline.Advance(next, job.Payload), nil
	}
	return pipeline.Terminal(), nil
}

type managerFixture struct {
	manager *pipeline.Manager
	store   *queue.Store
	docs    *documents.Store
	results *matching.Store
	holds   *holds.Store
	db      *storage.DB
	cfg     *config.Config
	stubs   map[queue.Stage]*stubHandler
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithFastPipeline())
	db := testsupport.MustOpenDB(t, cfg)
	store := queue.NewStore(db, logging.NewNop())
	docs := documents.NewStore(db)
	results := matching.NewStore(db)
	holdStore := holds.NewStore(db)

	f := &managerFixture{
		manager: pipeline.NewManager(cfg, store, docs, results, holdStore, logging.NewNop()),
		store:   store,
		docs:    docs,
		results: results,
		holds:   holdStore,
		db:      db,
		cfg:     cfg,
		stubs:   make(map[queue.Stage]*stubHandler),
	}
	for _, stage := range queue.Stages() {
		stub := &stubHandler{stage: stage}
		f.stubs[stage] = stub
		f.manager.Register(stub)
	}
	return f
}

func (f *managerFixture) start(t *testing.T) {
	t.Helper()
	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(f.manager.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestProcessDocumentRunsAllStages(t *testing.T) {
	f := newManagerFixture(t)
	f.start(t)

	corr, err := f.manager.ProcessDocument(context.Background(), pipeline.SplitPayload{
		AttachmentID: "att-1", PDFPath: "/tmp/inbox/a.pdf",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if corr == "" {
		t.Fatal("empty correlation id")
	}

	waitFor(t, 5*time.Second, func() bool {
		return f.stubs[queue.StageNotify].calls.Load() >= 1
	})

	for _, stage := range queue.Stages() {
		if f.stubs[stage].calls.Load() != 1 {
			t.Fatalf("stage %s ran %d times", stage, f.stubs[stage].calls.Load())
		}
	}

	job, err := f.store.Get(context.Background(), queue.StageNotify, corr)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Status != queue.StatusCompleted {
		t.Fatalf("notify job = %+v", job)
	}
}

func TestProcessDocumentRequiresPDFPath(t *testing.T) {
	f := newManagerFixture(t)

	_, err := f.manager.ProcessDocument(context.Background(), pipeline.SplitPayload{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryableFailureBacksOffThenSucceeds(t *testing.T) {
	f := newManagerFixture(t)
	var attempts atomic.Int64
	f.stubs[queue.StageSplit].execute = func(_ context.Context, job *queue.Job) (pipeline.StageResult, error) {
		if attempts.Add(1) == 1 {
			return pipeline.StageResult{}, services.Wrap(services.ErrTransient,
				"split", "stage", "transient blip", nil)
		}
		return pipeline.Advance(queue.StageParse, job.Payload), nil
	}
	f.start(t)

	if _, err := f.manager.ProcessDocument(context.Background(), pipeline.SplitPayload{
		PDFPath: "/tmp/inbox/a.pdf",
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return f.stubs[queue.StageParse].calls.Load() >= 1
	})
	if attempts.Load() != 2 {
		t.Fatalf("attempts = %d, want 2", attempts.Load())
	}
}

func TestExhaustedRetriesMarkJobFailed(t *testing.T) {
	f := newManagerFixture(t)
	f.stubs[queue.StageSplit].execute = func(context.Context, *queue.Job) (pipeline.StageResult, error) {
		return pipeline.StageResult{}, services.Wrap(services.ErrTransient,
			"split", "stage", "always down", nil)
	}
	f.start(t)

	corr, err := f.manager.ProcessDocument(context.Background(), pipeline.SplitPayload{
		PDFPath: "/tmp/inbox/a.pdf",
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 10*time.Second, func() bool {
		job, err := f.store.Get(context.Background(), queue.StageSplit, corr)
		return err == nil && job != nil && job.Status == queue.StatusFailed
	})

	if got := f.stubs[queue.StageSplit].calls.Load(); got != int64(f.cfg.Pipeline.MaxAttempts) {
		t.Fatalf("attempts = %d, want %d", got, f.cfg.Pipeline.MaxAttempts)
	}
	if f.stubs[queue.StageParse].calls.Load() != 0 {
		t.Fatal("failed job must not chain")
	}
}

func TestValidationErrorFailsWithoutRetry(t *testing.T) {
	f := newManagerFixture(t)
	f.stubs[queue.StageSplit].execute = func(context.Context, *queue.Job) (pipeline.StageResult, error) {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation,
			"split", "stage", "not a pdf", nil)
	}
	f.start(t)

	corr, err := f.manager.ProcessDocument(context.Background(), pipeline.SplitPayload{
		PDFPath: "/tmp/inbox/bad.bin",
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		job, err := f.store.Get(context.Background(), queue.StageSplit, corr)
		return err == nil && job != nil && job.Status == queue.StatusFailed
	})
	if f.stubs[queue.StageSplit].calls.Load() != 1 {
		t.Fatalf("validation errors must not retry, ran %d times",
			f.stubs[queue.StageSplit].calls.Load())
	}
}

func TestHoldResultRoutesToNotify(t *testing.T) {
	f := newManagerFixture(t)
	f.stubs[queue.StageSplit].execute = func(_ context.Context, job *queue.Job) (pipeline.StageResult, error) {
		return pipeline.Hold(job.Payload), nil
	}
	f.start(t)

	if _, err := f.manager.ProcessDocument(context.Background(), pipeline.SplitPayload{
		PDFPath: "/tmp/inbox/a.pdf",
	}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return f.stubs[queue.StageNotify].calls.Load() >= 1
	})
	// Parse through write never ran.
	for _, stage := range []queue.Stage{queue.StageParse, queue.StageMatch, queue.StageBill, queue.StageWrite} {
		if f.stubs[stage].calls.Load() != 0 {
			t.Fatalf("stage %s ran for a held invoice", stage)
		}
	}
}

func TestHeldInvoiceCopiesPDFForReview(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	staged := filepath.Join(f.cfg.Paths.StagingDir, "held-copy.pdf")
	if err := os.WriteFile(staged, []byte("%PDF-1.4 held"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{SourcePDFPath: staged})

	f.stubs[queue.StageSplit].execute = func(context.Context, *queue.Job) (pipeline.StageResult, error) {
		encoded, err := pipeline.EncodePayload(pipeline.DocPayload{DocumentID: doc.ID})
		if err != nil {
			return pipeline.StageResult{}, err
		}
		return pipeline.Hold(encoded), nil
	}
	f.start(t)

	if _, err := f.manager.ProcessDocument(ctx, pipeline.SplitPayload{PDFPath: staged}); err != nil {
		t.Fatal(err)
	}

	held := filepath.Join(f.cfg.Paths.HeldDir, "held-copy.pdf")
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(held)
		return err == nil
	})
	if _, err := os.Stat(staged); err != nil {
		t.Fatal("staged original must remain in place")
	}
}

func TestGetHealthFlagsIssues(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	health, err := f.manager.GetHealth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !health.Healthy {
		t.Fatalf("fresh pipeline unhealthy: %v", health.Issues)
	}

	if err := f.store.Pause(ctx, queue.StageBill); err != nil {
		t.Fatal(err)
	}
	health, err = f.manager.GetHealth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if health.Healthy || len(health.Issues) == 0 {
		t.Fatal("paused stage must surface as an issue")
	}
}

func TestResolveHoldReentersAtMatch(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{})
	if err := f.results.Upsert(ctx, &matching.MatchResult{
		DocumentID: doc.ID,
		Action:     matching.ActionHoldForReview,
	}); err != nil {
		t.Fatal(err)
	}
	hold, err := f.holds.Create(ctx, doc.ID, holds.ReasonMissingPO, "", "")
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := f.manager.ResolveHold(ctx, hold.ID, holds.Resolution{
		Action:        holds.ResolutionApprove,
		ResolvedBy:    "reviewer@example.com",
		JobID:         4410,
		AllowVariance: true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != holds.StatusResolved {
		t.Fatalf("status = %s", resolved.Status)
	}

	result, err := f.results.GetByDocument(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.JobID != 4410 || result.Action != matching.ActionAutoFinalize {
		t.Fatalf("result = %+v", result)
	}

	job, err := f.store.Get(ctx, queue.StageMatch, doc.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.Status != queue.StatusWaiting {
		t.Fatalf("match job = %+v", job)
	}
}

func TestRejectedHoldClosesDocument(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{})
	hold, err := f.holds.Create(ctx, doc.ID, holds.ReasonDuplicate, "", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.manager.ResolveHold(ctx, hold.ID, holds.Resolution{
		Action: holds.ResolutionReject, ResolvedBy: "reviewer@example.com",
	}); err != nil {
		t.Fatal(err)
	}

	updated, err := f.docs.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != documents.StatusClosed {
		t.Fatalf("status = %s", updated.Status)
	}
	if job, _ := f.store.Get(ctx, queue.StageMatch, doc.CorrelationID); job != nil {
		t.Fatal("rejected hold must not re-enter the pipeline")
	}
}
