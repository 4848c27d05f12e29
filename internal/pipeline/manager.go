package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// ResultApplier rewrites a match assignment when a reviewer resolves a
// hold. Satisfied by the match-result store.
type ResultApplier interface {
	ApplyResolution(ctx context.Context, documentID, jobID, vendorID int64, allowVariance, markAsStock bool) error
}

// Manager owns the per-stage worker pools and the chaining rules that
// carry one invoice from split to notify.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	docs     *documents.Store
	results  ResultApplier
	holds    *holds.Store
	logger   *slog.Logger
	handlers map[queue.Stage]Handler

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewManager(cfg *config.Config, store *queue.Store, docs *documents.Store, results ResultApplier, holdStore *holds.Store, logger *slog.Logger) *Manager {
	poll := time.Duration(cfg.Pipeline.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = time.Second
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		docs:         docs,
		results:      results,
		holds:        holdStore,
		logger:       logging.NewComponentLogger(logger, "pipeline"),
		handlers:     make(map[queue.Stage]Handler),
		pollInterval: poll,
	}
}

// Register installs a stage handler. All six stages must be registered
// before Start.
func (m *Manager) Register(handler Handler) {
	m.handlers[handler.Stage()] = handler
}

// Start spins up the worker pools. Jobs left running by a previous
// process are reset first.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("pipeline already running")
	}
	for _, stage := range queue.Stages() {
		if m.handlers[stage] == nil {
			return fmt.Errorf("no handler registered for stage %s", stage)
		}
	}

	if _, err := m.store.ResetStuckRunning(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true

	counts := m.cfg.WorkerCounts()
	for _, stage := range queue.Stages() {
		workers := counts[string(stage)]
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			m.wg.Add(1)
			go m.runWorker(runCtx, stage)
		}
	}

	m.logger.Info("pipeline started", logging.Int("stages", len(m.handlers)))
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline stopped")
}

// ProcessDocument is the pipeline entry point: it mints a correlation
// id for an inbound attachment and enqueues the split stage.
func (m *Manager) ProcessDocument(ctx context.Context, req SplitPayload) (string, error) {
	if req.PDFPath == "" {
		return "", services.Wrap(services.ErrValidation, "pipeline", "process",
			"pdf path is required", nil)
	}
	correlationID := uuid.NewString()
	payload, err := EncodePayload(req)
	if err != nil {
		return "", err
	}
	if err := m.store.Enqueue(ctx, queue.StageSplit, correlationID, payload); err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "document accepted",
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.String("pdf", req.PDFPath))
	return correlationID, nil
}

func (m *Manager) runWorker(ctx context.Context, stage queue.Stage) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldStage, string(stage)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNext(ctx, stage)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("claim failed", logging.Error(err))
			m.sleep(ctx)
			continue
		}
		if job == nil {
			m.sleep(ctx)
			continue
		}

		m.processJob(ctx, logger, job)
	}
}

func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx := services.WithCorrelationID(ctx, job.CorrelationID)
	jobCtx = services.WithStage(jobCtx, string(job.Stage))

	handler := m.handlers[job.Stage]
	result, err := handler.Execute(jobCtx, job)
	if err != nil {
		m.handleFailure(jobCtx, logger, job, err)
		return
	}

	if err := m.store.MarkCompleted(jobCtx, job.Stage, job.CorrelationID); err != nil {
		logger.Error("mark completed failed", logging.Error(err),
			logging.String(logging.FieldCorrelationID, job.CorrelationID))
		return
	}

	switch result.kind {
	case kindAdvance, kindHold:
		if result.kind == kindHold {
			m.copyToHeldDir(jobCtx, logger, result.payload)
		}
		if err := m.store.Enqueue(jobCtx, result.next, job.CorrelationID, result.payload); err != nil {
			logger.Error("chain next stage failed", logging.Error(err),
				logging.String(logging.FieldCorrelationID, job.CorrelationID),
				logging.String("next_stage", string(result.next)))
			return
		}
		logger.DebugContext(jobCtx, "stage completed",
			logging.String(logging.FieldCorrelationID, job.CorrelationID),
			logging.String("next_stage", string(result.next)))
	case kindTerminal:
		logger.DebugContext(jobCtx, "pipeline finished",
			logging.String(logging.FieldCorrelationID, job.CorrelationID))
	}
}

// copyToHeldDir drops a copy of a held document's PDF into the held
// directory so a reviewer can open it without digging through staging.
// Best effort: a missing file never blocks the notify hand-off.
func (m *Manager) copyToHeldDir(ctx context.Context, logger *slog.Logger, payload string) {
	var doc DocPayload
	if err := json.Unmarshal([]byte(payload), &doc); err != nil || doc.DocumentID == 0 {
		return
	}
	record, err := m.docs.GetByID(ctx, doc.DocumentID)
	if err != nil || record == nil || record.SourcePDFPath == "" {
		return
	}
	pdf, err := os.ReadFile(record.SourcePDFPath)
	if err != nil {
		return
	}
	if err := os.MkdirAll(m.cfg.Paths.HeldDir, 0o755); err != nil {
		logger.WarnContext(ctx, "held dir unavailable", logging.Error(err))
		return
	}
	target := filepath.Join(m.cfg.Paths.HeldDir, filepath.Base(record.SourcePDFPath))
	if err := os.WriteFile(target, pdf, 0o644); err != nil {
		logger.WarnContext(ctx, "held copy failed",
			logging.Int64(logging.FieldDocumentID, doc.DocumentID),
			logging.Error(err))
		return
	}
	logger.DebugContext(ctx, "held copy written",
		logging.Int64(logging.FieldDocumentID, doc.DocumentID),
		logging.String("held_path", target))
}

// handleFailure applies the retry policy: terminal errors and exhausted
// retries park the job as failed, everything else backs off and waits.
func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, err error) {
	maxAttempts := m.cfg.Pipeline.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	if !services.Retryable(err) || job.RetryCount >= maxAttempts-1 {
		if markErr := m.store.MarkFailed(ctx, job.Stage, job.CorrelationID, err.Error()); markErr != nil {
			logger.Error("mark failed errored", logging.Error(markErr))
		}
		logger.ErrorContext(ctx, "job failed permanently",
			logging.String(logging.FieldCorrelationID, job.CorrelationID),
			logging.Int("attempts", job.RetryCount+1),
			logging.Error(err))
		return
	}

	delay := m.backoff(job.RetryCount)
	if delayErr := m.store.Delay(ctx, job.Stage, job.CorrelationID,
		time.Now().Add(delay), err.Error()); delayErr != nil {
		logger.Error("delay job errored", logging.Error(delayErr))
		return
	}
	logger.WarnContext(ctx, "job retrying",
		logging.String(logging.FieldCorrelationID, job.CorrelationID),
		logging.Int("attempt", job.RetryCount+1),
		logging.Duration("backoff", delay),
		logging.Error(err))
}

func (m *Manager) backoff(retryCount int) time.Duration {
	base := time.Duration(m.cfg.Pipeline.RetryBackoffMS) * time.Millisecond
	if base <= 0 {
		base = 2 * time.Second
	}
	return base * time.Duration(math.Pow(2, float64(retryCount)))
}

func (m *Manager) sleep(ctx context.Context) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
