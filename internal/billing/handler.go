package billing

import (
	"context"
	"fmt"
	"log/slog"

	"apflow/internal/documents"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// Handler is the bill stage: it carries out the action the match
// engine decided on. Finalized bills move on to write; drafts, stock
// bills, and held invoices go to notify.
type Handler struct {
	executor *Executor
	docs     *documents.Store
	results  *matching.Store
	logger   *slog.Logger
}

func NewHandler(executor *Executor, docs *documents.Store, results *matching.Store, logger *slog.Logger) *Handler {
	return &Handler{
		executor: executor,
		docs:     docs,
		results:  results,
		logger:   logging.NewComponentLogger(logger, "bill"),
	}
}

func (h *Handler) Stage() queue.Stage { return queue.StageBill }

func (h *Handler) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	var payload pipeline.DocPayload
	if err := pipeline.DecodePayload(job, &payload); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "bill", "decode", "", err)
	}

	doc, err := h.docs.GetByID(ctx, payload.DocumentID)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if doc == nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "bill", "load",
			fmt.Sprintf("document %d does not exist", payload.DocumentID), nil)
	}
	result, err := h.results.GetByDocument(ctx, doc.ID)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	ctx = services.WithDocumentID(ctx, doc.ID)
	outcome, err := h.executor.Execute(ctx, doc, result)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	encoded, err := pipeline.EncodePayload(payload)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if outcome.OpenedHold != nil {
		if err := h.docs.SetStatus(ctx, doc.ID, documents.StatusHeld); err != nil {
			return pipeline.StageResult{}, err
		}
		return pipeline.Hold(encoded), nil
	}
	if outcome.RouteToNotify {
		return pipeline.Advance(queue.StageNotify, encoded), nil
	}
	return pipeline.Advance(queue.StageWrite, encoded), nil
}
