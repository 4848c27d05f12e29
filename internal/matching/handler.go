package matching

import (
	"context"
	"fmt"
	"log/slog"

	"apflow/internal/documents"
	"apflow/internal/logging"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// Handler is the match stage: it loads the document, runs the decision
// engine, and routes held invoices straight to notify.
type Handler struct {
	engine *Engine
	docs   *documents.Store
	logger *slog.Logger
}

func NewHandler(engine *Engine, docs *documents.Store, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		docs:   docs,
		logger: logging.NewComponentLogger(logger, "match"),
	}
}

func (h *Handler) Stage() queue.Stage { return queue.StageMatch }

func (h *Handler) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	var payload pipeline.DocPayload
	if err := pipeline.DecodePayload(job, &payload); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "match", "decode", "", err)
	}

	doc, err := h.docs.GetByID(ctx, payload.DocumentID)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if doc == nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "match", "load",
			fmt.Sprintf("document %d does not exist", payload.DocumentID), nil)
	}
	if doc.Status == documents.StatusClosed {
		h.logger.InfoContext(ctx, "skipping closed document",
			logging.Int64(logging.FieldDocumentID, doc.ID))
		return pipeline.Terminal(), nil
	}

	ctx = services.WithDocumentID(ctx, doc.ID)
	outcome, err := h.engine.Match(ctx, doc)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	encoded, err := pipeline.EncodePayload(payload)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if outcome.RouteToNotify {
		if err := h.docs.SetStatus(ctx, doc.ID, documents.StatusHeld); err != nil {
			return pipeline.StageResult{}, err
		}
		return pipeline.Hold(encoded), nil
	}
	return pipeline.Advance(queue.StageBill, encoded), nil
}
