package writeback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"apflow/internal/billing"
	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/logging"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// Handler is the write stage: the ERP side is settled, so archive the
// PDF into the processed directory, point the document and bill records
// at it, and mark the document billed.
type Handler struct {
	cfg    *config.Config
	docs   *documents.Store
	bills  *billing.Store
	logger *slog.Logger
}

func NewHandler(cfg *config.Config, docs *documents.Store, bills *billing.Store, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		docs:   docs,
		bills:  bills,
		logger: logging.NewComponentLogger(logger, "write"),
	}
}

func (h *Handler) Stage() queue.Stage { return queue.StageWrite }

func (h *Handler) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	var payload pipeline.DocPayload
	if err := pipeline.DecodePayload(job, &payload); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "write", "decode", "", err)
	}

	doc, err := h.docs.GetByID(ctx, payload.DocumentID)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if doc == nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "write", "load",
			fmt.Sprintf("document %d does not exist", payload.DocumentID), nil)
	}

	archived, err := h.archive(ctx, doc)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	if bill, err := h.bills.GetByDocument(ctx, doc.ID); err != nil {
		return pipeline.StageResult{}, err
	} else if bill != nil && archived != "" {
		if err := h.bills.SetPDFPath(ctx, bill.ID, archived); err != nil {
			return pipeline.StageResult{}, err
		}
	}

	if err := h.docs.SetStatus(ctx, doc.ID, documents.StatusBilled); err != nil {
		return pipeline.StageResult{}, err
	}
	h.logger.InfoContext(ctx, "document billed",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("archived_path", archived))

	encoded, err := pipeline.EncodePayload(payload)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.Advance(queue.StageNotify, encoded), nil
}

// archive moves the staged PDF into the processed directory. A retried
// job whose file already moved is fine; a document that never had a
// staged file (manual entry) archives nothing.
func (h *Handler) archive(ctx context.Context, doc *documents.Document) (string, error) {
	if doc.SourcePDFPath == "" {
		return "", nil
	}
	target := filepath.Join(h.cfg.Paths.ProcessedDir, filepath.Base(doc.SourcePDFPath))
	if doc.SourcePDFPath == target {
		return target, nil
	}
	if err := os.MkdirAll(h.cfg.Paths.ProcessedDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrExternalService, "write", "archive", h.cfg.Paths.ProcessedDir, err)
	}
	if err := os.Rename(doc.SourcePDFPath, target); err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(target); statErr == nil {
				return target, nil
			}
			h.logger.WarnContext(ctx, "staged pdf missing, nothing to archive",
				logging.Int64(logging.FieldDocumentID, doc.ID),
				logging.String("staged_path", doc.SourcePDFPath))
			return "", nil
		}
		return "", services.Wrap(services.ErrExternalService, "write", "archive", doc.SourcePDFPath, err)
	}
	if err := h.docs.SetSourcePDFPath(ctx, doc.ID, target); err != nil {
		return "", err
	}
	// A previously held invoice left a review copy behind; it is
	// superseded by the archived original.
	_ = os.Remove(filepath.Join(h.cfg.Paths.HeldDir, filepath.Base(target)))
	return target, nil
}
