package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/notifications"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// Handler is the notify stage, and the end of every pipeline pass.
// It tells humans what happened; delivery failures are logged and
// swallowed so a flaky webhook never re-runs ERP side effects.
type Handler struct {
	notifier notifications.Service
	docs     *documents.Store
	results  *matching.Store
	holds    *holds.Store
	logger   *slog.Logger
}

func NewHandler(notifier notifications.Service, docs *documents.Store, results *matching.Store, holdStore *holds.Store, logger *slog.Logger) *Handler {
	return &Handler{
		notifier: notifier,
		docs:     docs,
		results:  results,
		holds:    holdStore,
		logger:   logging.NewComponentLogger(logger, "notify"),
	}
}

func (h *Handler) Stage() queue.Stage { return queue.StageNotify }

func (h *Handler) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	var payload pipeline.DocPayload
	if err := pipeline.DecodePayload(job, &payload); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "notify", "decode", "", err)
	}

	doc, err := h.docs.GetByID(ctx, payload.DocumentID)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if doc == nil {
		h.logger.WarnContext(ctx, "notify for unknown document",
			logging.Int64(logging.FieldDocumentID, payload.DocumentID))
		return pipeline.Terminal(), nil
	}
	ctx = services.WithDocumentID(ctx, doc.ID)

	open, err := h.holds.List(ctx, holds.Filter{Status: holds.StatusOpen, DocumentID: doc.ID})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	for _, hold := range open {
		alert := notifications.HoldAlert{
			DocumentID:    doc.ID,
			Supplier:      doc.SupplierNameRaw,
			InvoiceNumber: doc.InvoiceNumber,
			Reason:        string(hold.Reason),
			Details:       hold.Details,
			Suggestions:   decodeSuggestions(hold.SuggestedActions),
		}
		if err := h.notifier.SendHoldAlert(ctx, alert); err != nil {
			h.logger.WarnContext(ctx, "hold alert delivery failed",
				logging.Int64("hold_id", hold.ID),
				logging.String(logging.FieldHoldReason, string(hold.Reason)),
				logging.Error(err))
		}
	}

	if err := h.sendVarianceAlert(ctx, doc); err != nil {
		h.logger.WarnContext(ctx, "variance alert delivery failed", logging.Error(err))
	}

	if len(open) == 0 && doc.Status == documents.StatusBilled {
		h.logger.InfoContext(ctx, "invoice fully processed",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.String("supplier", doc.SupplierNameRaw),
			logging.String("invoice_number", doc.InvoiceNumber))
	}
	return pipeline.Terminal(), nil
}

// sendVarianceAlert fires when the invoice sits in a draft bill waiting
// on a variance decision.
func (h *Handler) sendVarianceAlert(ctx context.Context, doc *documents.Document) error {
	result, err := h.results.GetByDocument(ctx, doc.ID)
	if services.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if result.Action != matching.ActionDraftThenAlert || !result.HasReason(holds.ReasonVarianceExceeded) {
		return nil
	}
	return h.notifier.SendVarianceAlert(ctx, notifications.VarianceAlert{
		DocumentID:    doc.ID,
		Supplier:      doc.SupplierNameRaw,
		InvoiceNumber: doc.InvoiceNumber,
		InvoiceTotal:  doc.Total,
		POTotal:       doc.Total - result.Variance,
		Variance:      result.Variance,
	})
}

// decodeSuggestions tolerates both the JSON-array form the match engine
// writes and bare text.
func decodeSuggestions(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	return []string{fmt.Sprint(raw)}
}
