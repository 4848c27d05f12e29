package pipeline

import (
	"context"

	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// ResolveHold closes a hold and applies the reviewer's verdict.
// Rejection closes the document for good; approval and override
// rewrite the match assignment and re-enter the pipeline at match.
func (m *Manager) ResolveHold(ctx context.Context, holdID int64, resolution holds.Resolution) (*holds.Hold, error) {
	hold, err := m.holds.Resolve(ctx, holdID, resolution)
	if err != nil {
		return nil, err
	}

	doc, err := m.docs.GetByID(ctx, hold.DocumentID)
	if err != nil {
		return nil, err
	}

	if resolution.Action == holds.ResolutionReject {
		if err := m.docs.SetStatus(ctx, doc.ID, documents.StatusClosed); err != nil {
			return nil, err
		}
		m.logger.InfoContext(ctx, "hold rejected, document closed",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.String(logging.FieldHoldReason, string(hold.Reason)))
		return hold, nil
	}

	if resolution.MarkAsStock {
		if err := m.docs.SetServiceStock(ctx, doc.ID, true); err != nil {
			return nil, err
		}
	}
	// Record the reviewer's verdict on the match result so the
	// re-entered match stage honors it instead of re-deciding. Holds
	// opened before matching (unreadable, duplicate) have no result
	// yet; those re-enter and get a first decision.
	err = m.results.ApplyResolution(ctx, doc.ID,
		resolution.JobID, resolution.VendorID, resolution.AllowVariance, resolution.MarkAsStock)
	if err != nil && !services.IsNotFound(err) {
		return nil, err
	}

	if err := m.docs.SetStatus(ctx, doc.ID, documents.StatusProcessing); err != nil {
		return nil, err
	}

	payload, err := EncodePayload(DocPayload{DocumentID: doc.ID})
	if err != nil {
		return nil, err
	}
	if err := m.store.Enqueue(ctx, queue.StageMatch, doc.CorrelationID, payload); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "hold resolved, re-entering at match",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String(logging.FieldHoldReason, string(hold.Reason)),
		logging.String("resolution", resolution.Action))
	return hold, nil
}
