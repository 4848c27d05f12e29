package parsing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/extraction"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
	"apflow/internal/servicetitan"
	"apflow/internal/vendors"
)

// Handler is the parse stage: it runs extraction over the staged PDF,
// persists the Document with classified line items, and gates on
// readability and duplicates before matching sees the invoice.
type Handler struct {
	cfg       *config.Config
	extractor extraction.Client
	erp       servicetitan.Client
	docs      *documents.Store
	holds     *holds.Store
	logger    *slog.Logger
}

func NewHandler(cfg *config.Config, extractor extraction.Client, erp servicetitan.Client, docs *documents.Store, holdStore *holds.Store, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		extractor: extractor,
		erp:       erp,
		docs:      docs,
		holds:     holdStore,
		logger:    logging.NewComponentLogger(logger, "parse"),
	}
}

func (h *Handler) Stage() queue.Stage { return queue.StageParse }

func (h *Handler) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	var payload pipeline.ParsePayload
	if err := pipeline.DecodePayload(job, &payload); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "parse", "decode", "", err)
	}

	// A retried job may have already persisted its document; the
	// unique correlation id makes the stage idempotent.
	if existing, err := h.docs.GetByCorrelationID(ctx, job.CorrelationID); err != nil {
		return pipeline.StageResult{}, err
	} else if existing != nil {
		return h.routeDocument(ctx, existing, "")
	}

	pdf, err := os.ReadFile(payload.StagedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "parse", "read",
				fmt.Sprintf("staged file %s missing", payload.StagedPath), err)
		}
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalService, "parse", "read", payload.StagedPath, err)
	}

	invoice, err := h.extractor.AnalyzeInvoice(ctx, pdf, payload.SupplierHint)
	if errors.Is(err, services.ErrValidation) {
		// The analyzer refused the document outright. That is an
		// invoice problem, not an outage: hold it for a human.
		return h.holdUnreadable(ctx, job, payload, nil, holds.ReasonUnreadable,
			fmt.Sprintf("Extraction rejected the document: %v", err))
	}
	if err != nil {
		return pipeline.StageResult{}, err
	}

	if reason, details := h.gate(invoice); reason != "" {
		return h.holdUnreadable(ctx, job, payload, invoice, reason, details)
	}

	doc, err := h.buildDocument(ctx, job.CorrelationID, payload, invoice)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	dup, err := h.docs.FindDuplicate(ctx, doc.SupplierNameNormalized, doc.InvoiceNumber, 0, h.cfg.Matching.DedupeWindowDays)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if dup.IsDuplicate {
		doc.Status = documents.StatusHeld
		if err := h.docs.Create(ctx, doc); err != nil {
			return pipeline.StageResult{}, err
		}
		if _, err := h.holds.Create(ctx, doc.ID, holds.ReasonDuplicate,
			fmt.Sprintf("Invoice %s from %s already processed as document %d",
				doc.InvoiceNumber, doc.SupplierNameRaw, dup.ExistingDocumentID), ""); err != nil {
			return pipeline.StageResult{}, err
		}
		h.logger.InfoContext(ctx, "duplicate invoice held",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.Int64("existing_document_id", dup.ExistingDocumentID))
		return holdResult(doc.ID)
	}

	if err := h.docs.Create(ctx, doc); err != nil {
		return pipeline.StageResult{}, err
	}
	h.logger.InfoContext(ctx, "document parsed",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("supplier", doc.SupplierNameRaw),
		logging.String("invoice_number", doc.InvoiceNumber),
		logging.Int64("total", doc.Total),
		logging.Int("line_items", len(doc.LineItems)),
		logging.Bool("service_stock", doc.IsServiceStock))
	return advanceResult(doc.ID)
}

// gate decides whether extraction produced enough to reconcile. The
// reason names the first missing piece so the hold tells the reviewer
// what to type in, not just that OCR struggled.
func (h *Handler) gate(invoice *extraction.Invoice) (holds.Reason, string) {
	if invoice.Confidence < h.cfg.Extraction.MinConfidence {
		return holds.ReasonUnreadable,
			fmt.Sprintf("Extraction confidence %.2f below threshold %.2f", invoice.Confidence, h.cfg.Extraction.MinConfidence)
	}
	if invoice.SupplierName == "" {
		return holds.ReasonMissingSupplier, "No supplier name could be read from the document"
	}
	if invoice.InvoiceNumber == "" {
		return holds.ReasonMissingInvoiceNumber,
			fmt.Sprintf("No invoice number could be read from the %s document", invoice.SupplierName)
	}
	if invoice.Total <= 0 {
		return holds.ReasonInvalidTotal,
			fmt.Sprintf("Invoice total %d is not a positive amount", invoice.Total)
	}
	return "", ""
}

// holdUnreadable persists whatever was extracted so the hold has a
// document to hang off, then routes to notify.
func (h *Handler) holdUnreadable(ctx context.Context, job *queue.Job, payload pipeline.ParsePayload, invoice *extraction.Invoice, reason holds.Reason, details string) (pipeline.StageResult, error) {
	if invoice == nil {
		invoice = &extraction.Invoice{SupplierName: payload.SupplierHint}
	}
	doc, err := h.buildDocument(ctx, job.CorrelationID, payload, invoice)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	doc.Status = documents.StatusHeld
	if err := h.docs.Create(ctx, doc); err != nil {
		return pipeline.StageResult{}, err
	}
	if _, err := h.holds.Create(ctx, doc.ID, reason, details, ""); err != nil {
		return pipeline.StageResult{}, err
	}
	h.logger.WarnContext(ctx, "document held at parse",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("reason", string(reason)),
		logging.String("details", details))
	return holdResult(doc.ID)
}

func (h *Handler) buildDocument(ctx context.Context, correlationID string, payload pipeline.ParsePayload, invoice *extraction.Invoice) (*documents.Document, error) {
	doc := &documents.Document{
		CorrelationID:          correlationID,
		SupplierNameRaw:        invoice.SupplierName,
		SupplierNameNormalized: vendors.Normalize(invoice.SupplierName),
		InvoiceNumber:          invoice.InvoiceNumber,
		InvoiceDate:            invoice.InvoiceDate,
		TotalBeforeTax:         invoice.TotalBeforeTax,
		GST:                    invoice.GST,
		PST:                    invoice.PST,
		HST:                    invoice.HST,
		Total:                  invoice.Total,
		PONumberRaw:            invoice.PONumber,
		SourcePDFPath:          payload.StagedPath,
		Status:                 documents.StatusProcessing,
	}
	if documents.IsStockReference(invoice.PONumber) {
		doc.IsServiceStock = true
	} else {
		doc.PONumberCore = documents.POCore(invoice.PONumber)
	}

	for _, line := range invoice.LineItems {
		item := documents.LineItem{
			Description: line.Description,
			SKU:         line.SKU,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Total:       line.Total,
			Category:    documents.ClassifyLine(line.Description),
		}
		if line.SKU != "" {
			inBook, err := h.inPricebook(ctx, line.SKU)
			if err != nil {
				return nil, err
			}
			item.InPricebook = inBook
		}
		doc.LineItems = append(doc.LineItems, item)
	}
	return doc, nil
}

func (h *Handler) inPricebook(ctx context.Context, sku string) (bool, error) {
	material, err := h.erp.FindMaterial(ctx, sku)
	if services.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return material != nil && material.Active, nil
}

// routeDocument resumes a retried job whose document already exists:
// held documents re-route to notify, anything else moves on to match.
func (h *Handler) routeDocument(ctx context.Context, doc *documents.Document, _ string) (pipeline.StageResult, error) {
	if doc.Status == documents.StatusHeld || doc.Status == documents.StatusClosed {
		return holdResult(doc.ID)
	}
	return advanceResult(doc.ID)
}

func advanceResult(documentID int64) (pipeline.StageResult, error) {
	encoded, err := pipeline.EncodePayload(pipeline.DocPayload{DocumentID: documentID})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.Advance(queue.StageMatch, encoded), nil
}

func holdResult(documentID int64) (pipeline.StageResult, error) {
	encoded, err := pipeline.EncodePayload(pipeline.DocPayload{DocumentID: documentID})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.Hold(encoded), nil
}
