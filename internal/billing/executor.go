package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/services"
	"apflow/internal/servicetitan"
	"apflow/internal/vendors"
)

// Outcome reports what billing did with an invoice and where it goes
// next. A nil Bill with RouteToNotify set means billing deliberately
// stood down (held invoice, unresolvable stock vendor).
type Outcome struct {
	Bill          *Bill
	OpenedHold    *holds.Hold
	RouteToNotify bool
}

// Executor carries out the action the match engine decided on.
type Executor struct {
	cfg      *config.Config
	erp      servicetitan.Client
	resolver *vendors.Resolver
	bills    *Store
	holds    *holds.Store
	logger   *slog.Logger
}

func NewExecutor(cfg *config.Config, erp servicetitan.Client, resolver *vendors.Resolver, bills *Store, holdStore *holds.Store, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		erp:      erp,
		resolver: resolver,
		bills:    bills,
		holds:    holdStore,
		logger:   logging.NewComponentLogger(logger, "billing"),
	}
}

// Execute performs the ERP side effects for one matched invoice.
func (x *Executor) Execute(ctx context.Context, doc *documents.Document, result *matching.MatchResult) (*Outcome, error) {
	switch result.Action {
	case matching.ActionAutoFinalize:
		return x.autoFinalize(ctx, doc, result)
	case matching.ActionDraftThenAlert:
		return x.draftThenAlert(ctx, doc, result)
	case matching.ActionNonJobStockHold:
		return x.stockBill(ctx, doc, result)
	case matching.ActionHoldForReview:
		return &Outcome{RouteToNotify: true}, nil
	}
	return nil, services.Wrap(services.ErrValidation, "billing", "execute",
		fmt.Sprintf("unknown match action %q", result.Action), nil)
}

// autoFinalize receives the PO when there is one, ensures a bill
// exists, trues up small variances, and finalizes. Reviewer-assigned
// invoices can arrive here without a PO; those bill straight to the job.
func (x *Executor) autoFinalize(ctx context.Context, doc *documents.Document, result *matching.MatchResult) (*Outcome, error) {
	var billID int64
	if result.POID != 0 {
		pdf := x.readPDF(ctx, doc)

		received, err := x.erp.ReceivePO(ctx, result.POID, doc.InvoiceNumber, pdf, receiptLines(doc))
		if errors.Is(err, services.ErrNegativeQuantity) {
			// The ERP refusing a negative receipt quantity is a data
			// problem on the invoice, not an outage; a human untangles it.
			hold, holdErr := x.holds.Create(ctx, doc.ID, holds.ReasonNegativeQuantity,
				fmt.Sprintf("ERP rejected receipt for PO %d: negative quantity", result.POID), "")
			if holdErr != nil {
				return nil, holdErr
			}
			x.logger.WarnContext(ctx, "receipt rejected for negative quantity",
				logging.Int64(logging.FieldDocumentID, doc.ID),
				logging.Int64("po_id", result.POID))
			return &Outcome{OpenedHold: hold, RouteToNotify: true}, nil
		}
		if err != nil {
			return nil, err
		}
		billID = received
	}

	vendorName, externalVendorID, err := x.vendorIdentity(ctx, doc, result)
	if err != nil {
		return nil, err
	}

	if billID == 0 {
		created, err := x.erp.CreateBill(ctx, servicetitan.CreateBillRequest{
			VendorID:         externalVendorID,
			POID:             result.POID,
			JobID:            result.JobID,
			TechnicianID:     result.LeadTechnicianID,
			BillToLocationID: result.TruckLocationID,
			InvoiceNumber:    doc.InvoiceNumber,
			InvoiceDate:      doc.InvoiceDate,
			Total:            doc.Total,
			Lines:            Plan(x.cfg.Billing, doc, vendorName),
		})
		if err != nil {
			return nil, err
		}
		billID = created.ID
	}

	if v := result.Variance; v != 0 && abs64(v) <= x.cfg.Matching.VarianceThresholdCents {
		if err := x.erp.AdjustBillAmount(ctx, billID, doc.Total,
			fmt.Sprintf("Trued up to invoice %s", doc.InvoiceNumber)); err != nil {
			return nil, err
		}
	}
	if err := x.erp.FinalizeBill(ctx, billID); err != nil {
		return nil, err
	}

	bill := &Bill{
		DocumentID:     doc.ID,
		VendorID:       result.VendorID,
		InvoiceNumber:  doc.InvoiceNumber,
		ExternalBillID: fmt.Sprintf("%d", billID),
		Status:         BillStatusFinalized,
	}
	if err := x.bills.Create(ctx, bill); err != nil {
		return nil, err
	}

	x.logger.InfoContext(ctx, "bill finalized",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.Int64("erp_bill_id", billID),
		logging.Int64("variance", result.Variance))
	return &Outcome{Bill: bill}, nil
}

// draftThenAlert creates the bill but leaves it unfinalized so the
// variance alert reaches a human before money moves.
func (x *Executor) draftThenAlert(ctx context.Context, doc *documents.Document, result *matching.MatchResult) (*Outcome, error) {
	vendorName, externalVendorID, err := x.vendorIdentity(ctx, doc, result)
	if err != nil {
		return nil, err
	}

	created, err := x.erp.CreateBill(ctx, servicetitan.CreateBillRequest{
		VendorID:         externalVendorID,
		POID:             result.POID,
		JobID:            result.JobID,
		TechnicianID:     result.LeadTechnicianID,
		BillToLocationID: result.TruckLocationID,
		InvoiceNumber:    doc.InvoiceNumber,
		InvoiceDate:      doc.InvoiceDate,
		Total:            doc.Total,
		Lines:            Plan(x.cfg.Billing, doc, vendorName),
	})
	if err != nil {
		return nil, err
	}

	bill := &Bill{
		DocumentID:     doc.ID,
		VendorID:       result.VendorID,
		InvoiceNumber:  doc.InvoiceNumber,
		ExternalBillID: fmt.Sprintf("%d", created.ID),
		Status:         BillStatusDraft,
	}
	if err := x.bills.Create(ctx, bill); err != nil {
		return nil, err
	}

	x.logger.InfoContext(ctx, "draft bill created for variance review",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.Int64("erp_bill_id", created.ID))
	return &Outcome{Bill: bill, RouteToNotify: true}, nil
}

// stockBill bills service-stock invoices against the configured stock
// location, and only when the vendor resolved; otherwise the hold alone
// carries the invoice to review.
func (x *Executor) stockBill(ctx context.Context, doc *documents.Document, result *matching.MatchResult) (*Outcome, error) {
	if result.VendorID == 0 {
		return &Outcome{RouteToNotify: true}, nil
	}

	vendorName, externalVendorID, err := x.vendorIdentity(ctx, doc, result)
	if err != nil {
		return nil, err
	}

	created, err := x.erp.CreateBill(ctx, servicetitan.CreateBillRequest{
		VendorID:         externalVendorID,
		BillToLocationID: x.cfg.Billing.StockLocationID,
		InvoiceNumber:    doc.InvoiceNumber,
		InvoiceDate:      doc.InvoiceDate,
		Total:            doc.Total,
		Lines:            Plan(x.cfg.Billing, doc, vendorName),
	})
	if err != nil {
		return nil, err
	}

	bill := &Bill{
		DocumentID:     doc.ID,
		VendorID:       result.VendorID,
		InvoiceNumber:  doc.InvoiceNumber,
		ExternalBillID: fmt.Sprintf("%d", created.ID),
		Status:         BillStatusDraft,
	}
	if err := x.bills.Create(ctx, bill); err != nil {
		return nil, err
	}

	x.logger.InfoContext(ctx, "stock bill drafted",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.Int64("stock_location", x.cfg.Billing.StockLocationID))
	return &Outcome{Bill: bill, RouteToNotify: true}, nil
}

func (x *Executor) vendorIdentity(ctx context.Context, doc *documents.Document, result *matching.MatchResult) (name string, externalID int64, err error) {
	if result.VendorID == 0 {
		return doc.SupplierNameRaw, 0, nil
	}
	vendor, err := x.resolver.GetByID(ctx, result.VendorID)
	if err != nil {
		return "", 0, err
	}
	return vendor.Name, vendor.ExternalID, nil
}

func (x *Executor) readPDF(ctx context.Context, doc *documents.Document) []byte {
	if doc.SourcePDFPath == "" {
		return nil
	}
	pdf, err := os.ReadFile(doc.SourcePDFPath)
	if err != nil {
		// The receipt still posts without an attachment.
		x.logger.WarnContext(ctx, "source PDF unreadable",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.Error(err))
		return nil
	}
	return pdf
}

func receiptLines(doc *documents.Document) []servicetitan.ReceiptLine {
	lines := make([]servicetitan.ReceiptLine, 0, len(doc.LineItems))
	for _, item := range doc.LineItems {
		lines = append(lines, servicetitan.ReceiptLine{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return lines
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
