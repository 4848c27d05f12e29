package extraction

import (
	"context"
	"time"
)

// Invoice is the structured result of analyzing one supplier invoice PDF.
// Monetary fields are integer minor-currency units (cents). Fields the
// analyzer could not read are left at their zero value; Confidence reflects
// how much of the document was read reliably.
type Invoice struct {
	SupplierName   string
	InvoiceNumber  string
	InvoiceDate    time.Time
	PONumber       string
	TotalBeforeTax int64
	GST            int64
	PST            int64
	HST            int64
	Total          int64
	LineItems      []Line
	Confidence     float64
}

// Line is one extracted invoice line.
type Line struct {
	Description string
	SKU         string
	Quantity    float64
	UnitPrice   int64
	Total       int64
}

// Client analyzes invoice PDFs into structured data. supplierHint, when
// known from the intake channel, helps the analyzer disambiguate supplier
// names; implementations may ignore it.
type Client interface {
	AnalyzeInvoice(ctx context.Context, pdf []byte, supplierHint string) (*Invoice, error)
}
