package documents

import (
	"regexp"
	"strings"
	"time"
)

// Status tracks a document's coarse lifecycle. The pipeline stages own the
// fine-grained progression; this is the bookkeeping other surfaces query.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusBilled     Status = "billed"
	StatusHeld       Status = "held"
	StatusClosed     Status = "closed"
)

// Category buckets a line item by trade for SKU selection.
type Category string

const (
	CategoryPlumbing Category = "plumbing"
	CategoryHVAC     Category = "hvac"
	CategoryOther    Category = "other"
)

// Document is one parsed supplier invoice. Monetary fields are integer
// minor-currency units (cents). Immutable after creation except Status.
type Document struct {
	ID                     int64
	CorrelationID          string
	SupplierNameRaw        string
	SupplierNameNormalized string
	InvoiceNumber          string
	InvoiceDate            time.Time
	TotalBeforeTax         int64
	GST                    int64
	PST                    int64
	HST                    int64
	Total                  int64
	PONumberRaw            string
	PONumberCore           string
	IsServiceStock         bool
	SourcePDFPath          string
	Status                 Status
	CreatedAt              time.Time
	UpdatedAt              time.Time
	LineItems              []LineItem
}

// TaxTotal returns the sum of the named tax components.
func (d *Document) TaxTotal() int64 {
	return d.GST + d.PST + d.HST
}

// LineItem is one invoice line, owned exclusively by a Document.
type LineItem struct {
	ID          int64
	DocumentID  int64
	Position    int
	Description string
	SKU         string
	Quantity    float64
	UnitPrice   int64
	Total       int64
	Category    Category
	InPricebook bool
}

var poSuffixPattern = regexp.MustCompile(`-\d{1,2}$`)

// POCore strips the trailing -NN revision suffix from a raw PO number.
// "PO-12345-02" and "PO-12345" both resolve to "PO-12345".
func POCore(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	return poSuffixPattern.ReplaceAllString(trimmed, "")
}

var stockPattern = regexp.MustCompile(`(?i)\b(stock|truck)\b`)

// IsStockReference reports whether a PO field references service-stock
// replenishment instead of a purchase order ("STOCK", "TRUCK 12", ...).
func IsStockReference(poRaw string) bool {
	trimmed := strings.TrimSpace(poRaw)
	if trimmed == "" {
		return false
	}
	return stockPattern.MatchString(trimmed)
}

var (
	plumbingKeywords = []string{
		"pipe", "fitting", "valve", "coupling", "pvc", "abs", "copper",
		"drain", "faucet", "toilet", "flange", "solder", "trap", "tee",
		"elbow", "nipple", "gasket", "water heater",
	}
	hvacKeywords = []string{
		"duct", "furnace", "filter", "refrigerant", "condenser", "coil",
		"thermostat", "compressor", "damper", "plenum", "vent", "blower",
		"capacitor", "heat pump", "air handler",
	}
)

// ClassifyLine derives a trade category from the line description by
// keyword match. Plumbing wins ties by checking first.
func ClassifyLine(description string) Category {
	lowered := strings.ToLower(description)
	for _, kw := range plumbingKeywords {
		if strings.Contains(lowered, kw) {
			return CategoryPlumbing
		}
	}
	for _, kw := range hvacKeywords {
		if strings.Contains(lowered, kw) {
			return CategoryHVAC
		}
	}
	return CategoryOther
}
