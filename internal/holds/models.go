package holds

import "time"

// Reason identifies why a document was pulled out of automatic
// processing. The set is closed; review tooling keys filters and
// alert routing off these exact values.
type Reason string

const (
	ReasonDuplicate            Reason = "DUPLICATE"
	ReasonMissingPO            Reason = "MISSING_PO"
	ReasonVarianceExceeded     Reason = "VARIANCE_EXCEEDED"
	ReasonNegativeQuantity     Reason = "NEGATIVE_QUANTITY"
	ReasonNoTechTruck          Reason = "NO_TECH_TRUCK"
	ReasonUnreadable           Reason = "UNREADABLE"
	ReasonNoVendorMatch        Reason = "NO_VENDOR_MATCH"
	ReasonServiceStock         Reason = "SERVICE_STOCK"
	ReasonMissingInvoiceNumber Reason = "MISSING_INVOICE_NUMBER"
	ReasonMissingSupplier      Reason = "MISSING_SUPPLIER"
	ReasonInvalidTotal         Reason = "INVALID_TOTAL"
	ReasonManualReview         Reason = "MANUAL_REVIEW"
)

// Valid reports whether r is one of the known hold reasons.
func (r Reason) Valid() bool {
	switch r {
	case ReasonDuplicate, ReasonMissingPO, ReasonVarianceExceeded,
		ReasonNegativeQuantity, ReasonNoTechTruck, ReasonUnreadable,
		ReasonNoVendorMatch, ReasonServiceStock, ReasonMissingInvoiceNumber,
		ReasonMissingSupplier, ReasonInvalidTotal, ReasonManualReview:
		return true
	}
	return false
}

type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusResolved Status = "RESOLVED"
)

// Resolution records the reviewer's verdict on an open hold.
type Resolution struct {
	Action        string // "approve", "reject", or "override"
	ResolvedBy    string
	JobID         int64
	VendorID      int64
	AllowVariance bool
	MarkAsStock   bool
	Note          string
}

const (
	ResolutionApprove  = "approve"
	ResolutionReject   = "reject"
	ResolutionOverride = "override"
)

type Hold struct {
	ID               int64
	DocumentID       int64
	Reason           Reason
	Details          string
	Status           Status
	SuggestedActions string
	CreatedAt        time.Time
	ResolvedAt       *time.Time
	ResolvedBy       string
	Resolution       string
	ResolutionNote   string
}

// Filter narrows List queries. Zero values mean "any".
type Filter struct {
	Status     Status
	Reason     Reason
	DocumentID int64
	Limit      int
}
