package servicetitan

import (
	"context"
	"time"
)

// Client is the ERP surface the pipeline consumes. The HTTP
// implementation talks to ServiceTitan; tests substitute a stub.
type Client interface {
	// FindPO looks up a purchase order by its core number (site and
	// line suffixes already stripped). Returns services.ErrNotFound
	// wrapped when the ERP has no such PO.
	FindPO(ctx context.Context, coreNumber string) (*PurchaseOrder, error)

	// FindVendorByName resolves an ERP vendor by display name.
	FindVendorByName(ctx context.Context, name string) (*Vendor, error)

	// FindJobs lists jobs completed in the window, used to score
	// suggestions for invoices without a PO.
	FindJobs(ctx context.Context, from, to time.Time) ([]Job, error)

	// TechniciansByJob returns every technician assigned to a job.
	// Callers prefer the one with a truck inventory location.
	TechniciansByJob(ctx context.Context, jobID int64) ([]Technician, error)

	// ReceivePO posts receipt lines against a PO, attaching the source
	// invoice. Some tenants auto-create a bill from the receipt; its id
	// is returned, or 0 when no bill was created. Surfaces
	// services.ErrNegativeQuantity when the ERP rejects a negative
	// receipt quantity.
	ReceivePO(ctx context.Context, poID int64, invoiceNumber string, pdf []byte, lines []ReceiptLine) (int64, error)

	// CreateBill creates a vendor bill in draft state.
	CreateBill(ctx context.Context, req CreateBillRequest) (*Bill, error)

	// FinalizeBill moves a draft bill to its exported state.
	FinalizeBill(ctx context.Context, billID int64) error

	// AdjustBillAmount rewrites the bill total, in cents, to match the
	// invoice. reason ends up on the adjustment memo.
	AdjustBillAmount(ctx context.Context, billID int64, newTotal int64, reason string) error

	// FindMaterial checks whether a SKU exists in the pricebook.
	// Returns services.ErrNotFound wrapped for unknown SKUs.
	FindMaterial(ctx context.Context, sku string) (*Material, error)
}
