package servicetitan

import "time"

// PurchaseOrder is the ERP's view of a PO. Monetary values are cents.
type PurchaseOrder struct {
	ID       int64  `json:"id"`
	Number   string `json:"number"`
	JobID    int64  `json:"jobId"`
	VendorID int64  `json:"vendorId"`
	Total    int64  `json:"total"`
	Status   string `json:"status"`
}

// Job is a service job candidates are matched against.
type Job struct {
	ID           int64     `json:"id"`
	Number       string    `json:"number"`
	CustomerName string    `json:"customerName"`
	CompletedOn  time.Time `json:"completedOn"`
	Total        int64     `json:"total"`
}

// Technician carries the lead tech and their truck inventory location.
type Technician struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	TruckLocationID int64  `json:"truckLocationId"`
}

// Vendor is an ERP vendor record.
type Vendor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Material is a pricebook entry looked up by SKU.
type Material struct {
	ID          int64  `json:"id"`
	SKU         string `json:"code"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// ReceiptLine is one received line against a PO.
type ReceiptLine struct {
	SKU       string  `json:"sku"`
	Quantity  float64 `json:"quantity"`
	UnitPrice int64   `json:"unitPrice"`
	Total     int64   `json:"total"`
}

// BillLine is one line on a created bill.
type BillLine struct {
	SKU         string  `json:"skuCode"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Cost        int64   `json:"cost"`
}

// CreateBillRequest creates a vendor bill, optionally tied to a PO.
// Job bills carry the lead technician and their truck location so the
// cost lands on the right inventory bucket; stock bills carry the
// warehouse location instead.
type CreateBillRequest struct {
	VendorID         int64      `json:"vendorId"`
	POID             int64      `json:"purchaseOrderId,omitempty"`
	JobID            int64      `json:"jobId,omitempty"`
	TechnicianID     int64      `json:"technicianId,omitempty"`
	BillToLocationID int64      `json:"billToLocationId,omitempty"`
	InvoiceNumber    string     `json:"referenceNumber"`
	InvoiceDate      time.Time  `json:"invoiceDate"`
	Total            int64      `json:"total"`
	Lines            []BillLine `json:"items"`
}

// Bill is the ERP bill record returned on creation.
type Bill struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}
