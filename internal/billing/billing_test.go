package billing_test

import (
	"context"
	"strings"
	"testing"

	"apflow/internal/billing"
	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/services"
	"apflow/internal/storage"
	"apflow/internal/testsupport"
	"apflow/internal/vendors"
)

func pricebookLines(n int) []documents.LineItem {
	items := make([]documents.LineItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, documents.LineItem{
			Position:    i,
			Description: "Copper fitting",
			SKU:         "CU-100",
			Quantity:    2,
			UnitPrice:   500,
			Total:       1000,
			Category:    documents.CategoryPlumbing,
			InPricebook: true,
		})
	}
	return items
}

func TestPlanSixLinesCollapsesToLumpSum(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	doc := &documents.Document{
		InvoiceNumber:  "INV-9",
		TotalBeforeTax: 6000,
		LineItems:      pricebookLines(6),
	}

	lines := billing.Plan(cfg.Billing, doc, "Acme Supply")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want single lump sum", len(lines))
	}
	lump := lines[0]
	if !strings.HasPrefix(lump.Description, "Lump sum invoice: Acme Supply") {
		t.Fatalf("description = %q", lump.Description)
	}
	if lump.Quantity != 60.0 {
		t.Fatalf("quantity = %f, want 60.00 dollars", lump.Quantity)
	}
	if lump.Cost != 100 {
		t.Fatalf("unit cost = %d, want 100 cents", lump.Cost)
	}
	if lump.SKU != cfg.Billing.PlumbingSKU {
		t.Fatalf("sku = %q, want plumbing SKU", lump.SKU)
	}
}

func TestPlanThreeLinesStayItemized(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	doc := &documents.Document{
		InvoiceNumber:  "INV-9",
		TotalBeforeTax: 3000,
		LineItems:      pricebookLines(3),
	}

	lines := billing.Plan(cfg.Billing, doc, "Acme Supply")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(lines))
	}
	if lines[0].SKU != "CU-100" {
		t.Fatalf("sku = %q", lines[0].SKU)
	}
}

func TestPlanOffPricebookForcesLumpSum(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	items := pricebookLines(2)
	items[1].InPricebook = false
	items[1].Category = documents.CategoryHVAC
	doc := &documents.Document{
		InvoiceNumber:  "INV-9",
		TotalBeforeTax: 2000,
		LineItems:      items,
	}

	lines := billing.Plan(cfg.Billing, doc, "Acme Supply")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1", len(lines))
	}
	// One plumbing and one HVAC line: tie falls to plumbing.
	if lines[0].SKU != cfg.Billing.PlumbingSKU {
		t.Fatalf("sku = %q", lines[0].SKU)
	}
}

func TestPlanMajorityHVACPicksHVACSKU(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	items := pricebookLines(1)
	items = append(items,
		documents.LineItem{Category: documents.CategoryHVAC, InPricebook: false},
		documents.LineItem{Category: documents.CategoryHVAC, InPricebook: true},
	)
	doc := &documents.Document{TotalBeforeTax: 1000, LineItems: items}

	lines := billing.Plan(cfg.Billing, doc, "Acme")
	if lines[0].SKU != cfg.Billing.HVACSKU {
		t.Fatalf("sku = %q, want HVAC SKU", lines[0].SKU)
	}
}

type execFixture struct {
	exec  *billing.Executor
	erp   *testsupport.ERPStub
	docs  *documents.Store
	bills *billing.Store
	holds *holds.Store
	db    *storage.DB
	cfg   *config.Config
	ctx   context.Context
}

func newExecFixture(t *testing.T) *execFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	erp := testsupport.NewERPStub()
	bills := billing.NewStore(db)
	holdStore := holds.NewStore(db)
	resolver := vendors.NewResolver(db, logging.NewNop(), cfg.Matching.VendorPrefixLength)

	return &execFixture{
		exec:  billing.NewExecutor(cfg, erp, resolver, bills, holdStore, logging.NewNop()),
		erp:   erp,
		docs:  documents.NewStore(db),
		bills: bills,
		holds: holdStore,
		db:    db,
		cfg:   cfg,
		ctx:   context.Background(),
	}
}

func (f *execFixture) seedVendor(t *testing.T, name string, externalID int64) *vendors.Vendor {
	t.Helper()
	resolver := vendors.NewResolver(f.db, logging.NewNop(), f.cfg.Matching.VendorPrefixLength)
	vendor, err := resolver.CreateVendor(f.ctx, name, externalID)
	if err != nil {
		t.Fatal(err)
	}
	return vendor
}

func TestAutoFinalizeReceivesAdjustsAndFinalizes(t *testing.T) {
	f := newExecFixture(t)
	vendor := f.seedVendor(t, "Acme Supply", 77)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Acme Supply", Total: 11200, PONumber: "PO-12345",
		LineItems: pricebookLines(3),
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, POFound: true, POID: 555, JobID: 500,
		VendorID: vendor.ID, Variance: 200, Action: matching.ActionAutoFinalize,
	}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if outcome.RouteToNotify {
		t.Fatal("auto_finalize advances to write")
	}
	if outcome.Bill == nil || outcome.Bill.Status != billing.BillStatusFinalized {
		t.Fatalf("bill = %+v", outcome.Bill)
	}
	if len(f.erp.ReceivedPOs) != 1 || f.erp.ReceivedPOs[0] != 555 {
		t.Fatalf("received POs = %v", f.erp.ReceivedPOs)
	}
	// No auto-created bill from the receipt, so one was created manually.
	if len(f.erp.CreatedBills) != 1 {
		t.Fatalf("created bills = %d", len(f.erp.CreatedBills))
	}
	if len(f.erp.FinalizedBills) != 1 {
		t.Fatalf("finalized bills = %v", f.erp.FinalizedBills)
	}
	// Variance 200 is inside the threshold, so the bill was trued up.
	if f.erp.Adjustments[f.erp.FinalizedBills[0]] != 11200 {
		t.Fatalf("adjustments = %v", f.erp.Adjustments)
	}
}

func TestAutoFinalizeUsesReceiptBill(t *testing.T) {
	f := newExecFixture(t)
	vendor := f.seedVendor(t, "Acme Supply", 77)
	f.erp.ReceiptBillID = 8001

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Acme Supply", Total: 11000, PONumber: "PO-12345",
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, POFound: true, POID: 555, JobID: 500,
		VendorID: vendor.ID, Variance: 0, Action: matching.ActionAutoFinalize,
	}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.erp.CreatedBills) != 0 {
		t.Fatal("receipt already created the bill; no manual create expected")
	}
	if len(f.erp.FinalizedBills) != 1 || f.erp.FinalizedBills[0] != 8001 {
		t.Fatalf("finalized = %v", f.erp.FinalizedBills)
	}
	// Zero variance needs no adjustment.
	if len(f.erp.Adjustments) != 0 {
		t.Fatalf("adjustments = %v", f.erp.Adjustments)
	}
	if outcome.Bill.ExternalBillID != "8001" {
		t.Fatalf("external id = %s", outcome.Bill.ExternalBillID)
	}
}

func TestNegativeQuantityBecomesHold(t *testing.T) {
	f := newExecFixture(t)
	vendor := f.seedVendor(t, "Acme Supply", 77)
	f.erp.ReceiveErr = services.Wrap(services.ErrNegativeQuantity, "servicetitan", "receive_po",
		"PO 555 rejected negative receipt quantity", nil)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Acme Supply", Total: 11000, PONumber: "PO-12345",
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, POFound: true, POID: 555,
		VendorID: vendor.ID, Action: matching.ActionAutoFinalize,
	}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatalf("negative quantity must not surface as an error: %v", err)
	}
	if !outcome.RouteToNotify {
		t.Fatal("must route to notify")
	}
	if outcome.OpenedHold == nil || outcome.OpenedHold.Reason != holds.ReasonNegativeQuantity {
		t.Fatalf("hold = %+v", outcome.OpenedHold)
	}
	if len(f.erp.FinalizedBills) != 0 {
		t.Fatal("no bill must be finalized")
	}
}

func TestDraftThenAlertLeavesDraft(t *testing.T) {
	f := newExecFixture(t)
	vendor := f.seedVendor(t, "Acme Supply", 77)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Acme Supply", Total: 14000, PONumber: "PO-12345",
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, POFound: true, POID: 555, JobID: 500,
		VendorID: vendor.ID, Variance: 3000, Action: matching.ActionDraftThenAlert,
	}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.RouteToNotify {
		t.Fatal("draft routes to notify")
	}
	if outcome.Bill.Status != billing.BillStatusDraft {
		t.Fatalf("status = %s", outcome.Bill.Status)
	}
	if len(f.erp.ReceivedPOs) != 0 {
		t.Fatal("draft path must not receive the PO")
	}
	if len(f.erp.FinalizedBills) != 0 {
		t.Fatal("draft path must not finalize")
	}
}

func TestBillCarriesTechnicianAndTruckLocation(t *testing.T) {
	f := newExecFixture(t)
	vendor := f.seedVendor(t, "Acme Supply", 77)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Acme Supply", Total: 11200, PONumber: "PO-12345",
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, POFound: true, POID: 555, JobID: 500,
		LeadTechnicianID: 91, TruckLocationID: 4200,
		VendorID: vendor.ID, Action: matching.ActionAutoFinalize,
	}

	if _, err := f.exec.Execute(f.ctx, doc, result); err != nil {
		t.Fatal(err)
	}
	if len(f.erp.CreatedBills) != 1 {
		t.Fatalf("created bills = %d", len(f.erp.CreatedBills))
	}
	req := f.erp.CreatedBills[0]
	if req.TechnicianID != 91 {
		t.Fatalf("technician = %d, want lead technician 91", req.TechnicianID)
	}
	if req.BillToLocationID != 4200 {
		t.Fatalf("bill-to location = %d, want truck location 4200", req.BillToLocationID)
	}
}

func TestStockBillTargetsStockLocation(t *testing.T) {
	f := newExecFixture(t)
	f.cfg.Billing.StockLocationID = 7700
	vendor := f.seedVendor(t, "Acme Supply", 77)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Acme Supply", Total: 5000, ServiceStock: true,
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, VendorID: vendor.ID,
		Action: matching.ActionNonJobStockHold,
	}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Bill == nil || outcome.Bill.Status != billing.BillStatusDraft {
		t.Fatalf("bill = %+v", outcome.Bill)
	}
	if len(f.erp.CreatedBills) != 1 {
		t.Fatalf("created bills = %d", len(f.erp.CreatedBills))
	}
	req := f.erp.CreatedBills[0]
	if req.BillToLocationID != 7700 {
		t.Fatalf("bill-to location = %d, want stock location", req.BillToLocationID)
	}
	if req.JobID != 0 || req.TechnicianID != 0 {
		t.Fatalf("stock bill must not carry job fields: %+v", req)
	}
}

func TestStockBillSkippedWithoutVendor(t *testing.T) {
	f := newExecFixture(t)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{
		Supplier: "Unknown Supply", Total: 5000, ServiceStock: true,
	})
	result := &matching.MatchResult{
		DocumentID: doc.ID, Action: matching.ActionNonJobStockHold,
	}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Bill != nil {
		t.Fatal("no bill without a resolved vendor")
	}
	if !outcome.RouteToNotify {
		t.Fatal("must still route to notify")
	}
	if len(f.erp.CreatedBills) != 0 {
		t.Fatal("no ERP bill expected")
	}
}

func TestHoldForReviewIsANoop(t *testing.T) {
	f := newExecFixture(t)

	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{})
	result := &matching.MatchResult{DocumentID: doc.ID, Action: matching.ActionHoldForReview}

	outcome, err := f.exec.Execute(f.ctx, doc, result)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Bill != nil || !outcome.RouteToNotify {
		t.Fatalf("outcome = %+v", outcome)
	}
	if len(f.erp.CreatedBills)+len(f.erp.ReceivedPOs) != 0 {
		t.Fatal("hold_for_review must not touch the ERP")
	}
}
