package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/services"
	"apflow/internal/servicetitan"
	"apflow/internal/vendors"
)

// Outcome is what the engine hands back to the match stage: the
// persisted decision, the holds it opened, and whether the invoice
// routes to notify instead of billing.
type Outcome struct {
	Result        *MatchResult
	OpenedHolds   []*holds.Hold
	RouteToNotify bool
}

// Engine decides how each parsed invoice gets billed. Business
// exceptions become holds on the outcome; returned errors are
// infrastructure failures the queue retries.
type Engine struct {
	cfg      config.Matching
	erp      servicetitan.Client
	resolver *vendors.Resolver
	results  *Store
	holds    *holds.Store
	logger   *slog.Logger
}

func NewEngine(cfg config.Matching, erp servicetitan.Client, resolver *vendors.Resolver, results *Store, holdStore *holds.Store, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		erp:      erp,
		resolver: resolver,
		results:  results,
		holds:    holdStore,
		logger:   logging.NewComponentLogger(logger, "match-engine"),
	}
}

// Match runs the decision state machine over one document. A result a
// reviewer already decided is honored as-is; re-deciding would discard
// the manual assignment and hold the invoice all over again.
func (e *Engine) Match(ctx context.Context, doc *documents.Document) (*Outcome, error) {
	existing, err := e.results.GetByDocument(ctx, doc.ID)
	if err != nil && !services.IsNotFound(err) {
		return nil, err
	}
	if existing != nil && existing.HasReason(holds.ReasonManualReview) {
		e.logger.InfoContext(ctx, "honoring reviewer assignment",
			logging.Int64(logging.FieldDocumentID, doc.ID),
			logging.Int64("job_id", existing.JobID),
			logging.String("action", string(existing.Action)))
		return &Outcome{Result: existing}, nil
	}

	if doc.IsServiceStock {
		return e.matchServiceStock(ctx, doc)
	}
	if doc.PONumberCore == "" {
		return e.matchWithoutPO(ctx, doc)
	}
	return e.matchAgainstPO(ctx, doc)
}

// matchServiceStock handles invoices flagged as truck-stock
// replenishment. These always stop for a human to pick the stock
// location; there is no PO to reconcile against.
func (e *Engine) matchServiceStock(ctx context.Context, doc *documents.Document) (*Outcome, error) {
	vendorID, vendorKey, resolved, err := e.resolveVendor(ctx, doc)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		DocumentID: doc.ID,
		VendorID:   vendorID,
		VendorKey:  vendorKey,
		Action:     ActionNonJobStockHold,
		Reasons:    []holds.Reason{holds.ReasonServiceStock},
	}
	if !resolved {
		result.Reasons = append(result.Reasons, holds.ReasonNoVendorMatch)
	}
	if err := e.results.Upsert(ctx, result); err != nil {
		return nil, err
	}

	hold, err := e.holds.Create(ctx, doc.ID, holds.ReasonServiceStock,
		"Invoice marked as service stock", "")
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "service stock invoice held",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("vendor_key", vendorKey))
	return &Outcome{Result: result, OpenedHolds: []*holds.Hold{hold}, RouteToNotify: true}, nil
}

// matchWithoutPO scores nearby jobs as suggestions and holds the
// invoice for a reviewer to assign one.
func (e *Engine) matchWithoutPO(ctx context.Context, doc *documents.Document) (*Outcome, error) {
	vendorID, vendorKey, _, err := e.resolveVendor(ctx, doc)
	if err != nil {
		return nil, err
	}

	from := doc.InvoiceDate.AddDate(0, 0, -e.cfg.SuggestDaysBefore)
	to := doc.InvoiceDate.AddDate(0, 0, e.cfg.SuggestDaysAfter)
	jobs, err := e.erp.FindJobs(ctx, from, to)
	if err != nil {
		return nil, err
	}
	suggestions := ScoreJobs(doc, jobs)

	result := &MatchResult{
		DocumentID:  doc.ID,
		VendorID:    vendorID,
		VendorKey:   vendorKey,
		Action:      ActionHoldForReview,
		Reasons:     []holds.Reason{holds.ReasonMissingPO},
		Suggestions: suggestions,
	}
	if err := e.results.Upsert(ctx, result); err != nil {
		return nil, err
	}

	hold, err := e.holds.Create(ctx, doc.ID, holds.ReasonMissingPO,
		"Invoice has no PO number", suggestionActions(suggestions))
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "invoice held without PO",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.Int("suggestions", len(suggestions)))
	return &Outcome{Result: result, OpenedHolds: []*holds.Hold{hold}, RouteToNotify: true}, nil
}

func (e *Engine) matchAgainstPO(ctx context.Context, doc *documents.Document) (*Outcome, error) {
	po, err := e.erp.FindPO(ctx, doc.PONumberCore)
	if errors.Is(err, services.ErrNotFound) {
		return e.holdMissingPO(ctx, doc)
	}
	if err != nil {
		return nil, err
	}

	vendorID, vendorKey, resolved, err := e.resolveVendor(ctx, doc)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		DocumentID: doc.ID,
		POFound:    true,
		POID:       po.ID,
		JobID:      po.JobID,
		VendorID:   vendorID,
		VendorKey:  vendorKey,
		Variance:   doc.Total - po.Total,
		Action:     ActionAutoFinalize,
	}

	if po.JobID != 0 {
		techs, err := e.erp.TechniciansByJob(ctx, po.JobID)
		if err != nil {
			return nil, err
		}
		lead := pickTechnician(techs)
		if lead != nil {
			result.LeadTechnicianID = lead.ID
			result.TruckLocationID = lead.TruckLocationID
		}
		if lead == nil || lead.TruckLocationID == 0 {
			// No tech or truck on a linked job is informational only:
			// job-level billing can proceed without one.
			result.Reasons = append(result.Reasons, holds.ReasonNoTechTruck)
		}
	}

	var opened []*holds.Hold
	threshold := e.cfg.VarianceThresholdCents
	if abs64(result.Variance) > threshold {
		result.Action = Downgrade(result.Action, ActionDraftThenAlert)
		result.Reasons = append(result.Reasons, holds.ReasonVarianceExceeded)
		hold, err := e.holds.Create(ctx, doc.ID, holds.ReasonVarianceExceeded,
			fmt.Sprintf("Invoice total %d differs from PO total %d by %d cents",
				doc.Total, po.Total, result.Variance), "")
		if err != nil {
			return nil, err
		}
		opened = append(opened, hold)
	}
	if po.JobID == 0 {
		result.Action = Downgrade(result.Action, ActionHoldForReview)
		result.Reasons = append(result.Reasons, holds.ReasonNoTechTruck)
		hold, err := e.holds.Create(ctx, doc.ID, holds.ReasonNoTechTruck,
			fmt.Sprintf("PO %s has no linked job", po.Number), "")
		if err != nil {
			return nil, err
		}
		opened = append(opened, hold)
	}
	if !resolved {
		result.Action = Downgrade(result.Action, ActionHoldForReview)
		result.Reasons = append(result.Reasons, holds.ReasonNoVendorMatch)
		hold, err := e.holds.Create(ctx, doc.ID, holds.ReasonNoVendorMatch,
			fmt.Sprintf("Supplier %q did not resolve to a known vendor", doc.SupplierNameRaw), "")
		if err != nil {
			return nil, err
		}
		opened = append(opened, hold)
	}

	if err := e.results.Upsert(ctx, result); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "matched against PO",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("po", po.Number),
		logging.Int64("variance", result.Variance),
		logging.String("action", string(result.Action)))
	return &Outcome{
		Result:        result,
		OpenedHolds:   opened,
		RouteToNotify: result.Action == ActionHoldForReview,
	}, nil
}

func (e *Engine) holdMissingPO(ctx context.Context, doc *documents.Document) (*Outcome, error) {
	vendorID, vendorKey, _, err := e.resolveVendor(ctx, doc)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		DocumentID: doc.ID,
		VendorID:   vendorID,
		VendorKey:  vendorKey,
		Action:     ActionHoldForReview,
		Reasons:    []holds.Reason{holds.ReasonMissingPO},
	}
	if err := e.results.Upsert(ctx, result); err != nil {
		return nil, err
	}

	hold, err := e.holds.Create(ctx, doc.ID, holds.ReasonMissingPO,
		fmt.Sprintf("PO %s not found in ERP", doc.PONumberCore), "")
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result, OpenedHolds: []*holds.Hold{hold}, RouteToNotify: true}, nil
}

// resolveVendor tries the local synonym table first, then falls back to
// an ERP name lookup. An ERP hit seeds a local vendor record so the
// next invoice from this supplier resolves without a network call.
func (e *Engine) resolveVendor(ctx context.Context, doc *documents.Document) (vendorID int64, vendorKey string, resolved bool, err error) {
	resolution, err := e.resolver.Resolve(ctx, doc.SupplierNameRaw)
	if err != nil {
		return 0, "", false, err
	}
	if resolution.Resolved() {
		return resolution.Vendor.ID, resolution.Key, true, nil
	}

	erpVendor, err := e.erp.FindVendorByName(ctx, doc.SupplierNameRaw)
	if errors.Is(err, services.ErrNotFound) {
		return 0, resolution.Key, false, nil
	}
	if err != nil {
		return 0, "", false, err
	}

	created, err := e.resolver.CreateVendor(ctx, erpVendor.Name, erpVendor.ID)
	if err != nil {
		return 0, "", false, err
	}
	e.logger.InfoContext(ctx, "vendor seeded from ERP",
		logging.Int64(logging.FieldDocumentID, doc.ID),
		logging.String("vendor", erpVendor.Name))
	return created.ID, created.NormalizedName, true, nil
}

// pickTechnician prefers the technician with a truck assignment, else
// the first assigned.
func pickTechnician(techs []servicetitan.Technician) *servicetitan.Technician {
	for i := range techs {
		if techs[i].TruckLocationID != 0 {
			return &techs[i]
		}
	}
	if len(techs) > 0 {
		return &techs[0]
	}
	return nil
}

func suggestionActions(suggestions []Suggestion) string {
	if len(suggestions) == 0 {
		return ""
	}
	out := "["
	for i, s := range suggestions {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", fmt.Sprintf("Assign job %s (%s, %s, score %.2f)",
			s.JobNumber, s.CustomerName, dollars(s.Total), s.Score))
	}
	return out + "]"
}

func dollars(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, abs64(cents)%100)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
