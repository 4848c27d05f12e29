package matching

import (
	"time"

	"apflow/internal/holds"
)

// Action is the billing instruction the decision engine settles on.
// Downgrades only ever move toward more human review, never back.
type Action string

const (
	ActionAutoFinalize    Action = "auto_finalize"
	ActionDraftThenAlert  Action = "draft_then_alert"
	ActionHoldForReview   Action = "hold_for_review"
	ActionNonJobStockHold Action = "non_job_stock_hold"
)

func severity(a Action) int {
	switch a {
	case ActionAutoFinalize:
		return 0
	case ActionDraftThenAlert:
		return 1
	case ActionHoldForReview, ActionNonJobStockHold:
		return 2
	}
	return 2
}

// Downgrade returns the more restrictive of the two actions. It never
// re-upgrades: once an invoice needs review, nothing pulls it back out.
func Downgrade(current, proposed Action) Action {
	if severity(proposed) > severity(current) {
		return proposed
	}
	return current
}

// Suggestion is one scored job candidate for an invoice without a PO.
type Suggestion struct {
	JobID        int64     `json:"jobId"`
	JobNumber    string    `json:"jobNumber"`
	CustomerName string    `json:"customerName"`
	CompletedOn  time.Time `json:"completedOn"`
	Total        int64     `json:"total"`
	Score        float64   `json:"score"`
}

// MatchResult captures the engine's decision for one document. Exactly
// one row per document; re-matching after a hold is resolved overwrites
// the previous decision.
type MatchResult struct {
	DocumentID       int64
	POFound          bool
	POID             int64
	JobID            int64
	LeadTechnicianID int64
	TruckLocationID  int64
	VendorID         int64
	VendorKey        string
	Variance         int64
	Action           Action
	Reasons          []holds.Reason
	Suggestions      []Suggestion
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasReason reports whether the result carries the given reason.
func (m *MatchResult) HasReason(reason holds.Reason) bool {
	for _, r := range m.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}
