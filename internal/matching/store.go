package matching

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"apflow/internal/holds"
	"apflow/internal/services"
	"apflow/internal/storage"
)

// Store persists match results, one row per document.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Upsert writes the result for its document, replacing any previous
// decision. Re-entry at match after a hold resolution lands here.
func (s *Store) Upsert(ctx context.Context, result *MatchResult) error {
	if result == nil {
		return errors.New("match result is nil")
	}
	reasons, err := json.Marshal(result.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons: %w", err)
	}
	suggestions, err := json.Marshal(result.Suggestions)
	if err != nil {
		return fmt.Errorf("encode suggestions: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO match_results (
            document_id, po_found, po_id, job_id, lead_technician_id,
            truck_location_id, vendor_id, vendor_key, variance, action,
            reasons, suggestions, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (document_id) DO UPDATE SET
            po_found = excluded.po_found,
            po_id = excluded.po_id,
            job_id = excluded.job_id,
            lead_technician_id = excluded.lead_technician_id,
            truck_location_id = excluded.truck_location_id,
            vendor_id = excluded.vendor_id,
            vendor_key = excluded.vendor_key,
            variance = excluded.variance,
            action = excluded.action,
            reasons = excluded.reasons,
            suggestions = excluded.suggestions,
            updated_at = excluded.updated_at`,
		result.DocumentID, storage.BoolToInt(result.POFound),
		nullableID(result.POID), nullableID(result.JobID),
		nullableID(result.LeadTechnicianID), nullableID(result.TruckLocationID),
		nullableID(result.VendorID), storage.NullableString(result.VendorKey),
		result.Variance, string(result.Action),
		string(reasons), string(suggestions), now, now)
	if err != nil {
		return fmt.Errorf("upsert match result: %w", err)
	}
	return nil
}

// GetByDocument fetches the decision for a document.
func (s *Store) GetByDocument(ctx context.Context, documentID int64) (*MatchResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document_id, po_found, po_id, job_id, lead_technician_id,
            truck_location_id, vendor_id, vendor_key, variance, action,
            reasons, suggestions, created_at, updated_at
         FROM match_results WHERE document_id = ?`, documentID)

	var (
		result      MatchResult
		poFound     int
		poID        sql.NullInt64
		jobID       sql.NullInt64
		leadTechID  sql.NullInt64
		truckLocID  sql.NullInt64
		vendorID    sql.NullInt64
		vendorKey   sql.NullString
		reasons     sql.NullString
		suggestions sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	err := row.Scan(&result.DocumentID, &poFound, &poID, &jobID, &leadTechID,
		&truckLocID, &vendorID, &vendorKey, &result.Variance, &result.Action,
		&reasons, &suggestions, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "matching", "get",
			fmt.Sprintf("no match result for document %d", documentID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("scan match result: %w", err)
	}

	result.POFound = poFound != 0
	result.POID = poID.Int64
	result.JobID = jobID.Int64
	result.LeadTechnicianID = leadTechID.Int64
	result.TruckLocationID = truckLocID.Int64
	result.VendorID = vendorID.Int64
	result.VendorKey = vendorKey.String
	if reasons.Valid && reasons.String != "" {
		if err := json.Unmarshal([]byte(reasons.String), &result.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons: %w", err)
		}
	}
	if suggestions.Valid && suggestions.String != "" {
		if err := json.Unmarshal([]byte(suggestions.String), &result.Suggestions); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		result.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		result.UpdatedAt = t
	}
	return &result, nil
}

// ApplyResolution rewrites the assignment fields after a reviewer
// approves a hold. allowVariance decides whether billing may finalize
// automatically or must stop at a draft; markAsStock routes the invoice
// to a stock bill instead. The MANUAL_REVIEW reason marks the result as
// reviewer-decided, which stops the match stage from re-deciding it.
func (s *Store) ApplyResolution(ctx context.Context, documentID, jobID, vendorID int64, allowVariance, markAsStock bool) error {
	result, err := s.GetByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if jobID != 0 {
		result.JobID = jobID
	}
	if vendorID != 0 {
		result.VendorID = vendorID
	}
	switch {
	case markAsStock:
		result.Action = ActionNonJobStockHold
	case allowVariance:
		result.Action = ActionAutoFinalize
	default:
		result.Action = ActionDraftThenAlert
	}
	if !result.HasReason(holds.ReasonManualReview) {
		result.Reasons = append(result.Reasons, holds.ReasonManualReview)
	}
	return s.Upsert(ctx, result)
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
