package holds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"apflow/internal/services"
	"apflow/internal/storage"
)

// ErrAlreadyResolved is returned when a resolution targets a hold that
// is no longer open. Resolution happens at most once per hold.
var ErrAlreadyResolved = errors.New("hold already resolved")

// Store manages hold persistence and the single-shot resolution rule.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Create opens a hold for a document. If the document already has an
// open hold with the same reason, that hold is returned instead of a
// duplicate being inserted; re-running a stage after a transient crash
// must not pile up identical holds.
func (s *Store) Create(ctx context.Context, documentID int64, reason Reason, details, suggestedActions string) (*Hold, error) {
	if !reason.Valid() {
		return nil, services.Wrap(services.ErrValidation, "holds", "create",
			fmt.Sprintf("unknown hold reason %q", reason), nil)
	}

	existing, err := s.findOpen(ctx, documentID, reason)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO holds (document_id, reason, details, status, suggested_actions, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		documentID, string(reason), storage.NullableString(details),
		string(StatusOpen), storage.NullableString(suggestedActions),
		now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert hold: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("hold insert id: %w", err)
	}
	return &Hold{
		ID:               id,
		DocumentID:       documentID,
		Reason:           reason,
		Details:          details,
		Status:           StatusOpen,
		SuggestedActions: suggestedActions,
		CreatedAt:        now,
	}, nil
}

// GetByID fetches a single hold.
func (s *Store) GetByID(ctx context.Context, id int64) (*Hold, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE id = ?`, id)
	hold, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "holds", "get",
			fmt.Sprintf("hold %d not found", id), nil)
	}
	return hold, err
}

// List returns holds matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Hold, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Reason != "" {
		clauses = append(clauses, "reason = ?")
		args = append(args, string(filter.Reason))
	}
	if filter.DocumentID != 0 {
		clauses = append(clauses, "document_id = ?")
		args = append(args, filter.DocumentID)
	}

	query := `SELECT ` + holdColumns + ` FROM holds`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Hold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, hold)
	}
	return result, rows.Err()
}

// CountOpen returns the number of open holds grouped by reason.
func (s *Store) CountOpen(ctx context.Context) (map[Reason]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, COUNT(*) FROM holds WHERE status = ? GROUP BY reason`,
		string(StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("count open holds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Reason]int)
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		counts[Reason(reason)] = count
	}
	return counts, rows.Err()
}

// Resolve closes an open hold exactly once. A second resolution of the
// same hold returns ErrAlreadyResolved; resolvedAt is never rewritten.
func (s *Store) Resolve(ctx context.Context, id int64, resolution Resolution) (*Hold, error) {
	switch resolution.Action {
	case ResolutionApprove, ResolutionReject, ResolutionOverride:
	default:
		return nil, services.Wrap(services.ErrValidation, "holds", "resolve",
			fmt.Sprintf("unknown resolution action %q", resolution.Action), nil)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE holds
         SET status = ?, resolved_at = ?, resolved_by = ?, resolution = ?, resolution_note = ?
         WHERE id = ? AND status = ?`,
		string(StatusResolved), now.Format(time.RFC3339Nano),
		storage.NullableString(resolution.ResolvedBy),
		resolution.Action, storage.NullableString(resolution.Note),
		id, string(StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("resolve hold: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve hold rows: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyResolved
	}

	if err := s.audit(ctx, id, resolution); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *Store) findOpen(ctx context.Context, documentID int64, reason Reason) (*Hold, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM holds
         WHERE document_id = ? AND reason = ? AND status = ?
         ORDER BY id LIMIT 1`,
		documentID, string(reason), string(StatusOpen))
	hold, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return hold, err
}

func (s *Store) audit(ctx context.Context, holdID int64, resolution Resolution) error {
	payload := fmt.Sprintf(`{"action":%q,"job_id":%d,"vendor_id":%d,"allow_variance":%t,"mark_as_stock":%t,"note":%q}`,
		resolution.Action, resolution.JobID, resolution.VendorID,
		resolution.AllowVariance, resolution.MarkAsStock, resolution.Note)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, entity, entity_id, actor, payload, created_at)
         VALUES ('hold_resolved', 'hold', ?, ?, ?, ?)`,
		holdID, storage.NullableString(resolution.ResolvedBy), payload,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("audit hold resolution: %w", err)
	}
	return nil
}

const holdColumns = `id, document_id, reason, details, status, suggested_actions,
    created_at, resolved_at, resolved_by, resolution, resolution_note`

func scanHold(scanner interface{ Scan(dest ...any) error }) (*Hold, error) {
	var (
		hold       Hold
		details    sql.NullString
		suggested  sql.NullString
		createdRaw string
		resolvedAt sql.NullString
		resolvedBy sql.NullString
		resolution sql.NullString
		note       sql.NullString
	)
	err := scanner.Scan(&hold.ID, &hold.DocumentID, &hold.Reason, &details,
		&hold.Status, &suggested, &createdRaw, &resolvedAt, &resolvedBy, &resolution, &note)
	if err != nil {
		return nil, err
	}
	hold.Details = details.String
	hold.SuggestedActions = suggested.String
	hold.ResolvedBy = resolvedBy.String
	hold.Resolution = resolution.String
	hold.ResolutionNote = note.String
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		hold.CreatedAt = t
	}
	if resolvedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, resolvedAt.String); err == nil {
			hold.ResolvedAt = &t
		}
	}
	return &hold, nil
}
