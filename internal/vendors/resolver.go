package vendors

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"apflow/internal/logging"
	"apflow/internal/storage"
)

// Vendor is a canonical supplier record.
type Vendor struct {
	ID             int64
	Name           string
	NormalizedName string
	ExternalID     int64
	CreatedAt      time.Time
}

// Resolution is the outcome of resolving a raw supplier name.
type Resolution struct {
	// Key is the canonical vendor key: the vendor's normalized name when
	// resolved, or the normalized input when not.
	Key string
	// Vendor is nil when the name could not be resolved; callers treat that
	// as "vendor not found" for matching purposes.
	Vendor *Vendor
	// AutoBound reports that this resolution created a new synonym row.
	AutoBound bool
}

// Resolved reports whether a canonical vendor was found.
func (r Resolution) Resolved() bool {
	return r.Vendor != nil
}

// Resolver normalizes raw supplier names to canonical vendors, maintaining
// a self-healing synonym table. Auto-binds happen only when exactly one
// prefix candidate exists, and every auto-bind is written to the audit log
// because the heuristic can false-positive on near-identical names.
type Resolver struct {
	db           *storage.DB
	logger       *slog.Logger
	prefixLength int
}

// NewResolver constructs a vendor resolver.
func NewResolver(db *storage.DB, logger *slog.Logger, prefixLength int) *Resolver {
	if prefixLength <= 0 {
		prefixLength = 5
	}
	return &Resolver{
		db:           db,
		logger:       logging.NewComponentLogger(logger, "vendor-resolver"),
		prefixLength: prefixLength,
	}
}

// Resolve maps a raw supplier name to a canonical vendor key.
func (r *Resolver) Resolve(ctx context.Context, rawName string) (Resolution, error) {
	normalized := Normalize(rawName)
	if normalized == "" {
		return Resolution{Key: ""}, nil
	}

	// Exact synonym match first.
	vendor, err := r.findBySynonym(ctx, normalized)
	if err != nil {
		return Resolution{}, err
	}
	if vendor != nil {
		return Resolution{Key: vendor.NormalizedName, Vendor: vendor}, nil
	}

	// Exact vendor name match counts as resolved without a synonym row.
	vendor, err = r.findByNormalizedName(ctx, normalized)
	if err != nil {
		return Resolution{}, err
	}
	if vendor != nil {
		return Resolution{Key: vendor.NormalizedName, Vendor: vendor}, nil
	}

	candidates, err := r.findByPrefix(ctx, Prefix(normalized, r.prefixLength))
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) != 1 {
		if len(candidates) > 1 {
			r.logger.Debug("ambiguous vendor prefix, leaving unresolved",
				logging.String("supplier", rawName),
				logging.Int("candidates", len(candidates)))
		}
		return Resolution{Key: normalized}, nil
	}

	// Exactly one candidate: bind the raw name to it so future invoices
	// resolve without the fuzzy step.
	match := candidates[0]
	if err := r.createSynonym(ctx, match.ID, normalized, rawName); err != nil {
		return Resolution{}, err
	}
	r.logger.Info("auto-bound vendor synonym",
		logging.String("supplier", rawName),
		logging.String("vendor", match.Name),
		logging.Int64("vendor_id", match.ID))
	return Resolution{Key: match.NormalizedName, Vendor: &match, AutoBound: true}, nil
}

// CreateVendor registers a canonical vendor. Used by fixtures and by hold
// resolution when a reviewer assigns a brand-new supplier.
func (r *Resolver) CreateVendor(ctx context.Context, name string, externalID int64) (*Vendor, error) {
	normalized := Normalize(name)
	if normalized == "" {
		return nil, errors.New("vendor name is empty")
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO vendors (name, normalized_name, external_id, created_at) VALUES (?, ?, ?, ?)`,
		name, normalized, externalID, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert vendor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("vendor id: %w", err)
	}
	return &Vendor{ID: id, Name: name, NormalizedName: normalized, ExternalID: externalID, CreatedAt: now}, nil
}

// GetByID fetches a vendor.
func (r *Resolver) GetByID(ctx context.Context, id int64) (*Vendor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, external_id, created_at FROM vendors WHERE id = ?`, id)
	vendor, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vendor: %w", err)
	}
	return vendor, nil
}

// CompactSynonyms removes duplicate synonym rows left behind by concurrent
// auto-binds. Safe to run at any time; keeps the oldest row per synonym.
func (r *Resolver) CompactSynonyms(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM vendor_synonyms WHERE id NOT IN (
            SELECT MIN(id) FROM vendor_synonyms GROUP BY vendor_id, synonym
        )`)
	if err != nil {
		return 0, fmt.Errorf("compact synonyms: %w", err)
	}
	return res.RowsAffected()
}

func (r *Resolver) findBySynonym(ctx context.Context, normalized string) (*Vendor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT v.id, v.name, v.normalized_name, v.external_id, v.created_at
         FROM vendor_synonyms s JOIN vendors v ON v.id = s.vendor_id
         WHERE s.synonym = ? ORDER BY s.id LIMIT 1`, normalized)
	vendor, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("synonym lookup: %w", err)
	}
	return vendor, nil
}

func (r *Resolver) findByNormalizedName(ctx context.Context, normalized string) (*Vendor, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, normalized_name, external_id, created_at
         FROM vendors WHERE normalized_name = ?`, normalized)
	vendor, err := scanVendor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vendor lookup: %w", err)
	}
	return vendor, nil
}

func (r *Resolver) findByPrefix(ctx context.Context, prefix string) ([]Vendor, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, normalized_name, external_id, created_at
         FROM vendors WHERE REPLACE(normalized_name, ' ', '') LIKE ? ORDER BY id`,
		prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("prefix search: %w", err)
	}
	defer rows.Close()

	var vendors []Vendor
	for rows.Next() {
		vendor, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		vendors = append(vendors, *vendor)
	}
	return vendors, rows.Err()
}

func (r *Resolver) createSynonym(ctx context.Context, vendorID int64, normalized, rawName string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO vendor_synonyms (vendor_id, synonym, auto_created, created_at) VALUES (?, ?, 1, ?)`,
		vendorID, normalized, now); err != nil {
		return fmt.Errorf("insert synonym: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"raw_name":   rawName,
		"synonym":    normalized,
		"vendor_id":  vendorID,
		"heuristic":  "single-prefix-candidate",
		"prefix_len": r.prefixLength,
	})
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (event, entity, entity_id, actor, payload, created_at)
         VALUES ('vendor_synonym_autobind', 'vendor', ?, 'system', ?, ?)`,
		vendorID, string(payload), now); err != nil {
		return fmt.Errorf("audit synonym: %w", err)
	}
	return nil
}

func scanVendor(scanner interface{ Scan(dest ...any) error }) (*Vendor, error) {
	var (
		vendor     Vendor
		externalID sql.NullInt64
		createdRaw string
	)
	if err := scanner.Scan(&vendor.ID, &vendor.Name, &vendor.NormalizedName, &externalID, &createdRaw); err != nil {
		return nil, err
	}
	vendor.ExternalID = externalID.Int64
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		vendor.CreatedAt = t
	}
	return &vendor, nil
}
