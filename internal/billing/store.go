package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"apflow/internal/storage"
)

// BillStatus mirrors the ERP bill state the pipeline last observed.
type BillStatus string

const (
	BillStatusDraft     BillStatus = "DRAFT"
	BillStatusFinalized BillStatus = "FINALIZED"
)

// Bill is the local mirror of a bill created in the ERP.
type Bill struct {
	ID             int64
	DocumentID     int64
	VendorID       int64
	InvoiceNumber  string
	ExternalBillID string
	Status         BillStatus
	PDFPath        string
	CreatedAt      time.Time
}

// Store persists bill mirrors for summaries and write-back.
type Store struct {
	db *storage.DB
}

func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, bill *Bill) error {
	if bill == nil {
		return errors.New("bill is nil")
	}
	now := time.Now().UTC()
	bill.CreatedAt = now
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bills (document_id, vendor_id, invoice_number, external_bill_id, status, pdf_path, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		bill.DocumentID, nullableVendor(bill.VendorID),
		storage.NullableString(bill.InvoiceNumber),
		storage.NullableString(bill.ExternalBillID),
		string(bill.Status), storage.NullableString(bill.PDFPath),
		now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	if bill.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("bill insert id: %w", err)
	}
	return nil
}

// GetByDocument returns the most recent bill for a document, or nil.
func (s *Store) GetByDocument(ctx context.Context, documentID int64) (*Bill, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, vendor_id, invoice_number, external_bill_id, status, pdf_path, created_at
         FROM bills WHERE document_id = ? ORDER BY id DESC LIMIT 1`, documentID)
	bill, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return bill, err
}

// SetStatus updates the mirrored bill state.
func (s *Store) SetStatus(ctx context.Context, id int64, status BillStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bills SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update bill status: %w", err)
	}
	return nil
}

// SetPDFPath records where the archived source PDF landed.
func (s *Store) SetPDFPath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bills SET pdf_path = ? WHERE id = ?`,
		storage.NullableString(path), id)
	if err != nil {
		return fmt.Errorf("update bill pdf path: %w", err)
	}
	return nil
}

// CountSince reports bills created on or after the cutoff, by status.
func (s *Store) CountSince(ctx context.Context, cutoff time.Time) (map[BillStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM bills WHERE created_at >= ? GROUP BY status`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("count bills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[BillStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[BillStatus(status)] = count
	}
	return counts, rows.Err()
}

func scanBill(scanner interface{ Scan(dest ...any) error }) (*Bill, error) {
	var (
		bill       Bill
		vendorID   sql.NullInt64
		invoice    sql.NullString
		external   sql.NullString
		pdfPath    sql.NullString
		createdRaw string
	)
	err := scanner.Scan(&bill.ID, &bill.DocumentID, &vendorID, &invoice,
		&external, &bill.Status, &pdfPath, &createdRaw)
	if err != nil {
		return nil, err
	}
	bill.VendorID = vendorID.Int64
	bill.InvoiceNumber = invoice.String
	bill.ExternalBillID = external.String
	bill.PDFPath = pdfPath.String
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		bill.CreatedAt = t
	}
	return &bill, nil
}

func nullableVendor(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
