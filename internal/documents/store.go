package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"apflow/internal/storage"
)

// Store manages document persistence.
type Store struct {
	db *storage.DB
}

// NewStore constructs a document store on the shared database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

const documentColumns = `id, correlation_id, supplier_name_raw, supplier_name_normalized,
    invoice_number, invoice_date, total_before_tax, gst, pst, hst, total,
    po_number_raw, po_number_core, is_service_stock, source_pdf_path, status,
    created_at, updated_at`

// Create persists a document together with its line items in one transaction.
func (s *Store) Create(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("document is nil")
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin document tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO documents (
            correlation_id, supplier_name_raw, supplier_name_normalized,
            invoice_number, invoice_date, total_before_tax, gst, pst, hst, total,
            po_number_raw, po_number_core, is_service_stock, source_pdf_path,
            status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.CorrelationID,
		storage.NullableString(doc.SupplierNameRaw),
		storage.NullableString(doc.SupplierNameNormalized),
		storage.NullableString(doc.InvoiceNumber),
		nullableTime(doc.InvoiceDate),
		doc.TotalBeforeTax,
		doc.GST,
		doc.PST,
		doc.HST,
		doc.Total,
		storage.NullableString(doc.PONumberRaw),
		storage.NullableString(doc.PONumberCore),
		storage.BoolToInt(doc.IsServiceStock),
		storage.NullableString(doc.SourcePDFPath),
		string(doc.Status),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	doc.ID = id

	for i := range doc.LineItems {
		line := &doc.LineItems[i]
		line.DocumentID = id
		line.Position = i
		lineRes, err := tx.ExecContext(ctx,
			`INSERT INTO line_items (
                document_id, position, description, sku, quantity,
                unit_price, total, category, in_pricebook
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			i,
			storage.NullableString(line.Description),
			storage.NullableString(line.SKU),
			line.Quantity,
			line.UnitPrice,
			line.Total,
			string(line.Category),
			storage.BoolToInt(line.InPricebook),
		)
		if err != nil {
			return fmt.Errorf("insert line item %d: %w", i, err)
		}
		if line.ID, err = lineRes.LastInsertId(); err != nil {
			return fmt.Errorf("line item id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit document: %w", err)
	}
	return nil
}

// GetByID fetches a document and its line items.
func (s *Store) GetByID(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return s.scanWithLines(ctx, row)
}

// GetByCorrelationID fetches the document created for a pipeline pass.
func (s *Store) GetByCorrelationID(ctx context.Context, correlationID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE correlation_id = ?`, correlationID)
	return s.scanWithLines(ctx, row)
}

// SetStatus updates the status bookkeeping field.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return nil
}

// SetServiceStock flags a document as truck-stock replenishment. Set
// during hold resolution when a reviewer marks an invoice as stock.
func (s *Store) SetServiceStock(ctx context.Context, id int64, serviceStock bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_service_stock = ?, updated_at = ? WHERE id = ?`,
		storage.BoolToInt(serviceStock), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set document service stock: %w", err)
	}
	return nil
}

// SetSourcePDFPath records where the archived PDF ended up.
func (s *Store) SetSourcePDFPath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET source_pdf_path = ?, updated_at = ? WHERE id = ?`,
		storage.NullableString(path), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("set document pdf path: %w", err)
	}
	return nil
}

// DuplicateCheck reports a prior document with the same normalized vendor
// key and invoice number created within the trailing window. Exact string
// match on the invoice number; the document being checked is excluded.
type DuplicateCheck struct {
	IsDuplicate        bool
	ExistingDocumentID int64
}

// CountCreatedSince reports how many documents entered the system after
// the cutoff. Used by the daily summary.
func (s *Store) CountCreatedSince(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE created_at >= ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// FindDuplicate runs the dedupe-window query.
func (s *Store) FindDuplicate(ctx context.Context, vendorKey, invoiceNumber string, excludeDocumentID int64, windowDays int) (DuplicateCheck, error) {
	if vendorKey == "" || invoiceNumber == "" {
		return DuplicateCheck{}, nil
	}
	if windowDays <= 0 {
		windowDays = 90
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	var existing int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM documents
         WHERE supplier_name_normalized = ? AND invoice_number = ?
           AND id != ? AND created_at >= ?
         ORDER BY created_at DESC LIMIT 1`,
		vendorKey, invoiceNumber, excludeDocumentID,
		cutoff.Format(time.RFC3339Nano),
	).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return DuplicateCheck{}, nil
	}
	if err != nil {
		return DuplicateCheck{}, fmt.Errorf("duplicate lookup: %w", err)
	}
	return DuplicateCheck{IsDuplicate: true, ExistingDocumentID: existing}, nil
}

func (s *Store) scanWithLines(ctx context.Context, row *sql.Row) (*Document, error) {
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, position, description, sku, quantity,
                unit_price, total, category, in_pricebook
         FROM line_items WHERE document_id = ? ORDER BY position`, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line        LineItem
			description sql.NullString
			sku         sql.NullString
			category    string
			inPricebook int
		)
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.Position, &description, &sku,
			&line.Quantity, &line.UnitPrice, &line.Total, &category, &inPricebook); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		line.Description = description.String
		line.SKU = sku.String
		line.Category = Category(category)
		line.InPricebook = inPricebook != 0
		doc.LineItems = append(doc.LineItems, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

func scanDocument(scanner interface{ Scan(dest ...any) error }) (*Document, error) {
	var (
		doc          Document
		supplierRaw  sql.NullString
		supplierNorm sql.NullString
		invoiceNum   sql.NullString
		invoiceDate  sql.NullString
		poRaw        sql.NullString
		poCore       sql.NullString
		serviceStock int
		pdfPath      sql.NullString
		status       string
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&doc.ID, &doc.CorrelationID, &supplierRaw, &supplierNorm,
		&invoiceNum, &invoiceDate, &doc.TotalBeforeTax, &doc.GST, &doc.PST, &doc.HST, &doc.Total,
		&poRaw, &poCore, &serviceStock, &pdfPath, &status,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	doc.SupplierNameRaw = supplierRaw.String
	doc.SupplierNameNormalized = supplierNorm.String
	doc.InvoiceNumber = invoiceNum.String
	doc.PONumberRaw = poRaw.String
	doc.PONumberCore = poCore.String
	doc.IsServiceStock = serviceStock != 0
	doc.SourcePDFPath = pdfPath.String
	doc.Status = Status(status)
	if invoiceDate.Valid {
		if t, err := time.Parse(time.RFC3339Nano, invoiceDate.String); err == nil {
			doc.InvoiceDate = t
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		doc.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		doc.UpdatedAt = t
	}
	return &doc, nil
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
