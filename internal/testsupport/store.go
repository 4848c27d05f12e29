package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/storage"
)

// MustOpenDB opens the pipeline database for tests and registers cleanup.
func MustOpenDB(t testing.TB, cfg *config.Config) *storage.DB {
	t.Helper()

	db, err := storage.Open(cfg)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// DocumentFixture describes the fields a test cares about; zero values get
// sensible defaults.
type DocumentFixture struct {
	CorrelationID string
	Supplier      string
	InvoiceNumber string
	InvoiceDate   time.Time
	Total         int64
	PONumber      string
	ServiceStock  bool
	SourcePDFPath string
	LineItems     []documents.LineItem
}

// NewDocument persists a document fixture and returns it.
func NewDocument(t testing.TB, store *documents.Store, fx DocumentFixture) *documents.Document {
	t.Helper()

	if fx.Supplier == "" {
		fx.Supplier = "acme supply"
	}
	if fx.InvoiceNumber == "" {
		fx.InvoiceNumber = "INV-1001"
	}
	if fx.InvoiceDate.IsZero() {
		fx.InvoiceDate = time.Now().UTC()
	}
	if fx.Total == 0 {
		fx.Total = 11200
	}
	if fx.CorrelationID == "" {
		fx.CorrelationID = uuid.NewString()
	}

	doc := &documents.Document{
		CorrelationID:          fx.CorrelationID,
		SupplierNameRaw:        fx.Supplier,
		SupplierNameNormalized: fx.Supplier,
		InvoiceNumber:          fx.InvoiceNumber,
		InvoiceDate:            fx.InvoiceDate,
		TotalBeforeTax:         fx.Total,
		Total:                  fx.Total,
		PONumberRaw:            fx.PONumber,
		PONumberCore:           documents.POCore(fx.PONumber),
		IsServiceStock:         fx.ServiceStock,
		SourcePDFPath:          fx.SourcePDFPath,
		LineItems:              fx.LineItems,
	}
	if err := store.Create(context.Background(), doc); err != nil {
		t.Fatalf("create document fixture: %v", err)
	}
	return doc
}
