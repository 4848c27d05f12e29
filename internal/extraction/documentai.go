package extraction

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"apflow/internal/config"
	"apflow/internal/logging"
	"apflow/internal/services"
)

// maxPDFBytes is the largest document Document AI accepts for synchronous
// processing.
const maxPDFBytes = 20 * 1024 * 1024

// DocumentAI implements Client against Google Document AI's invoice
// processor. Credentials come from the environment: GOOGLE_CREDENTIALS
// (inline JSON) or GOOGLE_APPLICATION_CREDENTIALS (key file path), falling
// back to application default credentials.
type DocumentAI struct {
	client  *documentai.DocumentProcessorClient
	cfg     config.Extraction
	timeout time.Duration
	logger  *slog.Logger
}

// NewDocumentAI dials Document AI using the configured project, location,
// and processor. Locations other than "us" use the matching regional
// endpoint.
func NewDocumentAI(ctx context.Context, cfg config.Extraction, logger *slog.Logger) (*DocumentAI, error) {
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, services.Wrap(services.ErrConfiguration, "parse", "extraction",
			"extraction.project_id and extraction.processor_id are required", nil)
	}

	var opts []option.ClientOption
	if cfg.Location != "" && cfg.Location != "us" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)))
	}
	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		opts = append(opts, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "parse", "extraction",
			"create Document AI client", err)
	}

	return &DocumentAI{
		client:  client,
		cfg:     cfg,
		timeout: time.Duration(cfg.Timeout) * time.Second,
		logger:  logging.NewComponentLogger(logger, "extraction"),
	}, nil
}

// Close releases the underlying gRPC connection.
func (d *DocumentAI) Close() error {
	return d.client.Close()
}

// AnalyzeInvoice sends the PDF through the invoice processor and maps the
// returned entities onto an Invoice. Fields the processor could not read
// stay zero; the caller decides whether the result is usable from
// Confidence and the presence of the critical fields.
func (d *DocumentAI) AnalyzeInvoice(ctx context.Context, pdf []byte, supplierHint string) (*Invoice, error) {
	if len(pdf) == 0 {
		return nil, services.Wrap(services.ErrValidation, "parse", "extraction", "empty document", nil)
	}
	if len(pdf) > maxPDFBytes {
		return nil, services.Wrap(services.ErrValidation, "parse", "extraction",
			fmt.Sprintf("document exceeds %d bytes", maxPDFBytes), nil)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return nil, services.Wrap(services.ErrValidation, "parse", "extraction", "not a PDF document", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.cfg.ProjectID, d.cfg.Location, d.cfg.ProcessorID)
	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdf,
				MimeType: "application/pdf",
			},
		},
	})
	if err != nil {
		return nil, classifyAPIError(err)
	}

	invoice := d.mapDocument(resp.GetDocument(), supplierHint)
	d.logger.InfoContext(ctx, "invoice analyzed",
		logging.String("supplier", invoice.SupplierName),
		logging.String("invoice_number", invoice.InvoiceNumber),
		logging.Int64("total", invoice.Total),
		logging.Int("line_items", len(invoice.LineItems)),
		logging.Float64("confidence", invoice.Confidence))
	return invoice, nil
}

func (d *DocumentAI) mapDocument(doc *documentaipb.Document, supplierHint string) *Invoice {
	invoice := &Invoice{}
	var confidenceSum float64
	var confidenceCount int

	record := func(conf float32) {
		confidenceSum += float64(conf)
		confidenceCount++
	}

	for _, entity := range doc.GetEntities() {
		value := strings.TrimSpace(entity.GetMentionText())
		switch entity.GetType() {
		case "invoice_id", "invoice_number":
			if value != "" {
				invoice.InvoiceNumber = value
				record(entity.GetConfidence())
			}
		case "supplier_name", "vendor_name":
			if value != "" {
				invoice.SupplierName = value
				record(entity.GetConfidence())
			}
		case "invoice_date":
			if date, err := entityDate(entity); err == nil {
				invoice.InvoiceDate = date
				record(entity.GetConfidence())
			} else {
				d.logger.Warn("unparseable invoice date", logging.String("raw", value), logging.Error(err))
			}
		case "purchase_order", "reference_number", "purchase_order_number":
			if value != "" && invoice.PONumber == "" {
				invoice.PONumber = value
				record(entity.GetConfidence())
			}
		case "net_amount", "subtotal_amount":
			if cents, err := entityMoney(entity); err == nil {
				invoice.TotalBeforeTax = cents
				record(entity.GetConfidence())
			}
		case "total_tax_amount", "vat_amount":
			// The invoice processor reports one combined tax figure. It
			// lands in GST; suppliers that itemize PST/HST surface them
			// as line-level adjustments the reviewer sees on the PDF.
			if cents, err := entityMoney(entity); err == nil {
				invoice.GST = cents
				record(entity.GetConfidence())
			}
		case "total_amount", "gross_amount":
			if cents, err := entityMoney(entity); err == nil {
				invoice.Total = cents
				record(entity.GetConfidence())
			}
		case "line_item":
			if line, ok := mapLine(entity); ok {
				invoice.LineItems = append(invoice.LineItems, line)
			}
		}
	}

	if invoice.SupplierName == "" && supplierHint != "" {
		invoice.SupplierName = supplierHint
	}
	if invoice.TotalBeforeTax == 0 && invoice.Total != 0 {
		invoice.TotalBeforeTax = invoice.Total - invoice.GST - invoice.PST - invoice.HST
	}
	if confidenceCount > 0 {
		invoice.Confidence = confidenceSum / float64(confidenceCount)
	}
	return invoice
}

func mapLine(entity *documentaipb.Document_Entity) (Line, bool) {
	var line Line
	for _, prop := range entity.GetProperties() {
		value := strings.TrimSpace(prop.GetMentionText())
		switch prop.GetType() {
		case "line_item/description":
			line.Description = value
		case "line_item/product_code":
			line.SKU = value
		case "line_item/quantity":
			if qty, err := parseQuantity(value); err == nil {
				line.Quantity = qty
			}
		case "line_item/unit_price":
			if cents, err := entityMoney(prop); err == nil {
				line.UnitPrice = cents
			}
		case "line_item/amount":
			if cents, err := entityMoney(prop); err == nil {
				line.Total = cents
			}
		}
	}
	if line.Description == "" {
		line.Description = strings.TrimSpace(entity.GetMentionText())
	}
	if line.Description == "" && line.Total == 0 {
		return Line{}, false
	}
	if line.Quantity == 0 {
		line.Quantity = 1
	}
	if line.Total == 0 && line.UnitPrice != 0 {
		line.Total = int64(float64(line.UnitPrice) * line.Quantity)
	}
	return line, true
}

// entityDate prefers the processor's normalized date and falls back to
// parsing the mention text with the formats suppliers actually print.
func entityDate(entity *documentaipb.Document_Entity) (time.Time, error) {
	if nv := entity.GetNormalizedValue(); nv != nil {
		if dv := nv.GetDateValue(); dv != nil {
			return time.Date(int(dv.Year), time.Month(dv.Month), int(dv.Day), 0, 0, 0, 0, time.UTC), nil
		}
	}
	raw := strings.TrimSpace(entity.GetMentionText())
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	formats := []string{
		"2006-01-02",
		"01/02/2006",
		"2006/01/02",
		"02-Jan-2006",
		"January 2, 2006",
		"Jan 2, 2006",
		"2 January 2006",
	}
	for _, format := range formats {
		if date, err := time.Parse(format, raw); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}

// entityMoney converts a money entity to cents, preferring the normalized
// value over re-parsing the mention text.
func entityMoney(entity *documentaipb.Document_Entity) (int64, error) {
	if nv := entity.GetNormalizedValue(); nv != nil {
		if mv := nv.GetMoneyValue(); mv != nil {
			return mv.Units*100 + int64(mv.Nanos)/10_000_000, nil
		}
	}
	return ParseMoney(entity.GetMentionText())
}

// ParseMoney converts a printed amount ("$1,234.56", "1234.5") to cents.
func ParseMoney(raw string) (int64, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "$")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = cleaned[1:]
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", raw)
	}
	cents := int64(value*100 + 0.5)
	if negative {
		cents = -cents
	}
	return cents, nil
}

func parseQuantity(raw string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty quantity")
	}
	return strconv.ParseFloat(cleaned, 64)
}

// classifyAPIError maps Document AI failures onto the service error
// classes: permission and argument problems will not resolve on retry,
// quota and deadline problems will.
func classifyAPIError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "PERMISSION_DENIED"), strings.Contains(msg, "NOT_FOUND"):
		return services.Wrap(services.ErrConfiguration, "parse", "extraction", "Document AI rejected processor", err)
	case strings.Contains(msg, "INVALID_ARGUMENT"):
		return services.Wrap(services.ErrValidation, "parse", "extraction", "Document AI rejected document", err)
	default:
		return services.Wrap(services.ErrExternalService, "parse", "extraction", "Document AI request failed", err)
	}
}
