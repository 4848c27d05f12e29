package servicetitan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apflow/internal/config"
	"apflow/internal/services"
)

const userAgent = "apflow/0.1.0"

// HTTPClient talks to the ServiceTitan REST API. All endpoints are
// tenant-scoped; the key comes from the environment at startup.
type HTTPClient struct {
	baseURL  string
	tenantID string
	apiKey   string
	client   *http.Client
}

// NewHTTPClient builds the production ERP client from configuration.
func NewHTTPClient(cfg *config.Config) (*HTTPClient, error) {
	key := cfg.ERPKey()
	if key == "" {
		return nil, services.Wrap(services.ErrConfiguration, "servicetitan", "init",
			"ERP API key is not set in the environment", nil)
	}

	timeout := time.Duration(cfg.ERP.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.ERP.BaseURL, "/"),
		tenantID: cfg.ERP.TenantID,
		apiKey:   key,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) FindPO(ctx context.Context, coreNumber string) (*PurchaseOrder, error) {
	query := url.Values{"number": {coreNumber}, "pageSize": {"1"}}
	var page struct {
		Data []PurchaseOrder `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/inventory/v2/purchase-orders", query, nil, &page); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "servicetitan", "find_po",
			fmt.Sprintf("lookup PO %s", coreNumber), err)
	}
	if len(page.Data) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "servicetitan", "find_po",
			fmt.Sprintf("no purchase order %s", coreNumber), nil)
	}
	po := page.Data[0]
	return &po, nil
}

func (c *HTTPClient) FindVendorByName(ctx context.Context, name string) (*Vendor, error) {
	query := url.Values{"name": {name}, "pageSize": {"1"}}
	var page struct {
		Data []Vendor `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/inventory/v2/vendors", query, nil, &page); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "servicetitan", "find_vendor",
			fmt.Sprintf("lookup vendor %q", name), err)
	}
	if len(page.Data) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "servicetitan", "find_vendor",
			fmt.Sprintf("no vendor named %q", name), nil)
	}
	vendor := page.Data[0]
	return &vendor, nil
}

func (c *HTTPClient) FindJobs(ctx context.Context, from, to time.Time) ([]Job, error) {
	query := url.Values{
		"completedOnOrAfter":  {from.UTC().Format(time.RFC3339)},
		"completedOnOrBefore": {to.UTC().Format(time.RFC3339)},
		"pageSize":            {"200"},
	}
	var page struct {
		Data []Job `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/jpm/v2/jobs", query, nil, &page); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "servicetitan", "find_jobs",
			"list completed jobs", err)
	}
	return page.Data, nil
}

func (c *HTTPClient) TechniciansByJob(ctx context.Context, jobID int64) ([]Technician, error) {
	var page struct {
		Data []Technician `json:"data"`
	}
	path := fmt.Sprintf("/jpm/v2/jobs/%d/technicians", jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "servicetitan", "technicians_by_job",
			fmt.Sprintf("technicians for job %d", jobID), err)
	}
	return page.Data, nil
}

func (c *HTTPClient) ReceivePO(ctx context.Context, poID int64, invoiceNumber string, pdf []byte, lines []ReceiptLine) (int64, error) {
	body := struct {
		ReferenceNumber string        `json:"referenceNumber"`
		Attachment      []byte        `json:"attachment,omitempty"`
		Items           []ReceiptLine `json:"items"`
	}{ReferenceNumber: invoiceNumber, Attachment: pdf, Items: lines}

	var receipt struct {
		BillID int64 `json:"billId"`
	}
	path := fmt.Sprintf("/inventory/v2/purchase-orders/%d/receipts", poID)
	err := c.do(ctx, http.MethodPost, path, nil, body, &receipt)
	if err == nil {
		return receipt.BillID, nil
	}
	if apiErr, ok := err.(*apiError); ok && apiErr.status == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(apiErr.body), "negative") {
		return 0, services.Wrap(services.ErrNegativeQuantity, "servicetitan", "receive_po",
			fmt.Sprintf("PO %d rejected negative receipt quantity", poID), err)
	}
	return 0, services.Wrap(services.ErrExternalService, "servicetitan", "receive_po",
		fmt.Sprintf("receive against PO %d", poID), err)
}

func (c *HTTPClient) CreateBill(ctx context.Context, req CreateBillRequest) (*Bill, error) {
	var bill Bill
	if err := c.do(ctx, http.MethodPost, "/accounting/v2/bills", nil, req, &bill); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "servicetitan", "create_bill",
			fmt.Sprintf("create bill for invoice %s", req.InvoiceNumber), err)
	}
	return &bill, nil
}

func (c *HTTPClient) FinalizeBill(ctx context.Context, billID int64) error {
	body := struct {
		Status string `json:"status"`
	}{Status: "Exported"}
	path := fmt.Sprintf("/accounting/v2/bills/%d/status", billID)
	if err := c.do(ctx, http.MethodPut, path, nil, body, nil); err != nil {
		return services.Wrap(services.ErrExternalService, "servicetitan", "finalize_bill",
			fmt.Sprintf("finalize bill %d", billID), err)
	}
	return nil
}

func (c *HTTPClient) AdjustBillAmount(ctx context.Context, billID int64, newTotal int64, reason string) error {
	body := struct {
		Total int64  `json:"total"`
		Memo  string `json:"memo,omitempty"`
	}{Total: newTotal, Memo: reason}
	path := fmt.Sprintf("/accounting/v2/bills/%d/total", billID)
	if err := c.do(ctx, http.MethodPut, path, nil, body, nil); err != nil {
		return services.Wrap(services.ErrExternalService, "servicetitan", "adjust_bill",
			fmt.Sprintf("set bill %d total to %d", billID, newTotal), err)
	}
	return nil
}

func (c *HTTPClient) FindMaterial(ctx context.Context, sku string) (*Material, error) {
	query := url.Values{"code": {sku}, "pageSize": {"1"}}
	var page struct {
		Data []Material `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/pricebook/v2/materials", query, nil, &page); err != nil {
		return nil, services.Wrap(services.ErrExternalService, "servicetitan", "find_material",
			fmt.Sprintf("lookup material %s", sku), err)
	}
	if len(page.Data) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "servicetitan", "find_material",
			fmt.Sprintf("no pricebook material %s", sku), nil)
	}
	material := page.Data[0]
	return &material, nil
}

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("servicetitan returned %d: %s", e.status, e.body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + "/tenant/" + c.tenantID + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &apiError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
