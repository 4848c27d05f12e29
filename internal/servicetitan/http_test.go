package servicetitan_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"apflow/internal/config"
	"apflow/internal/services"
	"apflow/internal/servicetitan"
)

func newTestClient(t *testing.T, handler http.Handler) *servicetitan.HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	t.Setenv("APFLOW_ERP_KEY", "test-key")
	cfg := config.Default()
	cfg.ERP.BaseURL = server.URL
	cfg.ERP.TenantID = "tenant-1"

	client, err := servicetitan.NewHTTPClient(&cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestTechniciansByJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant/tenant-1/jpm/v2/jobs/500/technicians", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 91, "name": "Sam Rivera", "truckLocationId": 4200},
			},
		})
	})
	client := newTestClient(t, mux)

	techs, err := client.TechniciansByJob(context.Background(), 500)
	if err != nil {
		t.Fatalf("technicians: %v", err)
	}
	if len(techs) != 1 {
		t.Fatalf("technicians = %d, want 1", len(techs))
	}
	if techs[0].ID != 91 || techs[0].TruckLocationID != 4200 {
		t.Fatalf("technician = %+v", techs[0])
	}
}

func TestFindPONotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant/tenant-1/inventory/v2/purchase-orders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})
	client := newTestClient(t, mux)

	_, err := client.FindPO(context.Background(), "PO-404")
	if !services.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestReceivePONegativeQuantity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tenant/tenant-1/inventory/v2/purchase-orders/555/receipts", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Quantity cannot be negative"}`, http.StatusBadRequest)
	})
	client := newTestClient(t, mux)

	_, err := client.ReceivePO(context.Background(), 555, "INV-1", nil, nil)
	if !errors.Is(err, services.ErrNegativeQuantity) {
		t.Fatalf("err = %v, want negative-quantity", err)
	}
}
