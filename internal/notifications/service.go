package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"apflow/internal/config"
)

const userAgent = "apflow/0.1.0"

// Service is the alert surface the pipeline publishes to. Delivery is
// fire-and-forget: callers log failures but never fail a job over one.
type Service interface {
	SendHoldAlert(ctx context.Context, alert HoldAlert) error
	SendVarianceAlert(ctx context.Context, alert VarianceAlert) error
	SendDailySummary(ctx context.Context, summary DailySummary) error
	SendSystemAlert(ctx context.Context, message string) error
}

// HoldAlert announces an invoice parked for review.
type HoldAlert struct {
	DocumentID    int64    `json:"documentId"`
	Supplier      string   `json:"supplier"`
	InvoiceNumber string   `json:"invoiceNumber"`
	Reason        string   `json:"reason"`
	Details       string   `json:"details,omitempty"`
	Suggestions   []string `json:"suggestions,omitempty"`
}

// VarianceAlert announces a draft bill waiting on a variance decision.
type VarianceAlert struct {
	DocumentID    int64  `json:"documentId"`
	Supplier      string `json:"supplier"`
	InvoiceNumber string `json:"invoiceNumber"`
	InvoiceTotal  int64  `json:"invoiceTotal"`
	POTotal       int64  `json:"poTotal"`
	Variance      int64  `json:"variance"`
}

// DailySummary is the end-of-day digest.
type DailySummary struct {
	Date           string `json:"date"`
	Processed      int    `json:"processed"`
	Finalized      int    `json:"finalized"`
	Drafted        int    `json:"drafted"`
	OpenHolds      int    `json:"openHolds"`
	FailedJobs     int    `json:"failedJobs"`
	TopHoldReasons string `json:"topHoldReasons,omitempty"`
}

// NewService builds a webhook-backed notification service, or a noop
// when no webhook is configured.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type webhookService struct {
	endpoint string
	client   *http.Client
}

type webhookMessage struct {
	Event string `json:"event"`
	Title string `json:"title"`
	Text  string `json:"text"`
	Data  any    `json:"data,omitempty"`
}

func (w *webhookService) SendHoldAlert(ctx context.Context, alert HoldAlert) error {
	text := fmt.Sprintf("Invoice %s from %s needs review: %s",
		alert.InvoiceNumber, alert.Supplier, alert.Reason)
	if alert.Details != "" {
		text += "\n" + alert.Details
	}
	return w.send(ctx, webhookMessage{
		Event: "hold_opened",
		Title: "Invoice held for review",
		Text:  text,
		Data:  alert,
	})
}

func (w *webhookService) SendVarianceAlert(ctx context.Context, alert VarianceAlert) error {
	return w.send(ctx, webhookMessage{
		Event: "variance_draft",
		Title: "Draft bill awaiting variance approval",
		Text: fmt.Sprintf("Invoice %s from %s: invoice %s vs PO %s (variance %s)",
			alert.InvoiceNumber, alert.Supplier,
			formatCents(alert.InvoiceTotal), formatCents(alert.POTotal),
			formatCents(alert.Variance)),
		Data: alert,
	})
}

func (w *webhookService) SendDailySummary(ctx context.Context, summary DailySummary) error {
	return w.send(ctx, webhookMessage{
		Event: "daily_summary",
		Title: fmt.Sprintf("Invoice pipeline summary for %s", summary.Date),
		Text: fmt.Sprintf("%d processed, %d finalized, %d drafted, %d open holds, %d failed jobs",
			summary.Processed, summary.Finalized, summary.Drafted,
			summary.OpenHolds, summary.FailedJobs),
		Data: summary,
	})
}

func (w *webhookService) SendSystemAlert(ctx context.Context, message string) error {
	return w.send(ctx, webhookMessage{
		Event: "system_alert",
		Title: "Pipeline alert",
		Text:  message,
	})
}

func (w *webhookService) send(ctx context.Context, msg webhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

type noopService struct{}

func (noopService) SendHoldAlert(context.Context, HoldAlert) error         { return nil }
func (noopService) SendVarianceAlert(context.Context, VarianceAlert) error { return nil }
func (noopService) SendDailySummary(context.Context, DailySummary) error   { return nil }
func (noopService) SendSystemAlert(context.Context, string) error          { return nil }

// NewNop returns a service that swallows every notification. Tests and
// disabled installs use it.
func NewNop() Service { return noopService{} }
