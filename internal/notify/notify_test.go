package notify_test

import (
	"context"
	"errors"
	"testing"

	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/notifications"
	"apflow/internal/notify"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/testsupport"
)

type recordingNotifier struct {
	holdAlerts     []notifications.HoldAlert
	varianceAlerts []notifications.VarianceAlert
	failHolds      bool
}

func (r *recordingNotifier) SendHoldAlert(_ context.Context, alert notifications.HoldAlert) error {
	if r.failHolds {
		return errors.New("webhook down")
	}
	r.holdAlerts = append(r.holdAlerts, alert)
	return nil
}

func (r *recordingNotifier) SendVarianceAlert(_ context.Context, alert notifications.VarianceAlert) error {
	r.varianceAlerts = append(r.varianceAlerts, alert)
	return nil
}

func (r *recordingNotifier) SendDailySummary(context.Context, notifications.DailySummary) error {
	return nil
}

func (r *recordingNotifier) SendSystemAlert(context.Context, string) error { return nil }

type fixture struct {
	handler  *notify.Handler
	notifier *recordingNotifier
	docs     *documents.Store
	results  *matching.Store
	holds    *holds.Store
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	notifier := &recordingNotifier{}
	docs := documents.NewStore(db)
	results := matching.NewStore(db)
	holdStore := holds.NewStore(db)
	return &fixture{
		handler:  notify.NewHandler(notifier, docs, results, holdStore, logging.NewNop()),
		notifier: notifier,
		docs:     docs,
		results:  results,
		holds:    holdStore,
		ctx:      context.Background(),
	}
}

func (f *fixture) run(t *testing.T, documentID int64) pipeline.StageResult {
	t.Helper()
	payload, err := pipeline.EncodePayload(pipeline.DocPayload{DocumentID: documentID})
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	result, err := f.handler.Execute(f.ctx, &queue.Job{
		Stage:         queue.StageNotify,
		CorrelationID: "corr-notify",
		Payload:       payload,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return result
}

func TestNotifySendsAlertPerOpenHold(t *testing.T) {
	f := newFixture(t)
	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{Supplier: "Apex Supply"})
	if _, err := f.holds.Create(f.ctx, doc.ID, holds.ReasonMissingPO, "No PO on invoice", `["Assign job 12"]`); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	result := f.run(t, doc.ID)
	if !result.IsTerminal() {
		t.Fatalf("notify must be terminal, got %+v", result)
	}
	if len(f.notifier.holdAlerts) != 1 {
		t.Fatalf("hold alerts = %d, want 1", len(f.notifier.holdAlerts))
	}
	alert := f.notifier.holdAlerts[0]
	if alert.Reason != "MISSING_PO" || alert.Supplier != "Apex Supply" {
		t.Errorf("alert fields wrong: %+v", alert)
	}
	if len(alert.Suggestions) != 1 || alert.Suggestions[0] != "Assign job 12" {
		t.Errorf("suggestions not decoded: %+v", alert.Suggestions)
	}
}

func TestNotifySendsVarianceAlertForDraftBills(t *testing.T) {
	f := newFixture(t)
	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{Total: 14000})
	if err := f.results.Upsert(f.ctx, &matching.MatchResult{
		DocumentID: doc.ID,
		POFound:    true,
		Variance:   3000,
		Action:     matching.ActionDraftThenAlert,
		Reasons:    []holds.Reason{holds.ReasonVarianceExceeded},
	}); err != nil {
		t.Fatalf("upsert result: %v", err)
	}

	f.run(t, doc.ID)
	if len(f.notifier.varianceAlerts) != 1 {
		t.Fatalf("variance alerts = %d, want 1", len(f.notifier.varianceAlerts))
	}
	alert := f.notifier.varianceAlerts[0]
	if alert.Variance != 3000 || alert.POTotal != 11000 || alert.InvoiceTotal != 14000 {
		t.Errorf("variance alert math wrong: %+v", alert)
	}
}

func TestNotifyDeliveryFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t)
	f.notifier.failHolds = true
	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{})
	if _, err := f.holds.Create(f.ctx, doc.ID, holds.ReasonUnreadable, "OCR failed", ""); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	result := f.run(t, doc.ID)
	if !result.IsTerminal() {
		t.Fatalf("delivery failure must still terminate the pass, got %+v", result)
	}
}

func TestNotifyUnknownDocumentTerminates(t *testing.T) {
	f := newFixture(t)
	result := f.run(t, 987654)
	if !result.IsTerminal() {
		t.Fatalf("unknown document should terminate quietly, got %+v", result)
	}
}
