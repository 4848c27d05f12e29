package summary_test

import (
	"context"
	"testing"
	"time"

	"apflow/internal/billing"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/notifications"
	"apflow/internal/queue"
	"apflow/internal/summary"
	"apflow/internal/testsupport"
)

type digestRecorder struct {
	notifications.Service
	sent []notifications.DailySummary
}

func (d *digestRecorder) SendDailySummary(_ context.Context, s notifications.DailySummary) error {
	d.sent = append(d.sent, s)
	return nil
}

func TestCollectCountsActivity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	docs := documents.NewStore(db)
	bills := billing.NewStore(db)
	holdStore := holds.NewStore(db)
	queueStore := queue.NewStore(db, logging.NewNop())
	recorder := &digestRecorder{Service: notifications.NewNop()}
	ctx := context.Background()

	docA := testsupport.NewDocument(t, docs, testsupport.DocumentFixture{InvoiceNumber: "INV-1"})
	docB := testsupport.NewDocument(t, docs, testsupport.DocumentFixture{InvoiceNumber: "INV-2"})
	if err := bills.Create(ctx, &billing.Bill{DocumentID: docA.ID, InvoiceNumber: "INV-1", ExternalBillID: "1", Status: billing.BillStatusFinalized}); err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if err := bills.Create(ctx, &billing.Bill{DocumentID: docB.ID, InvoiceNumber: "INV-2", ExternalBillID: "2", Status: billing.BillStatusDraft}); err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if _, err := holdStore.Create(ctx, docB.ID, holds.ReasonVarianceExceeded, "over threshold", ""); err != nil {
		t.Fatalf("create hold: %v", err)
	}
	if _, err := holdStore.Create(ctx, docA.ID, holds.ReasonMissingPO, "no PO", ""); err != nil {
		t.Fatalf("create hold: %v", err)
	}

	collector := summary.NewCollector(docs, bills, holdStore, queueStore, recorder, logging.NewNop())
	digest, err := collector.Collect(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if digest.Processed != 2 {
		t.Errorf("processed = %d, want 2", digest.Processed)
	}
	if digest.Finalized != 1 || digest.Drafted != 1 {
		t.Errorf("bill counts = finalized %d drafted %d", digest.Finalized, digest.Drafted)
	}
	if digest.OpenHolds != 2 {
		t.Errorf("open holds = %d, want 2", digest.OpenHolds)
	}
	if digest.TopHoldReasons == "" {
		t.Error("top hold reasons empty")
	}

	if err := collector.SendDaily(ctx); err != nil {
		t.Fatalf("send daily: %v", err)
	}
	if len(recorder.sent) != 1 {
		t.Fatalf("daily summary not delivered")
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	collector := summary.NewCollector(
		documents.NewStore(db), billing.NewStore(db), holds.NewStore(db),
		queue.NewStore(db, logging.NewNop()), notifications.NewNop(), logging.NewNop())

	if _, err := summary.NewScheduler("not a cron spec", collector, logging.NewNop()); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	sched, err := summary.NewScheduler("0 18 * * *", collector, logging.NewNop())
	if err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	sched.Start()
	sched.Stop()
}
