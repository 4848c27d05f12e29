package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"apflow/internal/billing"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/notifications"
	"apflow/internal/queue"
)

// Collector assembles the end-of-day digest from the stores.
type Collector struct {
	docs     *documents.Store
	bills    *billing.Store
	holds    *holds.Store
	queue    *queue.Store
	notifier notifications.Service
	logger   *slog.Logger
}

func NewCollector(docs *documents.Store, bills *billing.Store, holdStore *holds.Store, queueStore *queue.Store, notifier notifications.Service, logger *slog.Logger) *Collector {
	return &Collector{
		docs:     docs,
		bills:    bills,
		holds:    holdStore,
		queue:    queueStore,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "summary"),
	}
}

// Collect builds the digest for activity since the cutoff.
func (c *Collector) Collect(ctx context.Context, since time.Time) (notifications.DailySummary, error) {
	summary := notifications.DailySummary{
		Date: time.Now().UTC().Format("2006-01-02"),
	}

	processed, err := c.docs.CountCreatedSince(ctx, since)
	if err != nil {
		return summary, err
	}
	summary.Processed = processed

	billCounts, err := c.bills.CountSince(ctx, since)
	if err != nil {
		return summary, err
	}
	summary.Finalized = billCounts[billing.BillStatusFinalized]
	summary.Drafted = billCounts[billing.BillStatusDraft]

	openByReason, err := c.holds.CountOpen(ctx)
	if err != nil {
		return summary, err
	}
	for _, count := range openByReason {
		summary.OpenHolds += count
	}
	summary.TopHoldReasons = formatTopReasons(openByReason)

	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return summary, err
	}
	for _, stat := range stats {
		summary.FailedJobs += stat.Failed
	}
	return summary, nil
}

// SendDaily collects the trailing 24 hours and delivers the digest.
func (c *Collector) SendDaily(ctx context.Context) error {
	summary, err := c.Collect(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if err := c.notifier.SendDailySummary(ctx, summary); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "daily summary sent",
		logging.Int("processed", summary.Processed),
		logging.Int("finalized", summary.Finalized),
		logging.Int("drafted", summary.Drafted),
		logging.Int("open_holds", summary.OpenHolds),
		logging.Int("failed_jobs", summary.FailedJobs))
	return nil
}

// formatTopReasons renders the three most common open hold reasons as
// "REASON (n)" in descending order.
func formatTopReasons(counts map[holds.Reason]int) string {
	type entry struct {
		reason holds.Reason
		count  int
	}
	entries := make([]entry, 0, len(counts))
	for reason, count := range counts {
		if count > 0 {
			entries = append(entries, entry{reason, count})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].reason < entries[j].reason
	})
	if len(entries) > 3 {
		entries = entries[:3]
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s (%d)", e.reason, e.count))
	}
	return strings.Join(parts, ", ")
}
