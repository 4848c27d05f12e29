package pipeline

import (
	"context"
	"fmt"
	"time"

	"apflow/internal/queue"
)

const (
	waitingIssueThreshold = 100
	failedIssueThreshold  = 20
	oldestWaitingLimit    = 10 * time.Minute
)

// StageStatus is one stage's queue counts plus its worker allocation.
type StageStatus struct {
	queue.StageStats
	WorkerCount int `json:"workerCount"`
}

// Health summarizes whether the pipeline needs operator attention.
type Health struct {
	Healthy          bool      `json:"healthy"`
	Issues           []string  `json:"issues"`
	TotalJobs        int       `json:"totalJobs"`
	ActiveWorkers    int       `json:"activeWorkers"`
	OldestWaitingAge string    `json:"oldestWaitingAge,omitempty"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// GetStats reports per-stage queue counts and worker allocations.
func (m *Manager) GetStats(ctx context.Context) (map[queue.Stage]*StageStatus, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	counts := m.cfg.WorkerCounts()

	out := make(map[queue.Stage]*StageStatus, len(stats))
	for stage, entry := range stats {
		out[stage] = &StageStatus{
			StageStats:  *entry,
			WorkerCount: counts[string(stage)],
		}
	}
	return out, nil
}

// GetHealth evaluates the operator-facing thresholds: paused stages,
// starved stages, deep backlogs, failure pileups, and stale waiting
// jobs all surface as issues.
func (m *Manager) GetHealth(ctx context.Context) (*Health, error) {
	stats, err := m.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	health := &Health{CheckedAt: time.Now().UTC()}
	var oldest *time.Time

	for _, stage := range queue.Stages() {
		entry := stats[stage]
		if entry == nil {
			continue
		}
		health.TotalJobs += entry.Waiting + entry.Delayed + entry.Running + entry.Completed + entry.Failed
		health.ActiveWorkers += entry.WorkerCount

		if entry.Paused {
			health.Issues = append(health.Issues, fmt.Sprintf("stage %s is paused", stage))
		}
		if entry.WorkerCount == 0 && (entry.Waiting > 0 || entry.Running > 0) {
			health.Issues = append(health.Issues,
				fmt.Sprintf("stage %s has queued work but no workers", stage))
		}
		if entry.Waiting > waitingIssueThreshold {
			health.Issues = append(health.Issues,
				fmt.Sprintf("stage %s backlog: %d waiting", stage, entry.Waiting))
		}
		if entry.Failed > failedIssueThreshold {
			health.Issues = append(health.Issues,
				fmt.Sprintf("stage %s has %d failed jobs", stage, entry.Failed))
		}
		if entry.OldestWaiting != nil {
			if age := time.Since(*entry.OldestWaiting); age > oldestWaitingLimit {
				health.Issues = append(health.Issues,
					fmt.Sprintf("stage %s oldest waiting job is %s old", stage, age.Round(time.Second)))
			}
			if oldest == nil || entry.OldestWaiting.Before(*oldest) {
				oldest = entry.OldestWaiting
			}
		}
	}

	if oldest != nil {
		health.OldestWaitingAge = time.Since(*oldest).Round(time.Second).String()
	}
	health.Healthy = len(health.Issues) == 0
	return health, nil
}
