package queue

import "time"

// Stage names one step of the processing pipeline. Every invoice walks
// the stages in the fixed order below, keyed by its correlation id.
type Stage string

const (
	StageSplit  Stage = "split"
	StageParse  Stage = "parse"
	StageMatch  Stage = "match"
	StageBill   Stage = "bill"
	StageWrite  Stage = "write"
	StageNotify Stage = "notify"
)

var stageOrder = []Stage{
	StageSplit,
	StageParse,
	StageMatch,
	StageBill,
	StageWrite,
	StageNotify,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, stage := range stageOrder {
		if stage == s {
			return true
		}
	}
	return false
}

// Next returns the stage after s in pipeline order. ok is false for the
// final stage and unknown stages.
func Next(s Stage) (next Stage, ok bool) {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Status is a job's lifecycle within one stage queue.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s names a known job status.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one unit of stage work. The (stage, correlation id) pair is
// the idempotency key: enqueueing an already-pending job is a no-op.
type Job struct {
	Stage         Stage
	CorrelationID string
	Payload       string
	Status        Status
	RetryCount    int
	LastError     string
	EnqueuedAt    time.Time
	UpdatedAt     time.Time
	NextAttemptAt *time.Time
}

// StageStats counts jobs per status for one stage.
type StageStats struct {
	Stage         Stage      `json:"stage"`
	Waiting       int        `json:"waiting"`
	Delayed       int        `json:"delayed"`
	Running       int        `json:"running"`
	Completed     int        `json:"completed"`
	Failed        int        `json:"failed"`
	Paused        bool       `json:"paused"`
	OldestWaiting *time.Time `json:"oldestWaiting,omitempty"`
}
