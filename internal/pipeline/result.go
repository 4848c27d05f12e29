package pipeline

import "apflow/internal/queue"

type resultKind int

const (
	kindAdvance resultKind = iota
	kindHold
	kindTerminal
)

// StageResult tells the orchestrator what to do after a stage body
// returns. Infrastructure failures are not StageResults; the stage
// returns an error and the queue layer retries it.
type StageResult struct {
	kind    resultKind
	next    queue.Stage
	payload string
}

// Advance chains the next stage with the given payload.
func Advance(next queue.Stage, payload string) StageResult {
	return StageResult{kind: kindAdvance, next: next, payload: payload}
}

// Hold stops automatic progression and routes straight to notify: a
// Hold record has been written and a human owns the invoice now.
func Hold(payload string) StageResult {
	return StageResult{kind: kindHold, next: queue.StageNotify, payload: payload}
}

// Terminal ends the pipeline for this correlation id.
func Terminal() StageResult {
	return StageResult{kind: kindTerminal}
}

// Advances reports the chained stage and payload when the result advances.
func (r StageResult) Advances() (queue.Stage, string, bool) {
	if r.kind != kindAdvance {
		return "", "", false
	}
	return r.next, r.payload, true
}

// Held reports the notify payload when the result routed to a hold.
func (r StageResult) Held() (string, bool) {
	if r.kind != kindHold {
		return "", false
	}
	return r.payload, true
}

// IsTerminal reports whether the pipeline ends here.
func (r StageResult) IsTerminal() bool {
	return r.kind == kindTerminal
}
