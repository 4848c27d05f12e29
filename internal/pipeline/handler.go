package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"apflow/internal/queue"
)

// Handler is one stage body. Execute returns a StageResult for normal
// control flow; a returned error is an infrastructure failure handled
// by retry/backoff.
type Handler interface {
	Stage() queue.Stage
	Execute(ctx context.Context, job *queue.Job) (StageResult, error)
}

// SplitPayload enters the pipeline: one inbound attachment.
type SplitPayload struct {
	AttachmentID string `json:"attachmentId"`
	PDFPath      string `json:"pdfPath"`
	SupplierHint string `json:"supplierHint,omitempty"`
}

// ParsePayload carries the staged PDF into extraction.
type ParsePayload struct {
	AttachmentID string `json:"attachmentId"`
	StagedPath   string `json:"stagedPath"`
	SupplierHint string `json:"supplierHint,omitempty"`
}

// DocPayload is what the post-parse stages exchange: everything else
// lives in the database keyed by document id.
type DocPayload struct {
	DocumentID int64 `json:"documentId"`
}

// EncodePayload marshals a stage payload for the queue.
func EncodePayload(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode stage payload: %w", err)
	}
	return string(encoded), nil
}

// DecodePayload unmarshals a job payload into the stage's type.
func DecodePayload(job *queue.Job, v any) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("decode %s payload for %s: %w", job.Stage, job.CorrelationID, err)
	}
	return nil
}
