package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"apflow/internal/config"
	"apflow/internal/logging"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/services"
)

// Splitter is the split stage: it validates the inbound attachment and
// stages a private copy of the PDF so later stages never depend on the
// inbox file surviving.
type Splitter struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewSplitter(cfg *config.Config, logger *slog.Logger) *Splitter {
	return &Splitter{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "split"),
	}
}

func (s *Splitter) Stage() queue.Stage { return queue.StageSplit }

func (s *Splitter) Execute(ctx context.Context, job *queue.Job) (pipeline.StageResult, error) {
	var payload pipeline.SplitPayload
	if err := pipeline.DecodePayload(job, &payload); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "split", "decode", "", err)
	}

	pdf, err := os.ReadFile(payload.PDFPath)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "split", "read",
				fmt.Sprintf("attachment %s missing at %s", payload.AttachmentID, payload.PDFPath), err)
		}
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalService, "split", "read", payload.PDFPath, err)
	}
	if !bytes.HasPrefix(pdf, []byte("%PDF")) {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "split", "validate",
			fmt.Sprintf("attachment %s is not a PDF", payload.AttachmentID), nil)
	}

	staged := filepath.Join(s.cfg.Paths.StagingDir, job.CorrelationID+".pdf")
	if err := os.MkdirAll(s.cfg.Paths.StagingDir, 0o755); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalService, "split", "stage", s.cfg.Paths.StagingDir, err)
	}
	if err := os.WriteFile(staged, pdf, 0o644); err != nil {
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalService, "split", "stage", staged, err)
	}

	s.logger.InfoContext(ctx, "attachment staged",
		logging.String(logging.FieldCorrelationID, job.CorrelationID),
		logging.String("attachment_id", payload.AttachmentID),
		logging.String("staged_path", staged),
		logging.Int("bytes", len(pdf)))

	next, err := pipeline.EncodePayload(pipeline.ParsePayload{
		AttachmentID: payload.AttachmentID,
		StagedPath:   staged,
		SupplierHint: payload.SupplierHint,
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	return pipeline.Advance(queue.StageParse, next), nil
}
