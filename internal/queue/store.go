package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"apflow/internal/logging"
	"apflow/internal/storage"
)

// Store is the durable stage queue over the shared database. Each
// stage's worker pool claims from its own logical queue; claims are
// serialized through a transaction so two workers never run the same
// (stage, correlation id) pair at once.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
}

func NewStore(db *storage.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logging.NewComponentLogger(logger, "queue")}
}

// Enqueue schedules stage work for a correlation id. While a job for
// the pair is waiting or running this is a no-op; a completed or failed
// job is reset to waiting so a resolved hold can re-enter the pipeline.
func (s *Store) Enqueue(ctx context.Context, stage Stage, correlationID, payload string) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (stage, correlation_id, payload, status, enqueued_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT (stage, correlation_id) DO UPDATE SET
             payload = excluded.payload,
             status = excluded.status,
             retry_count = 0,
             last_error = NULL,
             next_attempt_at = NULL,
             enqueued_at = excluded.enqueued_at,
             updated_at = excluded.updated_at
         WHERE jobs.status IN (?, ?)`,
		string(stage), correlationID, storage.NullableString(payload),
		string(StatusWaiting), now, now,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("enqueue %s job: %w", stage, err)
	}
	return nil
}

// ClaimNext atomically claims the oldest eligible waiting job for a
// stage, or returns nil when there is nothing to do (empty queue,
// paused stage, or all waiting jobs still backing off).
func (s *Store) ClaimNext(ctx context.Context, stage Stage) (*Job, error) {
	paused, err := s.IsPaused(ctx, stage)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE stage = ? AND status = ?
           AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
         ORDER BY enqueued_at, correlation_id
         LIMIT 1`,
		string(stage), string(StatusWaiting), now.Format(time.RFC3339Nano))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claimable job: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?
         WHERE stage = ? AND correlation_id = ? AND status = ?`,
		string(StatusRunning), now.Format(time.RFC3339Nano),
		string(stage), job.CorrelationID, string(StatusWaiting))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	job.Status = StatusRunning
	job.UpdatedAt = now
	return job, nil
}

// MarkCompleted finishes a running job.
func (s *Store) MarkCompleted(ctx context.Context, stage Stage, correlationID string) error {
	return s.setStatus(ctx, stage, correlationID, StatusCompleted, "")
}

// MarkFailed parks a job after its retries are exhausted. Failed jobs
// stay visible in stats until an operator retries or clears them.
func (s *Store) MarkFailed(ctx context.Context, stage Stage, correlationID, lastError string) error {
	return s.setStatus(ctx, stage, correlationID, StatusFailed, lastError)
}

// Delay reschedules a running job for a later attempt, bumping its
// retry count.
func (s *Store) Delay(ctx context.Context, stage Stage, correlationID string, until time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET status = ?, retry_count = retry_count + 1, last_error = ?,
             next_attempt_at = ?, updated_at = ?
         WHERE stage = ? AND correlation_id = ?`,
		string(StatusWaiting), storage.NullableString(lastError),
		until.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(stage), correlationID)
	if err != nil {
		return fmt.Errorf("delay %s job: %w", stage, err)
	}
	return nil
}

// Get fetches one job.
func (s *Store) Get(ctx context.Context, stage Stage, correlationID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE stage = ? AND correlation_id = ?`,
		string(stage), correlationID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// List returns jobs for a stage, optionally filtered by status, oldest
// first.
func (s *Store) List(ctx context.Context, stage Stage, status Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE stage = ?`
	args := []any{string(stage)}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY enqueued_at, correlation_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", stage, err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats aggregates job counts and the oldest waiting timestamp for
// every stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]*StageStats, error) {
	stats := make(map[Stage]*StageStats, len(stageOrder))
	for _, stage := range stageOrder {
		paused, err := s.IsPaused(ctx, stage)
		if err != nil {
			return nil, err
		}
		stats[stage] = &StageStats{Stage: stage, Paused: paused}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, status,
            CASE WHEN status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at > ? THEN 1 ELSE 0 END AS delayed,
            COUNT(1), MIN(CASE WHEN status = ? THEN enqueued_at END)
         FROM jobs GROUP BY stage, status, delayed`,
		string(StatusWaiting), now, string(StatusWaiting))
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			stage   string
			status  string
			delayed int
			count   int
			oldest  sql.NullString
		)
		if err := rows.Scan(&stage, &status, &delayed, &count, &oldest); err != nil {
			return nil, err
		}
		entry, ok := stats[Stage(stage)]
		if !ok {
			continue
		}
		switch Status(status) {
		case StatusWaiting:
			if delayed != 0 {
				entry.Delayed += count
			} else {
				entry.Waiting += count
			}
			if oldest.Valid {
				if t, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
					if entry.OldestWaiting == nil || t.Before(*entry.OldestWaiting) {
						entry.OldestWaiting = &t
					}
				}
			}
		case StatusRunning:
			entry.Running = count
		case StatusCompleted:
			entry.Completed = count
		case StatusFailed:
			entry.Failed = count
		}
	}
	return stats, rows.Err()
}

// RetryFailed resets every failed job in a stage back to waiting.
func (s *Store) RetryFailed(ctx context.Context, stage Stage) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
         SET status = ?, retry_count = 0, last_error = NULL, next_attempt_at = NULL, updated_at = ?
         WHERE stage = ? AND status = ?`,
		string(StatusWaiting), time.Now().UTC().Format(time.RFC3339Nano),
		string(stage), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("retry failed %s jobs: %w", stage, err)
	}
	return res.RowsAffected()
}

// Remove deletes one job.
func (s *Store) Remove(ctx context.Context, stage Stage, correlationID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE stage = ? AND correlation_id = ?`,
		string(stage), correlationID)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

// ClearCompleted deletes completed jobs, for all stages when stage is
// empty.
func (s *Store) ClearCompleted(ctx context.Context, stage Stage) (int64, error) {
	query := `DELETE FROM jobs WHERE status = ?`
	args := []any{string(StatusCompleted)}
	if stage != "" {
		query += " AND stage = ?"
		args = append(args, string(stage))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear completed jobs: %w", err)
	}
	return res.RowsAffected()
}

// Pause stops workers from claiming jobs for a stage. Pending jobs stay
// queued.
func (s *Store) Pause(ctx context.Context, stage Stage) error {
	return s.setPaused(ctx, stage, true)
}

// Resume reverses Pause.
func (s *Store) Resume(ctx context.Context, stage Stage) error {
	return s.setPaused(ctx, stage, false)
}

// IsPaused reports whether a stage is paused.
func (s *Store) IsPaused(ctx context.Context, stage Stage) (bool, error) {
	var paused int
	err := s.db.QueryRowContext(ctx,
		`SELECT paused FROM stage_control WHERE stage = ?`, string(stage)).Scan(&paused)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read stage control: %w", err)
	}
	return paused != 0, nil
}

// ResetStuckRunning returns jobs left running by a crashed process to
// waiting. Called once at startup before workers spin up.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		string(StatusWaiting), time.Now().UTC().Format(time.RFC3339Nano),
		string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	reset, err := res.RowsAffected()
	if err == nil && reset > 0 {
		s.logger.Info("reset stuck running jobs", logging.Int64("count", reset))
	}
	return reset, err
}

func (s *Store) setStatus(ctx context.Context, stage Stage, correlationID string, status Status, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ?
         WHERE stage = ? AND correlation_id = ?`,
		string(status), storage.NullableString(lastError),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(stage), correlationID)
	if err != nil {
		return fmt.Errorf("mark %s job %s: %w", stage, status, err)
	}
	return nil
}

func (s *Store) setPaused(ctx context.Context, stage Stage, paused bool) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_control (stage, paused) VALUES (?, ?)
         ON CONFLICT (stage) DO UPDATE SET paused = excluded.paused`,
		string(stage), storage.BoolToInt(paused))
	if err != nil {
		return fmt.Errorf("set stage control: %w", err)
	}
	return nil
}

const jobColumns = `stage, correlation_id, payload, status, retry_count,
    last_error, enqueued_at, updated_at, next_attempt_at`

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job         Job
		payload     sql.NullString
		lastError   sql.NullString
		enqueuedRaw string
		updatedRaw  string
		nextRaw     sql.NullString
	)
	err := scanner.Scan(&job.Stage, &job.CorrelationID, &payload, &job.Status,
		&job.RetryCount, &lastError, &enqueuedRaw, &updatedRaw, &nextRaw)
	if err != nil {
		return nil, err
	}
	job.Payload = payload.String
	job.LastError = lastError.String
	if t, err := time.Parse(time.RFC3339Nano, enqueuedRaw); err == nil {
		job.EnqueuedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedRaw); err == nil {
		job.UpdatedAt = t
	}
	if nextRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRaw.String); err == nil {
			job.NextAttemptAt = &t
		}
	}
	return &job, nil
}
