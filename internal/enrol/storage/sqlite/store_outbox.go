package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/platform/id"
)

const (
	outboxDeadLetterThreshold = 8
	outboxProcessingLease     = 2 * time.Minute
)

type outboxRow struct {
	Job          domain.NotificationJob
	AttemptCount int
}

// OutboxSummary reports queue depth by status.
type OutboxSummary struct {
	PendingCount    int
	ProcessingCount int
	FailedCount     int
	DeadCount       int
}

// Enqueue appends one notification job to the outbox. The queue delivers
// at least once; a job already enqueued under the same id is left alone.
func (s *Store) Enqueue(ctx context.Context, job domain.NotificationJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(job.ID) == "" {
		generated, err := id.NewID()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		job.ID = generated
	}

	now := toMillis(s.now())
	const enqueueSQL = `
INSERT INTO notification_outbox (
    id, rule_id, user_id, target_unit_id, source_unit_id, status, attempt_count, next_attempt_at, last_error, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, '', ?, ?)
ON CONFLICT(id) DO NOTHING
`
	if _, err := s.sqlDB.ExecContext(ctx, enqueueSQL,
		job.ID,
		job.RuleID,
		job.UserID,
		job.TargetUnitID,
		job.SourceUnitID,
		now,
		now,
		now,
	); err != nil {
		return fmt.Errorf("enqueue notification job: %w", err)
	}
	return nil
}

// GetOutboxSummary returns queue depth by status.
func (s *Store) GetOutboxSummary(ctx context.Context) (OutboxSummary, error) {
	if err := ctx.Err(); err != nil {
		return OutboxSummary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return OutboxSummary{}, fmt.Errorf("storage is not configured")
	}

	summary := OutboxSummary{}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notification_outbox GROUP BY status`,
	)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("query outbox summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return OutboxSummary{}, fmt.Errorf("scan outbox summary count: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(status)) {
		case "pending":
			summary.PendingCount = count
		case "processing":
			summary.ProcessingCount = count
		case "failed":
			summary.FailedCount = count
		case "dead":
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return OutboxSummary{}, fmt.Errorf("iterate outbox summary counts: %w", err)
	}
	return summary, nil
}

// ProcessOutbox claims up to limit due jobs and executes them through the
// callback, returning the number of jobs completed. A failing callback
// schedules a retry with exponential backoff and does not count toward the
// result; after too many attempts the job is parked as dead. Jobs stuck in
// processing past the lease are reclaimed, so delivery is at-least-once.
func (s *Store) ProcessOutbox(
	ctx context.Context,
	now time.Time,
	limit int,
	execute func(context.Context, domain.NotificationJob) error,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if execute == nil {
		return 0, fmt.Errorf("outbox execute callback is required")
	}
	if limit <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows, err := s.claimOutboxDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, row := range rows {
		if execErr := execute(ctx, row.Job); execErr != nil {
			attempt := row.AttemptCount + 1
			nextAttempt := now.Add(outboxRetryBackoff(attempt))
			if err := s.markOutboxRetry(ctx, row.Job.ID, now, attempt, nextAttempt, execErr.Error()); err != nil {
				return delivered, err
			}
			continue
		}

		if err := s.completeOutboxRow(ctx, row.Job.ID); err != nil {
			return delivered, err
		}
		delivered++
	}

	return delivered, nil
}

func (s *Store) claimOutboxDue(ctx context.Context, now time.Time, limit int) ([]outboxRow, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-outboxProcessingLease)
	rows, err := tx.QueryContext(ctx,
		`SELECT id, rule_id, user_id, target_unit_id, source_unit_id, attempt_count
		 FROM notification_outbox
		 WHERE (
			 status IN ('pending', 'failed') AND next_attempt_at <= ?
		 ) OR (
			 status = 'processing' AND updated_at <= ?
		 )
		 ORDER BY next_attempt_at, id
		 LIMIT ?`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox rows: %w", err)
	}
	defer rows.Close()

	candidates := make([]outboxRow, 0, limit)
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(
			&row.Job.ID,
			&row.Job.RuleID,
			&row.Job.UserID,
			&row.Job.TargetUnitID,
			&row.Job.SourceUnitID,
			&row.AttemptCount,
		); err != nil {
			return nil, fmt.Errorf("scan due outbox row: %w", err)
		}
		candidates = append(candidates, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due outbox rows: %w", err)
	}

	claimed := make([]outboxRow, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(ctx,
			`UPDATE notification_outbox
			 SET status = 'processing', updated_at = ?
			 WHERE id = ?
			   AND (
			   	(status IN ('pending', 'failed') AND next_attempt_at <= ?)
			   	OR (status = 'processing' AND updated_at <= ?)
			   )`,
			toMillis(now),
			candidate.Job.ID,
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %s: %w", candidate.Job.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim outbox row rows affected %s: %w", candidate.Job.ID, err)
		}
		if affected == 1 {
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim tx: %w", err)
	}
	return claimed, nil
}

func (s *Store) markOutboxRetry(ctx context.Context, jobID string, now time.Time, attempt int, nextAttempt time.Time, lastError string) error {
	status := "failed"
	if attempt >= outboxDeadLetterThreshold {
		status = "dead"
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE notification_outbox
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_error = ?,
		     updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		status,
		attempt,
		toMillis(nextAttempt),
		lastError,
		toMillis(now),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry for job %s: %w", jobID, err)
	}
	return ensureOutboxSingleRow(result, jobID, "mark outbox retry for job", "updated")
}

func (s *Store) completeOutboxRow(ctx context.Context, jobID string) error {
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM notification_outbox WHERE id = ? AND status = 'processing'`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("complete outbox row %s: %w", jobID, err)
	}
	return ensureOutboxSingleRow(result, jobID, "complete outbox row", "deleted")
}

func ensureOutboxSingleRow(result sql.Result, jobID, operation, verb string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected %s: %w", operation, jobID, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s: expected 1 row %s, got %d", operation, jobID, verb, affected)
	}
	return nil
}

func outboxRetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := time.Second << (attempt - 1)
	if backoff > 5*time.Minute {
		return 5 * time.Minute
	}
	return backoff
}
