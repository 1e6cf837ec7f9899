package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that SQLiteStore implements JobRepo.
var _ JobRepo = (*SQLiteStore)(nil)

const jobColumns = `id, kind, run_at, payload_json, status, attempt, max_attempts, last_error, locked_at, dedupe_key, created_at, updated_at`

func (s *SQLiteStore) EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	id := "job_" + uuid.NewString()
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM jobs WHERE dedupe_key = ? AND status NOT IN ('done', 'canceled')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		id, kind, runAt, payloadJSON, DefaultJobMaxAttempts, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

func (s *SQLiteStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim jobs begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs query failed: %w", err)
	}
	jobs, err := collectJobs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range jobs {
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = 'running', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, jobs[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark job running failed: %w", err)
		}
		jobs[i].Status = JobStatusRunning
		jobs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim jobs commit failed: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error {
	now := time.Now()

	var attempt, maxAttempts int
	err := s.db.QueryRowContext(ctx, `SELECT attempt, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempt, &maxAttempts)
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}

	attempt++
	if attempt >= maxAttempts {
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = 'failed', attempt = ?, last_error = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, now, id,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = 'queued', attempt = ?, last_error = ?, run_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
			attempt, errMsg, nextRunAt, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CancelJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'running' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	return &j, nil
}
