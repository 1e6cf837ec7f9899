package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Compile-time check that SQLiteStore implements OutboxRepo.
var _ OutboxRepo = (*SQLiteStore)(nil)

const outboxColumns = `id, phone, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

func (s *SQLiteStore) EnqueueOutboxMessage(ctx context.Context, phone, kind, payloadJSON, dedupeKey string) (string, error) {
	id := "outbox_" + uuid.NewString()
	now := time.Now()

	if dedupeKey != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM outbox_messages WHERE dedupe_key = ? AND status NOT IN ('sent', 'canceled')`,
			dedupeKey,
		).Scan(&existingID)
		if err == nil {
			slog.Debug("SQLiteStore.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox_messages (id, phone, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?)`,
		id, phone, kind, payloadJSON, nilIfEmpty(dedupeKey), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueOutboxMessage", "id", id, "phone", phone, "kind", kind)
	return id, nil
}

func (s *SQLiteStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim outbox begin failed: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+outboxColumns+`
		 FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	msgs, err := collectOutboxMessages(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		_, err := tx.ExecContext(ctx,
			`UPDATE outbox_messages SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, msgs[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim outbox commit failed: %w", err)
	}
	return msgs, nil
}

func (s *SQLiteStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'queued', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		errMsg, nextAttemptAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

// GetOutboxMessage retrieves a single outbox message by ID, or nil when absent.
func (s *SQLiteStore) GetOutboxMessage(ctx context.Context, id string) (*OutboxMessage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_messages WHERE id = ?`, id)
	m, err := scanOutboxMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox message failed: %w", err)
	}
	return &m, nil
}
