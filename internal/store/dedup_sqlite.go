package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

func (s *SQLiteStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?)`,
		messageID, phone, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ForgetInbound(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inbound_dedup WHERE message_id = ? AND processed_at IS NULL`, messageID)
	if err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}
