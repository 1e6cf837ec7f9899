package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT message_id FROM inbound_dedup WHERE message_id = $1`, messageID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, phone string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ForgetInbound(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inbound_dedup WHERE message_id = $1 AND processed_at IS NULL`, messageID)
	if err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}
