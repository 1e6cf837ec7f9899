package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements ConversationRepo.
var _ ConversationRepo = (*PostgresStore)(nil)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func (s *PostgresStore) FindConversations(ctx context.Context, phone string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE phone = $1`, phone)
	if err != nil {
		return nil, fmt.Errorf("find conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *PostgresStore) InsertConversation(ctx context.Context, c models.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Phone, c.Name, c.Status, c.Context, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("insert conversation failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertConversation", "id", c.ID, "phone", c.Phone)
	return nil
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, c models.Conversation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET context = $1, updated_at = $2 WHERE phone = $3`,
		c.Context, c.UpdatedAt, c.Phone,
	)
	if err != nil {
		return fmt.Errorf("update conversation failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	slog.Debug("PostgresStore.UpdateConversation", "phone", c.Phone)
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, phone string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE phone = $1`, phone)
	c, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		limitArg, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}
