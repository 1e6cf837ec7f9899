package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Compile-time check that SQLiteStore implements ConversationRepo.
var _ ConversationRepo = (*SQLiteStore)(nil)

const conversationColumns = `id, phone, name, status, context, created_at, updated_at`

func (s *SQLiteStore) FindConversations(ctx context.Context, phone string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE phone = ?`, phone)
	if err != nil {
		return nil, fmt.Errorf("find conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteStore) InsertConversation(ctx context.Context, c models.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Phone, c.Name, c.Status, c.Context, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("insert conversation failed: %w", err)
	}
	slog.Debug("SQLiteStore.InsertConversation", "id", c.ID, "phone", c.Phone)
	return nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, c models.Conversation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET context = ?, updated_at = ? WHERE phone = ?`,
		c.Context, c.UpdatedAt, c.Phone,
	)
	if err != nil {
		return fmt.Errorf("update conversation failed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	slog.Debug("SQLiteStore.UpdateConversation", "phone", c.Phone)
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, phone string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE phone = ?`, phone)
	c, err := scanConversationRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation failed: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations failed: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func isSQLiteUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
