// Package store provides the ConversationRepo interface for per-phone conversation records.
package store

import (
	"context"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// ConversationRepo defines persistence for the conversations table.
type ConversationRepo interface {
	// FindConversations returns the conversations whose phone equals phone
	// exactly. The phone column is unique, so the slice has zero or one element.
	FindConversations(ctx context.Context, phone string) ([]models.Conversation, error)

	// InsertConversation stores a new conversation. It returns
	// ErrDuplicateConversation when a row for the phone already exists.
	InsertConversation(ctx context.Context, c models.Conversation) error

	// UpdateConversation overwrites context and updated_at for the row matching
	// c.Phone. It returns ErrConversationNotFound when no row matched.
	UpdateConversation(ctx context.Context, c models.Conversation) error

	// GetConversation returns the conversation for phone, or nil when absent.
	GetConversation(ctx context.Context, phone string) (*models.Conversation, error)

	// ListConversations returns conversations ordered by most recent update.
	ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error)
}
