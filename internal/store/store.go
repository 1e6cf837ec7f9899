// Package store provides storage backends for IntakePipe.
//
// It includes an in-memory store for conversations and inbound dedup records,
// plus SQLite and PostgreSQL stores that additionally keep the durable
// outbox and job tables.
package store

import (
	"context"
	"errors"
	"strings"
)

// Store errors.
var (
	ErrDuplicateConversation = errors.New("conversation already exists for phone")
	ErrConversationNotFound  = errors.New("conversation not found")
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // database connection string or file path
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Store is the full set of operations the intake pipeline needs from storage.
type Store interface {
	ConversationRepo
	DedupRepo
	Ping(ctx context.Context) error
	Close() error
}

// DurableStore is a Store that also persists outbox messages and jobs.
type DurableStore interface {
	Store
	OutboxRepo
	JobRepo
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	// key=value style libpq strings
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store matching the DSN type.
func Open(dsn string) (DurableStore, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}
