package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanConversation(r rowScanner) (models.Conversation, error) {
	var c models.Conversation
	var ctxText sql.NullString
	err := r.Scan(&c.ID, &c.Phone, &c.Name, &c.Status, &ctxText, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.Context = ctxText.String
	return c, nil
}

// scanConversationRow scans a Conversation from a single sql.Row.
// sql.ErrNoRows is returned unwrapped.
func scanConversationRow(row *sql.Row) (models.Conversation, error) {
	return scanConversation(row)
}

func collectConversations(rows *sql.Rows) ([]models.Conversation, error) {
	out := []models.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation rows iteration failed: %w", err)
	}
	return out, nil
}

// scanJob scans a Job from a row. sql.ErrNoRows is returned unwrapped.
func scanJob(r rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := r.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job failed: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows iteration failed: %w", err)
	}
	return jobs, nil
}

// scanOutboxMessage scans an OutboxMessage from a row.
func scanOutboxMessage(r rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := r.Scan(
		&m.ID, &m.Phone, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

func collectOutboxMessages(rows *sql.Rows) ([]OutboxMessage, error) {
	var msgs []OutboxMessage
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message failed: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox rows iteration failed: %w", err)
	}
	return msgs, nil
}
