// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Phone       string     `json:"phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
type DedupRepo interface {
	// IsDuplicate checks if a message ID has already been recorded.
	IsDuplicate(ctx context.Context, messageID string) (bool, error)

	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, phone string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error

	// ForgetInbound removes an unprocessed record so a redelivery is accepted.
	ForgetInbound(ctx context.Context, messageID string) error
}
