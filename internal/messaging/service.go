// Package messaging delivers reply texts through the configured WhatsApp gateway.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/BTreeMap/IntakePipe/internal/store"
)

// OutboxKindReply marks outbox rows holding a reply text for a lead.
const OutboxKindReply = "reply"

var (
	// ErrEmptyRecipient is returned when no phone number was given.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	// ErrEmptyText is returned when the reply text is empty.
	ErrEmptyText = errors.New("message text cannot be empty")
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Sender delivers a text to a phone number through a messaging gateway.
type Sender interface {
	SendText(ctx context.Context, phone, text string) error
}

// StateReporter is implemented by gateways that can report session state.
type StateReporter interface {
	ConnectionState(ctx context.Context) (string, error)
}

// GatewayError is returned when the gateway answered with a non-2xx status.
type GatewayError struct {
	Gateway string
	Status  int
	Body    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway error (status %d): %s", e.Gateway, e.Status, e.Body)
}

// CanonicalizePhone removes all non-numeric characters and requires at least 6 digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging.CanonicalizePhone: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// ReplyPayload is the outbox payload of a queued reply.
type ReplyPayload struct {
	Text string `json:"text"`
}

// EnqueueReply queues text for a later retry through the outbox.
func EnqueueReply(ctx context.Context, repo store.OutboxRepo, phone, text, dedupeKey string) (string, error) {
	payload, err := json.Marshal(ReplyPayload{Text: text})
	if err != nil {
		return "", fmt.Errorf("failed to marshal reply payload: %w", err)
	}
	id, err := repo.EnqueueOutboxMessage(ctx, phone, OutboxKindReply, string(payload), dedupeKey)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue reply: %w", err)
	}
	slog.Debug("messaging.EnqueueReply: reply queued", "id", id, "phone", phone)
	return id, nil
}

// NewOutboxSendFunc returns the OutboxSender callback that delivers queued replies through sender.
func NewOutboxSendFunc(sender Sender) store.OutboxSendFunc {
	return func(ctx context.Context, msg store.OutboxMessage) error {
		if msg.Kind != OutboxKindReply {
			return fmt.Errorf("unsupported outbox kind %q", msg.Kind)
		}
		var p ReplyPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("invalid reply payload: %w", err)
		}
		return sender.SendText(ctx, msg.Phone, p.Text)
	}
}
