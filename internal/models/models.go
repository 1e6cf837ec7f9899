// Package models defines the core data structures for IntakePipe.
//
// It includes the persisted Conversation record, the normalized inbound
// message, and the request/response bodies exchanged with the decision and
// proposal services. These types are shared across modules.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ConversationStatusActive is the status assigned to every new conversation.
const ConversationStatusActive = "active"

// ActionGenerateProposal is the decision action that triggers proposal generation.
const ActionGenerateProposal = "generate_proposal"

// DefaultSenderName is used when the inbound payload carries no display name.
const DefaultSenderName = "Cliente"

// Message sources understood by the normalizer.
const (
	SourceEvolution = "evolution"
	SourceTwilio    = "twilio"
	SourceWhatsApp  = "whatsapp"
)

// Error variables for better error handling and testability
var (
	ErrIgnoredEvent   = errors.New("event ignored")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrEmptyPhone     = errors.New("phone cannot be empty")
)

// Conversation is the per-phone record persisted in the conversations table.
// Context holds the raw JSON text as stored; use ParseContext to read it.
type Conversation struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Context   string    `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InboundMessage is the normalizer output for a single inbound event.
type InboundMessage struct {
	Phone      string    `json:"phone"`
	Message    string    `json:"message"`
	SenderName string    `json:"sender_name"`
	Timestamp  time.Time `json:"timestamp"`
	MessageID  string    `json:"message_id,omitempty"`
	FromMe     bool      `json:"from_me,omitempty"`
	Source     string    `json:"source,omitempty"`
}

// DecisionRequest is posted to the decision service for every message.
type DecisionRequest struct {
	Message    string              `json:"message"`
	Phone      string              `json:"phone"`
	Context    ConversationContext `json:"context"`
	SenderName string              `json:"sender_name"`
}

// DecisionResponse is what the decision service answers with.
// LeadData is forwarded untouched to the proposal service. ContextUpdates are
// merged into the stored conversation context once the reply went out.
type DecisionResponse struct {
	Response       string              `json:"response"`
	Action         string              `json:"action,omitempty"`
	LeadData       json.RawMessage     `json:"lead_data,omitempty"`
	ContextUpdates ConversationContext `json:"context_updates,omitempty"`
}

// ProposalRequest is posted to the proposal service when the decision asks for it.
// IdempotencyKey is the id of the inbound message that asked for the
// proposal; a retried request carries the same key.
type ProposalRequest struct {
	Phone          string          `json:"phone"`
	LeadData       json.RawMessage `json:"lead_data"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// WebhookStatus is the status field of a webhook result.
type WebhookStatus string

const (
	WebhookStatusSuccess WebhookStatus = "success"
	WebhookStatusIgnored WebhookStatus = "ignored"
	WebhookStatusError   WebhookStatus = "error"
)

// WebhookResult is returned to the caller that triggered the workflow.
type WebhookResult struct {
	Status    WebhookStatus `json:"status"`
	Code      string        `json:"code,omitempty"`
	Message   string        `json:"message"`
	Timestamp string        `json:"timestamp"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
