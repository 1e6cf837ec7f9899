package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Context keys written by the resolver.
const (
	ContextKeyStage          = "stage"
	ContextKeyMessageCount   = "message_count"
	ContextKeyRecentMessages = "recent_message_ids"
)

// maxRecentMessages bounds the message ids remembered per conversation.
const maxRecentMessages = 16

// InitialStage is the stage of a freshly created conversation.
const InitialStage = "greeting"

// ConversationContext is the free-form state blob kept per conversation.
type ConversationContext map[string]any

// NewContext returns the context of a conversation that has just been created.
func NewContext() ConversationContext {
	return ConversationContext{
		ContextKeyStage:        InitialStage,
		ContextKeyMessageCount: int64(1),
	}
}

// ParseContext decodes stored context text. Empty, malformed or non-object
// input yields an empty context rather than an error.
func ParseContext(raw string) ConversationContext {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ConversationContext{}
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil || out == nil {
		return ConversationContext{}
	}
	return ConversationContext(out)
}

// MessageCount returns the stored message_count, or 0 when it is missing or
// not a number.
func (c ConversationContext) MessageCount() int64 {
	switch v := c[ContextKeyMessageCount].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(math.Trunc(f))
		}
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Trunc(v))
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// Stage returns the stored stage or "" when it is absent.
func (c ConversationContext) Stage() string {
	s, _ := c[ContextKeyStage].(string)
	return s
}

// RecentMessages returns the ids of the last messages counted into
// message_count, oldest first.
func (c ConversationContext) RecentMessages() []string {
	var ids []string
	switch v := c[ContextKeyRecentMessages].(type) {
	case []string:
		ids = append(ids, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
	}
	return ids
}

// Counted reports whether the message id was already counted.
func (c ConversationContext) Counted(messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, id := range c.RecentMessages() {
		if id == messageID {
			return true
		}
	}
	return false
}

// RememberMessage returns a copy of c with messageID appended to the recent
// message ids, dropping the oldest beyond the limit.
func (c ConversationContext) RememberMessage(messageID string) ConversationContext {
	out := make(ConversationContext, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	if messageID == "" {
		return out
	}
	ids := append(c.RecentMessages(), messageID)
	if len(ids) > maxRecentMessages {
		ids = ids[len(ids)-maxRecentMessages:]
	}
	out[ContextKeyRecentMessages] = ids
	return out
}

// Merge returns a copy of c with updates applied on top. message_count and
// recent_message_ids belong to the resolver and are never taken from updates.
// A nil update value removes the key.
func (c ConversationContext) Merge(updates ConversationContext) ConversationContext {
	out := make(ConversationContext, len(c)+len(updates))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range updates {
		switch {
		case k == ContextKeyMessageCount || k == ContextKeyRecentMessages:
			continue
		case v == nil:
			delete(out, k)
		default:
			out[k] = v
		}
	}
	return out
}

// Advance returns a copy of c with message_count incremented. All other keys
// are carried over unchanged.
func (c ConversationContext) Advance() ConversationContext {
	out := make(ConversationContext, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[ContextKeyMessageCount] = c.MessageCount() + 1
	return out
}

// Encode serializes the context for storage.
func (c ConversationContext) Encode() (string, error) {
	if c == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(c))
	if err != nil {
		return "", fmt.Errorf("failed to encode conversation context: %w", err)
	}
	return string(b), nil
}
