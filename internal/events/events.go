// Package events publishes intake lifecycle events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding all intake events.
	StreamName = "INTAKE"
	// SubjectPrefix is the prefix of every intake subject.
	SubjectPrefix = "intake"
)

// Subjects published by the pipeline and the proposal generator.
const (
	SubjectConversationCreated = SubjectPrefix + ".conversation.created"
	SubjectConversationUpdated = SubjectPrefix + ".conversation.updated"
	SubjectProposalRequested   = SubjectPrefix + ".proposal.requested"
	SubjectProposalGenerated   = SubjectPrefix + ".proposal.generated"
)

// Event is the JSON body of every published message.
type Event struct {
	Subject        string    `json:"subject"`
	Phone          string    `json:"phone"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	MessageCount   int64     `json:"message_count,omitempty"`
	ProposalID     string    `json:"proposal_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher emits events. Callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Compile-time check that NopPublisher implements Publisher.
var _ Publisher = NopPublisher{}

func (NopPublisher) Publish(ctx context.Context, evt Event) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// NATSPublisher publishes events to the INTAKE JetStream stream.
type NATSPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// Compile-time check that NATSPublisher implements Publisher.
var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to url and makes sure the stream exists.
func NewNATSPublisher(ctx context.Context, url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("intakepipe"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATSPublisher: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATSPublisher: reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p := &NATSPublisher{conn: nc, js: js}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	slog.Info("NATSPublisher connected", "url", nc.ConnectedUrl(), "stream", StreamName)
	return p, nil
}

func (p *NATSPublisher) ensureStream(ctx context.Context) error {
	if _, err := p.js.Stream(ctx, StreamName); err == nil {
		return nil
	}
	_, err := p.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Conversation intake lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Publish marshals evt and publishes it on evt.Subject.
func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	ack, err := p.js.Publish(ctx, evt.Subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	slog.Debug("NATSPublisher.Publish", "subject", evt.Subject, "phone", evt.Phone, "seq", ack.Sequence)
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

// RecordingPublisher keeps events in memory (for tests).
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []Event
	Err    error
}

// Compile-time check that RecordingPublisher implements Publisher.
var _ Publisher = (*RecordingPublisher)(nil)

func (r *RecordingPublisher) Publish(ctx context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Events = append(r.Events, evt)
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }

// Subjects returns the subjects published so far, in order.
func (r *RecordingPublisher) Subjects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Subject)
	}
	return out
}
