package events

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestSubjectsUnderStream(t *testing.T) {
	for _, s := range []string{SubjectConversationCreated, SubjectConversationUpdated, SubjectProposalRequested, SubjectProposalGenerated} {
		if !strings.HasPrefix(s, SubjectPrefix+".") {
			t.Errorf("subject %q is not covered by stream subjects %s.>", s, SubjectPrefix)
		}
	}
}

func TestRecordingPublisher(t *testing.T) {
	p := &RecordingPublisher{}
	ctx := context.Background()
	p.Publish(ctx, Event{Subject: SubjectConversationCreated, Phone: "1"})
	p.Publish(ctx, Event{Subject: SubjectConversationUpdated, Phone: "1"})
	got := p.Subjects()
	if len(got) != 2 || got[0] != SubjectConversationCreated || got[1] != SubjectConversationUpdated {
		t.Errorf("unexpected subjects %v", got)
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), Event{Subject: SubjectProposalRequested}); err != nil {
		t.Errorf("NopPublisher.Publish returned %v", err)
	}
}

func TestNATSPublisher(t *testing.T) {
	// Requires a NATS server with JetStream enabled; set NATS_URL.
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("env NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p, err := NewNATSPublisher(ctx, url)
	if err != nil {
		t.Fatalf("NewNATSPublisher failed: %v", err)
	}
	defer p.Close()
	if err := p.Publish(ctx, Event{Subject: SubjectConversationCreated, Phone: "5511999990000", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}
