package decision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestClient_Decide(t *testing.T) {
	var got models.DecisionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ProcessMessagePath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"Olá Ana!","action":"generate_proposal","lead_data":{"business_type":"saude"}}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL))
	ctx := models.ConversationContext{"stage": "greeting", "message_count": 2}
	out, err := c.Decide(context.Background(), models.DecisionRequest{
		Message: "quero uma proposta", Phone: "5511999990000", Context: ctx, SenderName: "Ana",
	})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	if got.SenderName != "Ana" || got.Phone != "5511999990000" || got.Message != "quero uma proposta" {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Context.MessageCount() != 2 {
		t.Errorf("expected context forwarded, got %v", got.Context)
	}
	if out.Action != models.ActionGenerateProposal || out.Response != "Olá Ana!" {
		t.Errorf("unexpected decision %+v", out)
	}
	if string(out.LeadData) != `{"business_type":"saude"}` {
		t.Errorf("lead_data not passed through: %s", out.LeadData)
	}
}

func TestClient_DecideNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Decide(context.Background(), models.DecisionRequest{Phone: "1"})
	if !errors.Is(err, ErrDecisionFailed) {
		t.Fatalf("expected ErrDecisionFailed, got %v", err)
	}
	if errors.Is(err, ErrDecisionTimeout) {
		t.Error("non-2xx must not be classified as a timeout")
	}
}

func TestClient_DecideInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).Decide(context.Background(), models.DecisionRequest{Phone: "1"})
	if !errors.Is(err, ErrDecisionFailed) {
		t.Fatalf("expected ErrDecisionFailed, got %v", err)
	}
}

func TestClient_DecideTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := NewClient(WithBaseURL(srv.URL), WithTimeout(100*time.Millisecond)).
		Decide(context.Background(), models.DecisionRequest{Phone: "1"})
	if !errors.Is(err, ErrDecisionTimeout) {
		t.Fatalf("expected ErrDecisionTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout not honored, took %v", elapsed)
	}
}

func TestClient_DecideUnreachable(t *testing.T) {
	_, err := NewClient(WithBaseURL("http://127.0.0.1:1")).Decide(context.Background(), models.DecisionRequest{Phone: "1"})
	if !errors.Is(err, ErrDecisionFailed) {
		t.Fatalf("expected ErrDecisionFailed, got %v", err)
	}
}
