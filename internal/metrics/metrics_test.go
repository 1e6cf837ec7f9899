package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(MessagesTotal.WithLabelValues("success"))
	RecordOutcome("success")
	RecordOutcome("success")
	if got := testutil.ToFloat64(MessagesTotal.WithLabelValues("success")); got != before+2 {
		t.Errorf("expected %v, got %v", before+2, got)
	}
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("POST", "/webhook/whatsapp", "200"))
	RecordRequest(http.MethodPost, "/webhook/whatsapp", http.StatusOK, 12*time.Millisecond)
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("POST", "/webhook/whatsapp", "200")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}

func TestRecordDecisionAndProposal(t *testing.T) {
	RecordDecision("ok")
	RecordProposal("failed")
	RecordReply("queued")
	ObserveStep("delegating", time.Second)
	if got := testutil.ToFloat64(DecisionRequestsTotal.WithLabelValues("ok")); got < 1 {
		t.Errorf("decision counter not incremented: %v", got)
	}
	if got := testutil.ToFloat64(ProposalsTotal.WithLabelValues("failed")); got < 1 {
		t.Errorf("proposal counter not incremented: %v", got)
	}
}

func TestRecordJob(t *testing.T) {
	before := testutil.ToFloat64(JobsTotal.WithLabelValues("proposal_generate", "retried"))
	RecordJob("proposal_generate", "retried")
	if got := testutil.ToFloat64(JobsTotal.WithLabelValues("proposal_generate", "retried")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
