package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/events"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

func newTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "proposal.db")))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func leadRequest(phone string, lead LeadData) models.ProposalRequest {
	raw, _ := json.Marshal(lead)
	return models.ProposalRequest{Phone: phone, LeadData: raw}
}

func TestMapCompanySize(t *testing.T) {
	tests := map[string]string{
		"trabalho sozinho":  SizeSolo,
		"2-5 funcionários":  SizeSmall,
		"6-15 Funcionários": SizeMedium,
		"mais de 15":        SizeLarge,
		"":                  SizeSolo,
		"não sei":           SizeSolo,
	}
	for in, want := range tests {
		if got := MapCompanySize(in); got != want {
			t.Errorf("MapCompanySize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindRule(t *testing.T) {
	rules := DefaultPricingRules()

	r, ok := FindRule(rules, "Saude", "2-5 funcionários")
	if !ok || r.SetupFee != 2997 || r.MonthlyFee != 497 || r.ImplementationDays != 10 {
		t.Errorf("unexpected rule for saude/pequena: %+v", r)
	}

	// No media rule exists, so the sozinho rule is used.
	r, ok = FindRule(rules, "imobiliaria", "6-15 funcionários")
	if !ok || r.CompanySize != SizeSolo || r.SetupFee != 2297 {
		t.Errorf("expected sozinho fallback, got %+v", r)
	}

	if _, ok := FindRule(rules, "industria", "sozinho"); ok {
		t.Error("expected no rule for unknown business type")
	}
}

func TestCalculateROI(t *testing.T) {
	rule, _ := FindRule(DefaultPricingRules(), "saude", "sozinho")
	roi := CalculateROI(rule, "saude", "sozinho")
	if roi.CurrentMonthlyRevenue != 15000 {
		t.Errorf("expected base revenue 15000, got %v", roi.CurrentMonthlyRevenue)
	}
	if roi.ProjectedIncreaseMonthly != 3500 {
		t.Errorf("expected monthly increase 3500, got %v", roi.ProjectedIncreaseMonthly)
	}
	if roi.TotalInvestmentYear != 5561 {
		t.Errorf("expected investment 5561, got %v", roi.TotalInvestmentYear)
	}
	// 42000 / 5561 * 100 = 755.26
	if roi.ROIPercentage != 755 {
		t.Errorf("expected ROI 755, got %d", roi.ROIPercentage)
	}
	if roi.PaybackMonths != 3 {
		t.Errorf("expected payback 3, got %d", roi.PaybackMonths)
	}

	// Unknown size bucket uses the default base revenue.
	big := CalculateROI(rule, "saude", "mais de 15")
	if big.CurrentMonthlyRevenue != defaultBaseRevenue {
		t.Errorf("expected default base revenue, got %v", big.CurrentMonthlyRevenue)
	}
}

func TestFormatBRL(t *testing.T) {
	tests := map[float64]string{
		0:           "R$ 0,00",
		297:         "R$ 297,00",
		1997:        "R$ 1.997,00",
		5561.5:      "R$ 5.561,50",
		1234567.891: "R$ 1.234.567,89",
	}
	for in, want := range tests {
		if got := FormatBRL(in); got != want {
			t.Errorf("FormatBRL(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLead(t *testing.T) {
	lead, err := ParseLead(leadRequest("5511999990000", LeadData{BusinessType: "saude", Phone: "other"}))
	if err != nil {
		t.Fatalf("ParseLead failed: %v", err)
	}
	if lead.Phone != "5511999990000" {
		t.Errorf("request phone must win, got %q", lead.Phone)
	}
	if lead.Name != models.DefaultSenderName {
		t.Errorf("expected default name, got %q", lead.Name)
	}

	if _, err := ParseLead(models.ProposalRequest{Phone: "1"}); !errors.Is(err, ErrInvalidLead) {
		t.Errorf("expected ErrInvalidLead for missing business type, got %v", err)
	}
	if _, err := ParseLead(leadRequest("", LeadData{BusinessType: "saude"})); !errors.Is(err, ErrInvalidLead) {
		t.Errorf("expected ErrInvalidLead for missing phone, got %v", err)
	}
	if _, err := ParseLead(models.ProposalRequest{Phone: "1", LeadData: []byte(`[1,2]`)}); !errors.Is(err, ErrInvalidLead) {
		t.Errorf("expected ErrInvalidLead for non-object lead data, got %v", err)
	}
}

func TestGenerator_GenerateSendsSummary(t *testing.T) {
	sender := messaging.NewMockSender()
	pub := &events.RecordingPublisher{}
	g := NewGenerator(WithSender(sender), WithPublisher(pub), WithFollowUps(nil))

	p, err := g.Generate(context.Background(), leadRequest("5579999999999", LeadData{
		Name: "Dr. João Silva", BusinessType: "saude", CompanySize: "sozinho", MainChallenge: "Muitos no-shows",
	}))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !strings.HasPrefix(p.ID, "prop_") || p.LeadID == "" {
		t.Errorf("expected ids to be assigned, got %q / %q", p.ID, p.LeadID)
	}
	if p.TotalFirstYear != 5561 {
		t.Errorf("expected total first year 5561, got %v", p.TotalFirstYear)
	}
	if len(p.CaseStudies) != 2 {
		t.Errorf("expected 2 saude case studies, got %d", len(p.CaseStudies))
	}
	if p.Delivery != DeliverySent {
		t.Errorf("expected delivery sent, got %q", p.Delivery)
	}

	sent := sender.Messages()
	if len(sent) != 1 || sent[0].Phone != "5579999999999" {
		t.Fatalf("unexpected sent texts %+v", sent)
	}
	for _, want := range []string{"Dr. João Silva", "R$ 1.997,00", "R$ 297,00", "ROI: 755%", "Payback: 3 meses"} {
		if !strings.Contains(sent[0].Text, want) {
			t.Errorf("summary missing %q:\n%s", want, sent[0].Text)
		}
	}
	if got := pub.Subjects(); len(got) != 1 || got[0] != events.SubjectProposalGenerated {
		t.Errorf("unexpected events %v", got)
	}
}

func TestGenerator_RepeatedIdempotencyKey(t *testing.T) {
	sender := messaging.NewMockSender()
	g := NewGenerator(WithSender(sender), WithFollowUps(nil))
	req := leadRequest("5579999999999", LeadData{Name: "Ana", BusinessType: "saude", CompanySize: "sozinho"})
	req.IdempotencyKey = "MSG-1"

	first, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}
	second, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("retried Generate failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the earlier proposal %s, got %s", first.ID, second.ID)
	}
	if n := len(sender.Messages()); n != 1 {
		t.Errorf("expected one summary for a repeated key, got %d", n)
	}

	req.IdempotencyKey = "MSG-2"
	third, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate with a new key failed: %v", err)
	}
	if third.ID == first.ID || len(sender.Messages()) != 2 {
		t.Error("expected a new key to issue a new proposal")
	}
}

func TestGenerator_UnknownBusiness(t *testing.T) {
	sender := messaging.NewMockSender()
	g := NewGenerator(WithSender(sender))
	_, err := g.Generate(context.Background(), leadRequest("5511", LeadData{BusinessType: "industria"}))
	if !errors.Is(err, ErrNoPricingRule) {
		t.Fatalf("expected ErrNoPricingRule, got %v", err)
	}
	if len(sender.Messages()) != 0 {
		t.Error("no summary must be sent for an unpriced lead")
	}
}

func TestGenerator_QueuesSummaryAndFollowUps(t *testing.T) {
	s := newTestSQLiteStore(t)
	sender := messaging.NewMockSender()
	sender.SetErr(errors.New("gateway down"))
	g := NewGenerator(WithSender(sender), WithOutbox(s), WithJobs(s))
	ctx := context.Background()

	p, err := g.Generate(ctx, leadRequest("5511988887777", LeadData{Name: "Ana", BusinessType: "comercio", CompanySize: "2-5 funcionários"}))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if p.Delivery != DeliveryQueued {
		t.Errorf("expected delivery queued, got %q", p.Delivery)
	}

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("ClaimDueOutboxMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Phone != "5511988887777" || msgs[0].Kind != messaging.OutboxKindReply {
		t.Errorf("unexpected outbox contents %+v", msgs)
	}

	// Follow-ups are due 1 to 14 days from now.
	due, err := s.ClaimDueJobs(ctx, time.Now().Add(15*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(due) != len(DefaultFollowUps) {
		t.Fatalf("expected %d follow-up jobs, got %d", len(DefaultFollowUps), len(due))
	}
	for _, j := range due {
		if j.Kind != JobKindFollowUp {
			t.Errorf("unexpected job kind %q", j.Kind)
		}
	}

	sender.SetErr(nil)
	if err := NewFollowUpJobHandler(sender)(ctx, due[0].PayloadJSON); err != nil {
		t.Fatalf("follow-up handler failed: %v", err)
	}
	sent := sender.Messages()
	if len(sent) != 1 || !strings.Contains(sent[0].Text, "Ana") {
		t.Errorf("unexpected follow-up %+v", sent)
	}
}

func TestClient_Request(t *testing.T) {
	var got models.ProposalRequest
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != GeneratePath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		header = r.Header.Get(IdempotencyHeader)
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	req := models.ProposalRequest{Phone: "5511", LeadData: json.RawMessage(`{"business_type":"saude"}`), IdempotencyKey: "MSG-9"}
	if err := c.Request(context.Background(), req); err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if got.Phone != "5511" || string(got.LeadData) != `{"business_type":"saude"}` {
		t.Errorf("unexpected request body %+v", got)
	}
	if got.IdempotencyKey != "MSG-9" || header != "MSG-9" {
		t.Errorf("expected idempotency key in body and header, got %q / %q", got.IdempotencyKey, header)
	}
}

func TestClient_RequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL, time.Second).Request(context.Background(), models.ProposalRequest{Phone: "1"}); err == nil {
		t.Fatal("expected error for 422 answer")
	}
}

type countingRequester struct {
	calls int32
	err   error
}

func (c *countingRequester) Request(ctx context.Context, req models.ProposalRequest) error {
	atomic.AddInt32(&c.calls, 1)
	return c.err
}

func TestRetryJobHandler(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	req := models.ProposalRequest{Phone: "5511", LeadData: json.RawMessage(`{"business_type":"saude"}`)}
	if _, err := EnqueueRetry(ctx, s, req, "proposal:m1"); err != nil {
		t.Fatalf("EnqueueRetry failed: %v", err)
	}
	jobs, err := s.ClaimDueJobs(ctx, time.Now().Add(time.Second), 10)
	if err != nil || len(jobs) != 1 || jobs[0].Kind != JobKindRetry {
		t.Fatalf("unexpected jobs %+v, err %v", jobs, err)
	}

	r := &countingRequester{}
	if err := NewRetryJobHandler(r)(ctx, jobs[0].PayloadJSON); err != nil {
		t.Fatalf("retry handler failed: %v", err)
	}
	if r.calls != 1 {
		t.Errorf("expected 1 replay, got %d", r.calls)
	}
	if err := NewRetryJobHandler(r)(ctx, "not json"); err == nil {
		t.Error("expected error for invalid payload")
	}
}
