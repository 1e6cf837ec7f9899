// Package proposal prices and delivers commercial proposals for qualified leads.
//
// Generator holds the local pricing rules and sends the proposal summary to
// the lead over WhatsApp. Client calls a remote proposal endpoint with the
// same request body.
package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/events"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/google/uuid"
)

var (
	// ErrInvalidLead is returned when the lead has no phone or business type.
	ErrInvalidLead = errors.New("invalid lead data")
	// ErrNoPricingRule is returned when no pricing rule covers the business type.
	ErrNoPricingRule = errors.New("pricing rule not found")
)

// LeadData is the lead profile collected during the conversation.
type LeadData struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name"`
	Phone         string `json:"phone,omitempty"`
	BusinessType  string `json:"business_type"`
	CompanySize   string `json:"company_size"`
	MainChallenge string `json:"main_challenge,omitempty"`
}

// Proposal is a generated offer.
type Proposal struct {
	ID                 string      `json:"proposal_id"`
	LeadID             string      `json:"lead_id"`
	Phone              string      `json:"phone"`
	ClientName         string      `json:"client_name"`
	BusinessType       string      `json:"business_type"`
	CompanySize        string      `json:"company_size"`
	MainChallenge      string      `json:"main_challenge,omitempty"`
	SetupFee           float64     `json:"setup_fee"`
	MonthlyFee         float64     `json:"monthly_fee"`
	TotalFirstYear     float64     `json:"total_first_year"`
	ImplementationDays int         `json:"implementation_days"`
	Features           []string    `json:"features"`
	ROI                ROI         `json:"roi"`
	CaseStudies        []CaseStudy `json:"case_studies,omitempty"`
	Delivery           string      `json:"delivery"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Delivery outcomes of the WhatsApp summary.
const (
	DeliverySent    = "sent"
	DeliveryQueued  = "queued"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// FollowUp is one reminder sent after a proposal.
type FollowUp struct {
	After   time.Duration
	Message string
}

// DefaultFollowUps is sent 1, 3, 7 and 14 days after a proposal.
var DefaultFollowUps = []FollowUp{
	{After: 24 * time.Hour, Message: "Oi %s! Conseguiu ver a proposta que te enviei ontem? Posso esclarecer qualquer dúvida. 😊"},
	{After: 3 * 24 * time.Hour, Message: "%s, passando para lembrar que sua proposta da Crânios continua disponível. Quer conversar sobre ela?"},
	{After: 7 * 24 * time.Hour, Message: "Olá %s! Ainda temos vagas de implementação este mês. Posso reservar a sua?"},
	{After: 14 * 24 * time.Hour, Message: "%s, esta é minha última mensagem sobre a proposta. Se quiser retomar, é só responder por aqui!"},
}

// Opts holds configuration for the Generator.
type Opts struct {
	Rules     []PricingRule
	Sender    messaging.Sender
	Outbox    store.OutboxRepo
	Jobs      store.JobRepo
	Publisher events.Publisher
	FollowUps []FollowUp
}

// Option defines a configuration option for the Generator.
type Option func(*Opts)

// WithRules replaces the default price table.
func WithRules(rules []PricingRule) Option {
	return func(o *Opts) { o.Rules = rules }
}

// WithSender sets the gateway used for the WhatsApp summary.
func WithSender(s messaging.Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithOutbox queues summaries that could not be sent right away.
func WithOutbox(repo store.OutboxRepo) Option {
	return func(o *Opts) { o.Outbox = repo }
}

// WithJobs schedules follow-up reminders as durable jobs.
func WithJobs(repo store.JobRepo) Option {
	return func(o *Opts) { o.Jobs = repo }
}

// WithPublisher emits intake.proposal.generated events.
func WithPublisher(p events.Publisher) Option {
	return func(o *Opts) { o.Publisher = p }
}

// WithFollowUps replaces the follow-up schedule. An empty list disables follow-ups.
func WithFollowUps(f []FollowUp) Option {
	return func(o *Opts) { o.FollowUps = f }
}

// maxIssued bounds the idempotency keys a Generator remembers.
const maxIssued = 1024

// Generator prices leads and delivers proposals. A request whose
// idempotency key was already served returns the earlier proposal.
type Generator struct {
	mu          sync.Mutex
	issued      map[string]*Proposal
	issuedOrder []string

	rules     []PricingRule
	sender    messaging.Sender
	outbox    store.OutboxRepo
	jobs      store.JobRepo
	publisher events.Publisher
	followUps []FollowUp
	now       func() time.Time
}

// Compile-time check that Generator implements Requester.
var _ Requester = (*Generator)(nil)

// NewGenerator creates a Generator with the default price table.
func NewGenerator(opts ...Option) *Generator {
	cfg := Opts{Rules: DefaultPricingRules(), FollowUps: DefaultFollowUps}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	return &Generator{
		rules:     cfg.Rules,
		sender:    cfg.Sender,
		outbox:    cfg.Outbox,
		jobs:      cfg.Jobs,
		publisher: cfg.Publisher,
		followUps: cfg.FollowUps,
		now:       time.Now,
		issued:    make(map[string]*Proposal),
	}
}

// ParseLead decodes req.LeadData. The request phone wins over a phone inside the lead data.
func ParseLead(req models.ProposalRequest) (LeadData, error) {
	var lead LeadData
	if raw := strings.TrimSpace(string(req.LeadData)); raw != "" && raw != "null" {
		if err := json.Unmarshal(req.LeadData, &lead); err != nil {
			return lead, fmt.Errorf("%w: %w", ErrInvalidLead, err)
		}
	}
	if req.Phone != "" {
		lead.Phone = req.Phone
	}
	if lead.Phone == "" {
		return lead, fmt.Errorf("%w: phone is required", ErrInvalidLead)
	}
	if strings.TrimSpace(lead.BusinessType) == "" {
		return lead, fmt.Errorf("%w: business_type is required", ErrInvalidLead)
	}
	if lead.Name == "" {
		lead.Name = models.DefaultSenderName
	}
	return lead, nil
}

// Request generates a proposal and discards it.
func (g *Generator) Request(ctx context.Context, req models.ProposalRequest) error {
	_, err := g.Generate(ctx, req)
	return err
}

// Generate prices the lead, sends the summary and schedules follow-ups.
// Delivery problems are recorded on the proposal and do not fail the call.
func (g *Generator) Generate(ctx context.Context, req models.ProposalRequest) (*Proposal, error) {
	if p := g.lookupIssued(req.IdempotencyKey); p != nil {
		slog.Info("Generator.Generate: proposal already issued", "proposal_id", p.ID, "idempotency_key", req.IdempotencyKey)
		return p, nil
	}
	lead, err := ParseLead(req)
	if err != nil {
		return nil, err
	}
	rule, ok := FindRule(g.rules, lead.BusinessType, lead.CompanySize)
	if !ok {
		return nil, fmt.Errorf("%w: business_type %q", ErrNoPricingRule, lead.BusinessType)
	}

	start := g.now()
	leadID := lead.ID
	if leadID == "" {
		leadID = uuid.NewString()
	}
	p := &Proposal{
		ID:                 "prop_" + uuid.NewString(),
		LeadID:             leadID,
		Phone:              lead.Phone,
		ClientName:         lead.Name,
		BusinessType:       rule.BusinessType,
		CompanySize:        rule.CompanySize,
		MainChallenge:      lead.MainChallenge,
		SetupFee:           rule.SetupFee,
		MonthlyFee:         rule.MonthlyFee,
		TotalFirstYear:     TotalFirstYear(rule),
		ImplementationDays: rule.ImplementationDays,
		Features:           rule.Features,
		ROI:                CalculateROI(rule, lead.BusinessType, lead.CompanySize),
		CaseStudies:        CaseStudiesFor(rule.BusinessType),
		CreatedAt:          start.UTC(),
	}
	slog.Info("Generator.Generate: proposal priced", "proposal_id", p.ID, "phone", p.Phone, "business_type", p.BusinessType, "company_size", p.CompanySize, "total_first_year", p.TotalFirstYear)

	if earlier, dup := g.remember(req.IdempotencyKey, p); dup {
		return earlier, nil
	}
	p.Delivery = g.deliver(ctx, p)
	g.scheduleFollowUps(ctx, p, start)

	evt := events.Event{Subject: events.SubjectProposalGenerated, Phone: p.Phone, ProposalID: p.ID, Timestamp: p.CreatedAt}
	if err := g.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("Generator.Generate: publish failed", "error", err, "proposal_id", p.ID)
	}
	return p, nil
}

func (g *Generator) lookupIssued(key string) *Proposal {
	if key == "" {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued[key]
}

// remember records p under key. When a concurrent request with the same key
// got there first, that proposal is returned with dup set.
func (g *Generator) remember(key string, p *Proposal) (*Proposal, bool) {
	if key == "" {
		return p, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if earlier, ok := g.issued[key]; ok {
		return earlier, true
	}
	g.issued[key] = p
	g.issuedOrder = append(g.issuedOrder, key)
	if len(g.issuedOrder) > maxIssued {
		delete(g.issued, g.issuedOrder[0])
		g.issuedOrder = g.issuedOrder[1:]
	}
	return p, false
}

func (g *Generator) deliver(ctx context.Context, p *Proposal) string {
	if g.sender == nil {
		return DeliverySkipped
	}
	text := SummaryMessage(p)
	err := g.sender.SendText(ctx, p.Phone, text)
	if err == nil {
		return DeliverySent
	}
	slog.Error("Generator.deliver: summary send failed", "error", err, "proposal_id", p.ID, "phone", p.Phone)
	if g.outbox == nil {
		return DeliveryFailed
	}
	if _, qerr := messaging.EnqueueReply(ctx, g.outbox, p.Phone, text, "proposal:"+p.ID); qerr != nil {
		slog.Error("Generator.deliver: enqueue failed", "error", qerr, "proposal_id", p.ID)
		return DeliveryFailed
	}
	return DeliveryQueued
}

// followUpPayload is the job payload of a proposal follow-up.
type followUpPayload struct {
	ProposalID string `json:"proposal_id"`
	Phone      string `json:"phone"`
	Text       string `json:"text"`
}

func (g *Generator) scheduleFollowUps(ctx context.Context, p *Proposal, start time.Time) {
	if g.jobs == nil || len(g.followUps) == 0 {
		return
	}
	for i, f := range g.followUps {
		payload, err := json.Marshal(followUpPayload{
			ProposalID: p.ID,
			Phone:      p.Phone,
			Text:       fmt.Sprintf(f.Message, p.ClientName),
		})
		if err != nil {
			slog.Error("Generator.scheduleFollowUps: marshal failed", "error", err)
			continue
		}
		dedupe := fmt.Sprintf("followup:%s:%d", p.ID, i)
		id, err := g.jobs.EnqueueJob(ctx, JobKindFollowUp, start.Add(f.After), string(payload), dedupe)
		if err != nil {
			slog.Error("Generator.scheduleFollowUps: enqueue failed", "error", err, "proposal_id", p.ID)
			continue
		}
		slog.Debug("Generator.scheduleFollowUps: follow-up scheduled", "job_id", id, "after", f.After, "phone", p.Phone)
	}
}

// SummaryMessage renders the WhatsApp text sent with a proposal.
func SummaryMessage(p *Proposal) string {
	var b strings.Builder
	b.WriteString("🧠 *CRÂNIOS - SUA PROPOSTA ESTÁ PRONTA!*\n\n")
	fmt.Fprintf(&b, "Olá %s!\n\n", p.ClientName)
	b.WriteString("Preparei uma proposta *sob medida* para automatizar seu negócio:\n\n")
	b.WriteString("💰 *INVESTIMENTO:*\n")
	fmt.Fprintf(&b, "• Setup: %s\n", FormatBRL(p.SetupFee))
	fmt.Fprintf(&b, "• Mensalidade: %s\n\n", FormatBRL(p.MonthlyFee))
	b.WriteString("📈 *SEU RETORNO:*\n")
	fmt.Fprintf(&b, "• ROI: %d%% ao ano\n", p.ROI.ROIPercentage)
	fmt.Fprintf(&b, "• Payback: %d meses\n", p.ROI.PaybackMonths)
	fmt.Fprintf(&b, "• Implementação em %d dias\n\n", p.ImplementationDays)
	b.WriteString("🎯 *ATENÇÃO:* Temos apenas *20 vagas por mês* para garantir implementação de qualidade.\n\n")
	b.WriteString("Alguma dúvida? Estou aqui para te ajudar! 😊\n\n")
	b.WriteString("_Ana - Assistente Virtual Crânios_")
	return b.String()
}
