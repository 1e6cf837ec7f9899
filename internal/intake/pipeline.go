package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/decision"
	"github.com/BTreeMap/IntakePipe/internal/events"
	"github.com/BTreeMap/IntakePipe/internal/lock"
	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/metrics"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/proposal"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/google/uuid"
	waevents "go.mau.fi/whatsmeow/types/events"
)

// DefaultLockWait bounds how long a run waits for the per-phone lease.
const DefaultLockWait = 10 * time.Second

// DefaultRunTimeout bounds a run started from a whatsmeow event.
const DefaultRunTimeout = 2 * time.Minute

// Outcome is the final state of a run that did not fail.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeIgnored Outcome = "ignored"
)

// Reply delivery results.
const (
	DeliverySent    = "sent"
	DeliveryQueued  = "queued"
	DeliverySkipped = "skipped"
)

// Proposal branch results.
const (
	ProposalRequested = "requested"
	ProposalQueued    = "queued"
	ProposalFailed    = "failed"
	ProposalSkipped   = "skipped"
)

// Result describes a finished run.
type Result struct {
	Outcome      Outcome
	Reason       string
	Message      models.InboundMessage
	Conversation models.Conversation
	Context      models.ConversationContext
	Created      bool
	Decision     *models.DecisionResponse
	Delivery     string
	Proposal     string
}

// Opts holds configuration for the Pipeline.
type Opts struct {
	Locker          lock.Locker
	LockWait        time.Duration
	DecisionTimeout time.Duration
	Outbox          store.OutboxRepo
	Jobs            store.JobRepo
	Publisher       events.Publisher
	Clock           func() time.Time
}

// Option defines a configuration option for the Pipeline.
type Option func(*Opts)

// WithLocker sets the per-phone lease provider. The default is a LocalLocker.
func WithLocker(l lock.Locker) Option {
	return func(o *Opts) { o.Locker = l }
}

// WithLockWait sets how long a run waits for the per-phone lease.
func WithLockWait(d time.Duration) Option {
	return func(o *Opts) { o.LockWait = d }
}

// WithDecisionTimeout bounds the decision call.
func WithDecisionTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DecisionTimeout = d }
}

// WithOutbox queues replies that could not be sent right away.
func WithOutbox(repo store.OutboxRepo) Option {
	return func(o *Opts) { o.Outbox = repo }
}

// WithJobs queues proposal requests that failed for a later retry.
func WithJobs(repo store.JobRepo) Option {
	return func(o *Opts) { o.Jobs = repo }
}

// WithPublisher sets the domain event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Opts) { o.Publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Pipeline runs inbound messages through the intake steps.
type Pipeline struct {
	store           store.Store
	delegate        decision.Delegate
	sender          messaging.Sender
	proposals       proposal.Requester
	locker          lock.Locker
	lockWait        time.Duration
	decisionTimeout time.Duration
	outbox          store.OutboxRepo
	jobs            store.JobRepo
	publisher       events.Publisher
	now             func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(st store.Store, delegate decision.Delegate, sender messaging.Sender, proposals proposal.Requester, opts ...Option) *Pipeline {
	cfg := Opts{
		LockWait:        DefaultLockWait,
		DecisionTimeout: decision.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewLocalLocker()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Pipeline{
		store:           st,
		delegate:        delegate,
		sender:          sender,
		proposals:       proposals,
		locker:          cfg.Locker,
		lockWait:        cfg.LockWait,
		decisionTimeout: cfg.DecisionTimeout,
		outbox:          cfg.Outbox,
		jobs:            cfg.Jobs,
		publisher:       cfg.Publisher,
		now:             cfg.Clock,
	}
}

// run is the mutable state of one pipeline instance.
type run struct {
	payload Payload
	claimed bool
	res     *Result
}

// Process runs payload through every step. A returned error is always a *StepError.
func (p *Pipeline) Process(ctx context.Context, payload Payload) (*Result, error) {
	r := &run{payload: payload, res: &Result{}}
	step := StepNormalizing
	for step != stepDone {
		start := time.Now()
		next, err := p.advance(ctx, step, r)
		metrics.ObserveStep(string(step), time.Since(start))
		if err != nil {
			p.fail(ctx, r, err)
			return r.res, err
		}
		slog.Debug("Pipeline.Process: step finished", "step", step, "next", next, "phone", r.res.Message.Phone)
		step = next
	}
	return r.res, nil
}

func (p *Pipeline) advance(ctx context.Context, step Step, r *run) (Step, error) {
	switch step {
	case StepNormalizing:
		return p.normalize(r)
	case StepResolving:
		return p.resolve(ctx, r)
	case StepDelegating:
		return p.delegateStep(ctx, r)
	case StepDispatching:
		return p.dispatch(ctx, r)
	case StepBranching:
		return p.branch(ctx, r)
	case StepFinalizing:
		return p.finalize(ctx, r)
	}
	return stepDone, stepError(step, CodeInvalidPayload, fmt.Errorf("unknown pipeline step %q", step))
}

func (p *Pipeline) fail(ctx context.Context, r *run, err error) {
	var se *StepError
	code := "internal_error"
	if errors.As(err, &se) {
		code = se.Code
	}
	metrics.RecordOutcome(code)
	slog.Error("Pipeline.Process: run failed", "error", err, "code", code, "phone", r.res.Message.Phone, "message_id", r.res.Message.MessageID)

	if !r.claimed {
		return
	}
	// Release the claim so the gateway's redelivery is processed.
	if ferr := p.store.ForgetInbound(context.WithoutCancel(ctx), r.res.Message.MessageID); ferr != nil {
		slog.Warn("Pipeline.fail: could not release dedup claim", "error", ferr, "message_id", r.res.Message.MessageID)
	}
}

func (p *Pipeline) normalize(r *run) (Step, error) {
	if r.payload == nil {
		return stepDone, stepError(StepNormalizing, CodeInvalidPayload, models.ErrInvalidPayload)
	}
	msg, err := r.payload.Normalize(p.now())
	if errors.Is(err, models.ErrIgnoredEvent) {
		slog.Debug("Pipeline.normalize: payload ignored", "reason", err)
		r.res.Outcome = OutcomeIgnored
		r.res.Reason = err.Error()
		return StepFinalizing, nil
	}
	if err != nil {
		return stepDone, stepError(StepNormalizing, CodeInvalidPayload, err)
	}
	if strings.TrimSpace(msg.Phone) == "" {
		return stepDone, stepError(StepNormalizing, CodeInvalidPayload, models.ErrEmptyPhone)
	}
	r.res.Message = msg
	slog.Info("Pipeline.normalize: inbound message", "phone", msg.Phone, "source", msg.Source, "message_id", msg.MessageID, "length", len(msg.Message))
	return StepResolving, nil
}

func (p *Pipeline) resolve(ctx context.Context, r *run) (Step, error) {
	msg := r.res.Message

	lockCtx, cancel := context.WithTimeout(ctx, p.lockWait)
	unlock, err := p.locker.Lock(lockCtx, msg.Phone)
	cancel()
	if err != nil {
		return stepDone, stepError(StepResolving, CodeLockUnavailable, err)
	}
	defer unlock()

	if msg.MessageID != "" {
		fresh, err := p.store.RecordInbound(ctx, msg.MessageID, msg.Phone)
		if err != nil {
			return stepDone, stepError(StepResolving, CodeStoreUnavailable, fmt.Errorf("failed to record inbound message: %w", err))
		}
		if !fresh {
			slog.Info("Pipeline.resolve: duplicate message ignored", "phone", msg.Phone, "message_id", msg.MessageID)
			r.res.Outcome = OutcomeIgnored
			r.res.Reason = "duplicate message"
			return StepFinalizing, nil
		}
		r.claimed = true
	}

	conv, created, err := p.upsert(ctx, msg)
	if err != nil {
		return stepDone, stepError(StepResolving, CodeStoreUnavailable, err)
	}
	r.res.Conversation = conv
	r.res.Created = created
	r.res.Context = models.ParseContext(conv.Context)

	subject := events.SubjectConversationUpdated
	if created {
		subject = events.SubjectConversationCreated
	}
	p.publish(ctx, events.Event{
		Subject:        subject,
		Phone:          conv.Phone,
		ConversationID: conv.ID,
		MessageID:      msg.MessageID,
		MessageCount:   r.res.Context.MessageCount(),
	})
	return StepDelegating, nil
}

// upsert creates the conversation for msg.Phone or merge-updates the existing one.
// A message id already recorded in the context is not counted twice, so the
// claim released by a failed run never inflates message_count on redelivery.
// The caller holds the phone's lease.
func (p *Pipeline) upsert(ctx context.Context, msg models.InboundMessage) (models.Conversation, bool, error) {
	found, err := p.store.FindConversations(ctx, msg.Phone)
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	now := p.now()
	if len(found) == 0 {
		encoded, err := models.NewContext().RememberMessage(msg.MessageID).Encode()
		if err != nil {
			return models.Conversation{}, false, err
		}
		conv := models.Conversation{
			ID:        uuid.NewString(),
			Phone:     msg.Phone,
			Name:      msg.SenderName,
			Status:    models.ConversationStatusActive,
			Context:   encoded,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = p.store.InsertConversation(ctx, conv)
		if err == nil {
			slog.Info("Pipeline.upsert: conversation created", "phone", conv.Phone, "id", conv.ID)
			return conv, true, nil
		}
		if !errors.Is(err, store.ErrDuplicateConversation) {
			return models.Conversation{}, false, fmt.Errorf("failed to create conversation: %w", err)
		}
		// Another instance created the row first; merge into it instead.
		slog.Info("Pipeline.upsert: conversation created concurrently, updating", "phone", msg.Phone)
		found, err = p.store.FindConversations(ctx, msg.Phone)
		if err != nil {
			return models.Conversation{}, false, fmt.Errorf("failed to re-read conversation: %w", err)
		}
		if len(found) == 0 {
			return models.Conversation{}, false, fmt.Errorf("conversation for %s missing after duplicate insert: %w", msg.Phone, store.ErrConversationNotFound)
		}
	}

	conv := found[0]
	current := models.ParseContext(conv.Context)
	if current.Counted(msg.MessageID) {
		// A redelivery of a run that failed after this write.
		slog.Info("Pipeline.upsert: message already counted", "phone", conv.Phone, "message_id", msg.MessageID, "message_count", current.MessageCount())
		return conv, false, nil
	}
	merged := current.Advance().RememberMessage(msg.MessageID)
	encoded, err := merged.Encode()
	if err != nil {
		return models.Conversation{}, false, err
	}
	conv.Context = encoded
	conv.UpdatedAt = now
	if err := p.store.UpdateConversation(ctx, conv); err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to update conversation: %w", err)
	}
	slog.Debug("Pipeline.upsert: conversation updated", "phone", conv.Phone, "message_count", merged.MessageCount())
	return conv, false, nil
}

func (p *Pipeline) delegateStep(ctx context.Context, r *run) (Step, error) {
	msg := r.res.Message
	req := models.DecisionRequest{
		Message:    msg.Message,
		Phone:      msg.Phone,
		Context:    r.res.Context,
		SenderName: msg.SenderName,
	}

	dctx, cancel := context.WithTimeout(ctx, p.decisionTimeout)
	defer cancel()
	out, err := p.delegate.Decide(dctx, req)
	if err == nil && out == nil {
		err = fmt.Errorf("%w: empty decision", decision.ErrDecisionFailed)
	}
	if err != nil {
		code := CodeDecisionFailed
		if errors.Is(err, decision.ErrDecisionTimeout) || errors.Is(err, context.DeadlineExceeded) {
			code = CodeDecisionTimeout
		}
		metrics.RecordDecision(code)
		return stepDone, stepError(StepDelegating, code, err)
	}
	metrics.RecordDecision("ok")
	r.res.Decision = out
	slog.Debug("Pipeline.delegate: decision received", "phone", msg.Phone, "action", out.Action, "response_length", len(out.Response))
	return StepDispatching, nil
}

func (p *Pipeline) dispatch(ctx context.Context, r *run) (Step, error) {
	phone := r.res.Message.Phone
	text := r.res.Decision.Response
	if strings.TrimSpace(text) == "" {
		slog.Debug("Pipeline.dispatch: empty reply, nothing to send", "phone", phone)
		r.res.Delivery = DeliverySkipped
		metrics.RecordReply(DeliverySkipped)
		return StepBranching, nil
	}

	err := p.sender.SendText(ctx, phone, text)
	if err == nil {
		r.res.Delivery = DeliverySent
		metrics.RecordReply(DeliverySent)
		return StepBranching, nil
	}
	slog.Error("Pipeline.dispatch: reply send failed", "error", err, "phone", phone)
	if p.outbox == nil {
		metrics.RecordReply("failed")
		return stepDone, stepError(StepDispatching, CodeDispatchFailed, err)
	}

	dedupe := ""
	if id := r.res.Message.MessageID; id != "" {
		dedupe = "reply:" + id
	}
	if _, qerr := messaging.EnqueueReply(ctx, p.outbox, phone, text, dedupe); qerr != nil {
		metrics.RecordReply("failed")
		return stepDone, stepError(StepDispatching, CodeDispatchFailed, errors.Join(err, qerr))
	}
	r.res.Delivery = DeliveryQueued
	metrics.RecordReply(DeliveryQueued)
	return StepBranching, nil
}

func (p *Pipeline) branch(ctx context.Context, r *run) (Step, error) {
	out := r.res.Decision
	if out.Action != models.ActionGenerateProposal {
		r.res.Proposal = ProposalSkipped
		return StepFinalizing, nil
	}

	msg := r.res.Message
	req := models.ProposalRequest{Phone: msg.Phone, LeadData: out.LeadData, IdempotencyKey: msg.MessageID}
	p.publish(ctx, events.Event{
		Subject:        events.SubjectProposalRequested,
		Phone:          msg.Phone,
		ConversationID: r.res.Conversation.ID,
		MessageID:      msg.MessageID,
		MessageCount:   r.res.Context.MessageCount(),
	})

	// The proposal result is not part of the run's outcome.
	err := p.proposals.Request(ctx, req)
	if err == nil {
		r.res.Proposal = ProposalRequested
		metrics.RecordProposal(ProposalRequested)
		return StepFinalizing, nil
	}
	slog.Error("Pipeline.branch: proposal request failed", "error", err, "phone", msg.Phone)

	r.res.Proposal = ProposalFailed
	if p.jobs != nil {
		dedupe := ""
		if msg.MessageID != "" {
			dedupe = "proposal:" + msg.MessageID
		}
		if id, qerr := proposal.EnqueueRetry(ctx, p.jobs, req, dedupe); qerr != nil {
			slog.Error("Pipeline.branch: proposal retry not queued", "error", qerr, "phone", msg.Phone)
		} else {
			slog.Info("Pipeline.branch: proposal retry queued", "job_id", id, "phone", msg.Phone)
			r.res.Proposal = ProposalQueued
		}
	}
	metrics.RecordProposal(r.res.Proposal)
	return StepFinalizing, nil
}

func (p *Pipeline) finalize(ctx context.Context, r *run) (Step, error) {
	if r.res.Outcome == OutcomeIgnored {
		metrics.RecordOutcome(string(OutcomeIgnored))
		return stepDone, nil
	}
	if len(r.res.Decision.ContextUpdates) > 0 {
		if err := p.commitContext(ctx, r); err != nil {
			return stepDone, err
		}
	}
	if r.claimed {
		if err := p.store.MarkProcessed(ctx, r.res.Message.MessageID); err != nil {
			slog.Warn("Pipeline.finalize: could not mark message processed", "error", err, "message_id", r.res.Message.MessageID)
		}
	}
	r.res.Outcome = OutcomeSuccess
	metrics.RecordOutcome(string(OutcomeSuccess))
	slog.Info("Pipeline.finalize: message processed", "phone", r.res.Message.Phone, "created", r.res.Created, "delivery", r.res.Delivery, "proposal", r.res.Proposal)
	return stepDone, nil
}

// commitContext merges the decision's context updates into the stored
// conversation. It runs after the reply went out so a failed run replays the
// same stage.
func (p *Pipeline) commitContext(ctx context.Context, r *run) error {
	msg := r.res.Message
	lockCtx, cancel := context.WithTimeout(ctx, p.lockWait)
	unlock, err := p.locker.Lock(lockCtx, msg.Phone)
	cancel()
	if err != nil {
		return stepError(StepFinalizing, CodeLockUnavailable, err)
	}
	defer unlock()

	found, err := p.store.FindConversations(ctx, msg.Phone)
	if err != nil {
		return stepError(StepFinalizing, CodeStoreUnavailable, fmt.Errorf("failed to re-read conversation: %w", err))
	}
	if len(found) == 0 {
		return stepError(StepFinalizing, CodeStoreUnavailable, fmt.Errorf("conversation for %s: %w", msg.Phone, store.ErrConversationNotFound))
	}
	conv := found[0]
	merged := models.ParseContext(conv.Context).Merge(r.res.Decision.ContextUpdates)
	encoded, err := merged.Encode()
	if err != nil {
		return stepError(StepFinalizing, CodeStoreUnavailable, err)
	}
	conv.Context = encoded
	conv.UpdatedAt = p.now()
	if err := p.store.UpdateConversation(ctx, conv); err != nil {
		return stepError(StepFinalizing, CodeStoreUnavailable, fmt.Errorf("failed to save context updates: %w", err))
	}
	r.res.Conversation = conv
	r.res.Context = merged
	slog.Debug("Pipeline.commitContext: context updated", "phone", msg.Phone, "stage", merged.Stage())
	return nil
}

func (p *Pipeline) publish(ctx context.Context, evt events.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = p.now().UTC()
	}
	if err := p.publisher.Publish(ctx, evt); err != nil {
		slog.Warn("Pipeline.publish: event not published", "error", err, "subject", evt.Subject)
	}
}

// HandleWhatsAppEvent returns a whatsmeow message callback that runs each
// event through the pipeline on its own goroutine.
func (p *Pipeline) HandleWhatsAppEvent(ctx context.Context) func(*waevents.Message) {
	return func(evt *waevents.Message) {
		go func() {
			runCtx, cancel := context.WithTimeout(ctx, DefaultRunTimeout)
			defer cancel()
			res, err := p.Process(runCtx, WhatsAppEvent{Event: evt})
			_, out := Finalize(res, err, p.now())
			slog.Debug("Pipeline.HandleWhatsAppEvent: run finished", "status", out.Status, "code", out.Code)
		}()
	}
}
