// Package assistant is the in-process decision service. It detects the
// lead's intent from keywords, picks the next action and writes the reply,
// using canned sales scripts where they exist and GenAI otherwise.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/decision"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Intents, in detection priority order.
const (
	IntentPurchaseInterest    = "interesse_compra"
	IntentRequestProposal     = "solicitar_proposta"
	IntentScheduleMeeting     = "agendar_reuniao"
	IntentPriceObjection      = "objecao_preco"
	IntentTimeObjection       = "objecao_tempo"
	IntentComplexityObjection = "objecao_complexidade"
	IntentTechnicalQuestion   = "duvida_tecnica"
	IntentFarewell            = "despedida"
	IntentGeneral             = "general"
)

// Actions returned to the pipeline.
const (
	ActionContinue        = "continue"
	ActionPresentSolution = "present_solution"
	ActionScheduleMeeting = "schedule_meeting"
)

type intentRule struct {
	intent   string
	keywords []string
	action   string
}

// intentRules are checked in order. The first rule with a matching keyword wins.
var intentRules = []intentRule{
	{IntentPurchaseInterest, []string{"quero", "preciso", "comprar", "contratar", "investir"}, ActionPresentSolution},
	{IntentRequestProposal, []string{"proposta", "orçamento", "preço", "valor", "investimento"}, models.ActionGenerateProposal},
	{IntentScheduleMeeting, []string{"agendar", "reunião", "conversar", "apresentação"}, ActionScheduleMeeting},
	{IntentPriceObjection, []string{"caro", "barato", "preço", "valor", "investimento"}, "handle_price_objection"},
	{IntentTimeObjection, []string{"tempo", "ocupado", "corrido", "pressa"}, "handle_time_objection"},
	{IntentComplexityObjection, []string{"difícil", "complicado", "complexo", "simples"}, "handle_complexity_objection"},
	{IntentTechnicalQuestion, []string{"como", "funciona", "técnico", "integração"}, "provide_technical_info"},
	{IntentFarewell, []string{"tchau", "obrigado", "até", "depois"}, "close_conversation"},
}

// Analysis is the outcome of intent detection.
type Analysis struct {
	Intent     string   `json:"intent"`
	Detected   []string `json:"detected"`
	Confidence float64  `json:"confidence"`
	Action     string   `json:"action"`
}

// Analyze detects every matching intent in message and picks the main one.
func Analyze(message string) Analysis {
	lower := strings.ToLower(message)
	var detected []string
	for _, r := range intentRules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				detected = append(detected, r.intent)
				break
			}
		}
	}
	if len(detected) == 0 {
		return Analysis{Intent: IntentGeneral, Confidence: 0.5, Action: ActionContinue}
	}
	return Analysis{Intent: detected[0], Detected: detected, Confidence: 0.8, Action: ActionFor(detected[0])}
}

// ActionFor maps an intent to the next action. Unknown intents continue.
func ActionFor(intent string) string {
	for _, r := range intentRules {
		if r.intent == intent {
			return r.action
		}
	}
	return ActionContinue
}

// Responder writes free-form replies. *genai.Client implements it.
type Responder interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Assistant answers decision requests.
type Assistant struct {
	responder Responder
}

// Compile-time check that Assistant implements decision.Delegate.
var _ decision.Delegate = (*Assistant)(nil)

// New creates an Assistant. A nil responder falls back to the generic script.
func New(responder Responder) *Assistant {
	return &Assistant{responder: responder}
}

// Decide produces the reply, action and lead data. While the lead is being
// qualified the stage script drives the conversation and the collected fields
// come back as context updates; afterwards the reply follows the detected intent.
func (a *Assistant) Decide(ctx context.Context, req models.DecisionRequest) (*models.DecisionResponse, error) {
	stage := req.Context.Stage()
	if stage == "" {
		stage = StageGreeting
	}
	if Qualifying(stage) {
		return a.qualify(req, stage), nil
	}

	analysis := Analyze(req.Message)
	slog.Debug("Assistant.Decide: intent analyzed", "phone", req.Phone, "intent", analysis.Intent, "action", analysis.Action, "detected", analysis.Detected)

	if analysis.Action == models.ActionGenerateProposal && !known(req.Context, FieldBusinessType) {
		next := NextStage(req.Context)
		slog.Info("Assistant.Decide: proposal requested before qualification, asking for lead data", "phone", req.Phone, "next_stage", next)
		q, _ := questionFor(next)
		return &models.DecisionResponse{
			Response:       missingDataIntro + q.prompt,
			Action:         ActionContinue,
			ContextUpdates: models.ConversationContext{models.ContextKeyStage: next},
		}, nil
	}

	lead := LeadData(req)
	reply := a.reply(ctx, req, analysis, lead)

	out := &models.DecisionResponse{Response: reply, Action: analysis.Action}
	if analysis.Action == models.ActionGenerateProposal {
		raw, err := json.Marshal(lead)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal lead data: %w", err)
		}
		out.LeadData = raw
	}
	return out, nil
}

func (a *Assistant) qualify(req models.DecisionRequest, stage string) *models.DecisionResponse {
	updates, next := Qualify(req.Context, req.Message)
	merged := req.Context.Merge(updates)
	slog.Debug("Assistant.qualify: stage answered", "phone", req.Phone, "stage", stage, "next_stage", next, "fields", len(updates)-1)

	var reply string
	if next == StageQualified {
		businessType, _ := merged[FieldBusinessType].(string)
		reply = businessPresentation(businessType) + qualifiedClosing
		slog.Info("Assistant.qualify: lead qualified", "phone", req.Phone, "business_type", businessType, "score", merged[FieldQualificationScore])
	} else {
		name, _ := merged[FieldName].(string)
		if name == "" {
			name = req.SenderName
		}
		reply = stageReply(stage, next, name)
	}
	return &models.DecisionResponse{Response: reply, Action: ActionContinue, ContextUpdates: updates}
}

// LeadData collects the lead fields kept in the conversation context plus the phone.
func LeadData(req models.DecisionRequest) map[string]any {
	lead := map[string]any{"phone": req.Phone}
	for _, k := range []string{"name", "business_type", "company_size", "main_challenge"} {
		if v, ok := req.Context[k]; ok && v != nil && v != "" {
			lead[k] = v
		}
	}
	if _, ok := lead["name"]; !ok && req.SenderName != "" {
		lead["name"] = req.SenderName
	}
	return lead
}

func (a *Assistant) reply(ctx context.Context, req models.DecisionRequest, analysis Analysis, lead map[string]any) string {
	businessType, _ := req.Context["business_type"].(string)
	switch {
	case analysis.Intent == IntentPurchaseInterest:
		return businessPresentation(businessType)
	case analysis.Intent == IntentRequestProposal:
		return proposalReply
	case analysis.Intent == IntentScheduleMeeting:
		return schedulingReply
	case strings.HasPrefix(analysis.Intent, "objecao_"):
		return objectionReply(strings.TrimPrefix(analysis.Intent, "objecao_"))
	}

	if a.responder == nil {
		return genericPresentation
	}
	text, err := a.responder.GeneratePromptWithContext(ctx, SystemPrompt(req, analysis, lead), req.Message)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("Assistant.reply: generation failed, using fallback", "error", err, "phone", req.Phone)
		return contextualFallback
	}
	return strings.TrimSpace(text)
}

// SystemPrompt builds the persona prompt for free-form replies.
func SystemPrompt(req models.DecisionRequest, analysis Analysis, lead map[string]any) string {
	leadJSON, _ := json.MarshalIndent(lead, "", "  ")
	stage := req.Context.Stage()
	if stage == "" {
		stage = models.InitialStage
	}
	var b strings.Builder
	b.WriteString("Você é a Ana, assistente virtual da Crânios. Sua personalidade é profissional, empática e persuasiva.\n\n")
	b.WriteString("Contexto da conversa:\n")
	fmt.Fprintf(&b, "- Nome do cliente: %s\n", req.SenderName)
	fmt.Fprintf(&b, "- Etapa: %s\n", stage)
	fmt.Fprintf(&b, "- Mensagens trocadas: %d\n", req.Context.MessageCount())
	fmt.Fprintf(&b, "- Intenção detectada: %s\n\n", analysis.Intent)
	fmt.Fprintf(&b, "Dados do lead:\n%s\n\n", leadJSON)
	b.WriteString("Instruções:\n")
	b.WriteString("1. Responda como a Ana, mantendo o tom profissional e persuasivo\n")
	b.WriteString("2. Sempre direcione para o fechamento ou agendamento\n")
	b.WriteString("3. Seja empática e entenda as necessidades do cliente\n")
	b.WriteString("4. Mantenha respostas concisas, no formato de mensagem de WhatsApp\n")
	return b.String()
}
