package assistant

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestQualify_NumberedAnswers(t *testing.T) {
	tests := []struct {
		stage   string
		message string
		field   string
		want    string
		next    string
	}{
		{StageLeadSource, "3", FieldLeadSource, "Redes sociais", StageBusinessType},
		{StageBusinessType, "1", FieldBusinessType, "saude", StageCompanySize},
		{StageCompanySize, "2", FieldCompanySize, "2-5 funcionários", StageMainChallenge},
		{StageMainChallenge, "3", FieldMainChallenge, "Falta de follow-up", StageQualified},
	}
	c := models.NewContext()
	for _, tt := range tests {
		c[models.ContextKeyStage] = tt.stage
		updates, next := Qualify(c, tt.message)
		if updates[tt.field] != tt.want {
			t.Errorf("stage %s: %s = %v, want %q", tt.stage, tt.field, updates[tt.field], tt.want)
		}
		if next != tt.next || updates.Stage() != tt.next {
			t.Errorf("stage %s: next = %q (updates %q), want %q", tt.stage, next, updates.Stage(), tt.next)
		}
		c = c.Merge(updates)
	}
	if c[FieldQualificationScore] != 100 {
		t.Errorf("expected qualification score 100, got %v", c[FieldQualificationScore])
	}
}

func TestQualify_FreeTextFillsOtherFields(t *testing.T) {
	c := models.ConversationContext{"stage": StageLeadSource, "message_count": int64(2)}
	updates, next := Qualify(c, "Sou dentista, trabalho sozinho")

	if updates[FieldBusinessType] != "saude" || updates[FieldCompanySize] != "sozinho" {
		t.Errorf("expected business and size from free text, got %v", updates)
	}
	if updates[FieldLeadSource] != notInformed {
		t.Errorf("an off-topic answer must not become the lead source, got %v", updates[FieldLeadSource])
	}
	if next != StageMainChallenge {
		t.Errorf("expected to skip to main_challenge, got %q", next)
	}
	if _, ok := updates[models.ContextKeyMessageCount]; ok {
		t.Error("updates must never carry message_count")
	}
}

func TestQualify_KnownFieldsNotOverwritten(t *testing.T) {
	c := models.ConversationContext{"stage": StageMainChallenge, "business_type": "comercio", "company_size": "sozinho", "lead_source": "Outro"}
	updates, next := Qualify(c, "atendo clínicas, é muito atendimento")
	if _, ok := updates[FieldBusinessType]; ok {
		t.Errorf("known business_type must not be re-detected, got %v", updates)
	}
	if updates[FieldMainChallenge] != "atendo clínicas, é muito atendimento" || next != StageQualified {
		t.Errorf("unexpected updates %v next %q", updates, next)
	}
}

func TestDetectBusinessType(t *testing.T) {
	tests := map[string]string{
		"Sou médica":               "saude",
		"tenho uma loja de roupas": "comercio",
		"sou advogado":             "servicos",
		"corretor de imóveis":      "imobiliaria",
		"corretor de seguros":      "servicos",
		"trabalho com marcenaria":  "",
	}
	for text, want := range tests {
		if got := DetectBusinessType(text); got != want {
			t.Errorf("DetectBusinessType(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestExtractName(t *testing.T) {
	tests := map[string]string{
		"Oi, meu nome é joão!": "João",
		"me chamo Carla":       "Carla",
		"Sou dentista":         "",
	}
	for text, want := range tests {
		if got := extractName(text); got != want {
			t.Errorf("extractName(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestDecide_QualificationConversation(t *testing.T) {
	a := New(nil)
	ctx := context.Background()
	c := models.NewContext()
	decide := func(message string) *models.DecisionResponse {
		t.Helper()
		out, err := a.Decide(ctx, models.DecisionRequest{Message: message, Phone: "5579999999999", Context: c, SenderName: "Ana"})
		if err != nil {
			t.Fatalf("Decide(%q) failed: %v", message, err)
		}
		c = c.Merge(out.ContextUpdates)
		return out
	}

	out := decide("Oi")
	if !strings.Contains(out.Response, "Olá Ana!") || !strings.Contains(out.Response, "como você nos conheceu") {
		t.Errorf("unexpected greeting:\n%s", out.Response)
	}
	if c.Stage() != StageLeadSource || out.Action != ActionContinue {
		t.Errorf("expected lead_source stage, got %q / %q", c.Stage(), out.Action)
	}

	out = decide("Sou dentista, trabalho sozinho")
	if c.Stage() != StageMainChallenge || !strings.Contains(out.Response, "maior desafio") {
		t.Errorf("expected the challenge question, got stage %q:\n%s", c.Stage(), out.Response)
	}

	out = decide("1")
	if c.Stage() != StageQualified || !strings.HasPrefix(out.Response, presentations["saude"]) {
		t.Errorf("expected the saude presentation on qualification, got stage %q:\n%s", c.Stage(), out.Response)
	}

	out = decide("Me manda a proposta")
	if out.Action != models.ActionGenerateProposal {
		t.Fatalf("expected generate_proposal, got %q", out.Action)
	}
	var lead map[string]any
	json.Unmarshal(out.LeadData, &lead)
	if lead["business_type"] != "saude" || lead["company_size"] != "sozinho" || lead["main_challenge"] != "Tarefas repetitivas" {
		t.Errorf("unexpected lead data %v", lead)
	}
}

func TestDecide_ProposalBeforeQualificationAsksForData(t *testing.T) {
	out, err := New(nil).Decide(context.Background(), models.DecisionRequest{
		Message: "qual o valor?", Phone: "1", Context: models.ConversationContext{"stage": "qualifying"},
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionContinue || len(out.LeadData) != 0 {
		t.Errorf("an unpriceable lead must not request a proposal, got %q", out.Action)
	}
	if out.ContextUpdates.Stage() != StageLeadSource || !strings.Contains(out.Response, "como você nos conheceu") {
		t.Errorf("expected to resume the qualification, got %v:\n%s", out.ContextUpdates, out.Response)
	}
}
