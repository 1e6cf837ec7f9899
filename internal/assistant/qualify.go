package assistant

import (
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Qualification stages, in the order the questions are asked.
const (
	StageGreeting      = models.InitialStage
	StageLeadSource    = "lead_source"
	StageBusinessType  = "business_type"
	StageCompanySize   = "company_size"
	StageMainChallenge = "main_challenge"
	StageQualified     = "qualification_complete"
)

// Lead fields collected into the conversation context.
const (
	FieldName               = "name"
	FieldLeadSource         = "lead_source"
	FieldBusinessType       = "business_type"
	FieldCompanySize        = "company_size"
	FieldMainChallenge      = "main_challenge"
	FieldQualificationScore = "qualification_score"
)

// notInformed fills a question whose answer was about something else.
const notInformed = "Não informado"

type question struct {
	stage   string
	field   string
	options map[string]string
	detect  func(string) string
	prompt  string
}

// questions are asked in order; each one owns a stage and a context field.
var questions = []question{
	{
		stage: StageLeadSource,
		field: FieldLeadSource,
		options: map[string]string{
			"1": "Lívia Team",
			"2": "Indicação de cliente",
			"3": "Redes sociais",
			"4": "Pesquisa no Google",
			"5": "Outro",
		},
		prompt: leadSourceQuestion,
	},
	{
		stage: StageBusinessType,
		field: FieldBusinessType,
		options: map[string]string{
			"1": "saude",
			"2": "comercio",
			"3": "servicos",
			"4": "imobiliaria",
			"5": "outro",
		},
		detect: DetectBusinessType,
		prompt: businessTypeQuestion,
	},
	{
		stage: StageCompanySize,
		field: FieldCompanySize,
		options: map[string]string{
			"1": "sozinho",
			"2": "2-5 funcionários",
			"3": "6-15 funcionários",
			"4": "mais de 15",
		},
		detect: DetectCompanySize,
		prompt: companySizeQuestion,
	},
	{
		stage: StageMainChallenge,
		field: FieldMainChallenge,
		options: map[string]string{
			"1": "Tarefas repetitivas",
			"2": "Atendimento limitado",
			"3": "Falta de follow-up",
			"4": "Controle financeiro",
			"5": "Captação de clientes",
		},
		prompt: mainChallengeQuestion,
	},
}

func questionFor(stage string) (question, bool) {
	for _, q := range questions {
		if q.stage == stage {
			return q, true
		}
	}
	return question{}, false
}

// Qualifying reports whether stage is one of the scripted qualification stages.
func Qualifying(stage string) bool {
	if stage == StageGreeting {
		return true
	}
	_, ok := questionFor(stage)
	return ok
}

type keywordMatch struct {
	value    string
	keywords []string
}

// Checked in order; imobiliaria comes before servicos so "corretor de imóveis"
// is not taken for a generic broker.
var businessKeywords = []keywordMatch{
	{"saude", []string{"saúde", "saude", "médic", "medic", "dentist", "clínica", "clinica", "consultório", "consultorio", "fisioterap", "psicólog", "psicolog", "nutricionist"}},
	{"imobiliaria", []string{"imobiliári", "imobiliari", "imóveis", "imoveis", "corretor de imóve", "corretor de imove"}},
	{"comercio", []string{"comércio", "comercio", "loja", "pet shop", "restaurante", "mercado", "varejo", "lanchonete"}},
	{"servicos", []string{"serviços", "servicos", "advogad", "corretor", "consultor", "contador", "contábil", "escritório"}},
}

var sizeKeywords = []keywordMatch{
	{"sozinho", []string{"sozinh", "só eu", "so eu", "autônom", "autonom"}},
	{"mais de 15", []string{"mais de 15", "15+"}},
	{"6-15 funcionários", []string{"6-15", "6 a 15"}},
	{"2-5 funcionários", []string{"2-5", "2 a 5"}},
}

func detect(matches []keywordMatch, text string) string {
	lower := strings.ToLower(text)
	for _, m := range matches {
		for _, kw := range m.keywords {
			if strings.Contains(lower, kw) {
				return m.value
			}
		}
	}
	return ""
}

// DetectBusinessType finds the business area mentioned in free text, or "".
func DetectBusinessType(text string) string { return detect(businessKeywords, text) }

// DetectCompanySize finds the team size mentioned in free text, or "".
func DetectCompanySize(text string) string { return detect(sizeKeywords, text) }

// extractName picks the word after "meu nome é" or "me chamo".
func extractName(text string) string {
	lower := strings.ToLower(text)
	for _, marker := range []string{"meu nome é ", "meu nome e ", "me chamo "} {
		i := strings.Index(lower, marker)
		if i < 0 {
			continue
		}
		fields := strings.Fields(text[i+len(marker):])
		if len(fields) == 0 {
			return ""
		}
		name := strings.Trim(fields[0], ".,!?;:")
		if name == "" {
			return ""
		}
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return ""
}

func known(c models.ConversationContext, field string) bool {
	v, ok := c[field]
	if !ok || v == nil {
		return false
	}
	s, isString := v.(string)
	return !isString || strings.TrimSpace(s) != ""
}

// Qualify records the answer to the current stage's question, picks up any
// other lead field the message mentions, and returns the context updates with
// the next stage. The next stage is the first question still unanswered.
func Qualify(c models.ConversationContext, message string) (models.ConversationContext, string) {
	stage := c.Stage()
	if stage == "" {
		stage = StageGreeting
	}
	answer := strings.TrimSpace(message)
	updates := models.ConversationContext{}

	if name := extractName(answer); name != "" && !known(c, FieldName) {
		updates[FieldName] = name
	}
	for _, q := range questions {
		if q.detect == nil || q.stage == stage || known(c, q.field) {
			continue
		}
		if v := q.detect(answer); v != "" {
			updates[q.field] = v
		}
	}

	if q, ok := questionFor(stage); ok && answer != "" {
		switch v, isOption := q.options[answer]; {
		case isOption:
			updates[q.field] = v
		case q.detect != nil && q.detect(answer) != "":
			updates[q.field] = q.detect(answer)
		case len(updates) > 0:
			// The answer was about another question.
			updates[q.field] = notInformed
		case q.field == FieldBusinessType:
			updates[q.field] = strings.ToLower(answer)
		default:
			updates[q.field] = answer
		}
	}

	merged := c.Merge(updates)
	next := NextStage(merged)
	if next == StageQualified && stage != StageQualified {
		updates[FieldQualificationScore] = QualificationScore(merged)
	}
	updates[models.ContextKeyStage] = next
	return updates, next
}

// NextStage returns the stage of the first unanswered question, or
// StageQualified when every lead field is known.
func NextStage(c models.ConversationContext) string {
	for _, q := range questions {
		if !known(c, q.field) {
			return q.stage
		}
	}
	return StageQualified
}

var (
	businessScores = map[string]int{"saude": 90, "imobiliaria": 85, "servicos": 80, "comercio": 75}
	sizeScores     = map[string]int{"mais de 15": 30, "6-15 funcionários": 25, "2-5 funcionários": 20, "sozinho": 15}
	challengeScore = map[string]int{
		"Atendimento limitado": 25,
		"Falta de follow-up":   20,
		"Tarefas repetitivas":  20,
		"Captação de clientes": 15,
		"Controle financeiro":  15,
	}
)

// QualificationScore rates a qualified lead from 0 to 100.
func QualificationScore(c models.ConversationContext) int {
	lookup := func(scores map[string]int, field string, fallback int) int {
		s, _ := c[field].(string)
		if v, ok := scores[s]; ok {
			return v
		}
		return fallback
	}
	score := lookup(businessScores, FieldBusinessType, 60) +
		lookup(sizeScores, FieldCompanySize, 10) +
		lookup(challengeScore, FieldMainChallenge, 10)
	return min(score, 100)
}
