package proposal

import (
	"math"
	"strconv"
	"strings"
)

// Company size buckets.
const (
	SizeSolo   = "sozinho"
	SizeSmall  = "pequena"
	SizeMedium = "media"
	SizeLarge  = "grande"
)

// defaultBaseRevenue is used when no revenue estimate matches the lead.
const defaultBaseRevenue = 15000

// PricingRule is the offer for one business type and company size.
type PricingRule struct {
	BusinessType       string   `json:"business_type"`
	CompanySize        string   `json:"company_size"`
	SetupFee           float64  `json:"setup_fee"`
	MonthlyFee         float64  `json:"monthly_fee"`
	ImplementationDays int      `json:"implementation_days"`
	Features           []string `json:"features"`
	ROIPercentage      int      `json:"roi_percentage"`
	PaybackMonths      int      `json:"payback_months"`
}

// ROI is the projected return for a lead.
type ROI struct {
	CurrentMonthlyRevenue       float64 `json:"current_monthly_revenue"`
	ProjectedIncreaseMonthly    float64 `json:"projected_increase_monthly"`
	ProjectedIncreasePercentage int     `json:"projected_increase_percentage"`
	TotalInvestmentYear         float64 `json:"total_investment_year"`
	NetProfitYear               float64 `json:"net_profit_year"`
	PaybackMonths               int     `json:"payback_months"`
	ROIPercentage               int     `json:"roi_percentage"`
}

// CaseStudy is a past client story quoted in a proposal.
type CaseStudy struct {
	Client    string `json:"client"`
	Challenge string `json:"challenge"`
	Solution  string `json:"solution"`
	Result    string `json:"result"`
}

// sizeLabels maps the answers collected in conversation to size buckets.
var sizeLabels = map[string]string{
	"sozinho":           SizeSolo,
	"trabalho sozinho":  SizeSolo,
	"2-5 funcionários":  SizeSmall,
	"pequena":           SizeSmall,
	"6-15 funcionários": SizeMedium,
	"media":             SizeMedium,
	"mais de 15":        SizeLarge,
	"grande":            SizeLarge,
}

// MapCompanySize returns the size bucket for label, defaulting to sozinho.
func MapCompanySize(label string) string {
	if size, ok := sizeLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
		return size
	}
	return SizeSolo
}

// DefaultPricingRules returns the standard price table.
func DefaultPricingRules() []PricingRule {
	return []PricingRule{
		{
			BusinessType: "saude", CompanySize: SizeSolo, SetupFee: 1997, MonthlyFee: 297, ImplementationDays: 7,
			Features: []string{
				"Agendamento automático via WhatsApp",
				"Confirmação de consultas 24h antes",
				"Histórico digital do paciente",
				"Receituário digital",
				"Controle financeiro básico",
				"Dashboard de métricas",
			},
			ROIPercentage: 280, PaybackMonths: 3,
		},
		{
			BusinessType: "saude", CompanySize: SizeSmall, SetupFee: 2997, MonthlyFee: 497, ImplementationDays: 10,
			Features: []string{
				"Agendamento automático multi-profissional",
				"Confirmação e lembretes automatizados",
				"Prontuário eletrônico completo",
				"Receituário e atestados digitais",
				"Controle de estoque medicamentos",
				"Faturamento automático convênios",
				"Relatórios gerenciais",
				"App mobile personalizado",
			},
			ROIPercentage: 320, PaybackMonths: 4,
		},
		{
			BusinessType: "comercio", CompanySize: SizeSolo, SetupFee: 1497, MonthlyFee: 247, ImplementationDays: 5,
			Features: []string{
				"Atendimento WhatsApp 24/7",
				"Catálogo digital automatizado",
				"Recuperação carrinho abandonado",
				"Follow-up pós-venda",
				"Controle básico de estoque",
				"Relatório de vendas",
			},
			ROIPercentage: 240, PaybackMonths: 2,
		},
		{
			BusinessType: "comercio", CompanySize: SizeSmall, SetupFee: 2497, MonthlyFee: 397, ImplementationDays: 8,
			Features: []string{
				"E-commerce completo automatizado",
				"Atendimento multi-canal 24/7",
				"Sistema de fidelidade automático",
				"Promoções personalizadas",
				"Controle completo de estoque",
				"Integração com marketplaces",
				"Relatórios avançados",
				"App de vendas",
			},
			ROIPercentage: 280, PaybackMonths: 3,
		},
		{
			BusinessType: "servicos", CompanySize: SizeSolo, SetupFee: 1797, MonthlyFee: 297, ImplementationDays: 6,
			Features: []string{
				"Captação automática de leads",
				"Qualificação inteligente",
				"Agendamento automático",
				"Follow-up personalizado",
				"Contratos digitais",
				"Cobrança automatizada",
			},
			ROIPercentage: 300, PaybackMonths: 3,
		},
		{
			BusinessType: "servicos", CompanySize: SizeSmall, SetupFee: 2797, MonthlyFee: 447, ImplementationDays: 10,
			Features: []string{
				"Sistema completo de CRM",
				"Captação multi-canal",
				"Pipeline de vendas automatizado",
				"Contratos e assinaturas digitais",
				"Gestão financeira completa",
				"Relatórios de performance",
				"App mobile personalizado",
				"Integração com ferramentas existentes",
			},
			ROIPercentage: 350, PaybackMonths: 4,
		},
		{
			BusinessType: "imobiliaria", CompanySize: SizeSolo, SetupFee: 2297, MonthlyFee: 397, ImplementationDays: 8,
			Features: []string{
				"Captação automática de leads",
				"Qualificação por perfil de imóvel",
				"Agendamento de visitas",
				"Follow-up pós-visita",
				"Contratos automatizados",
				"Portal do cliente",
			},
			ROIPercentage: 280, PaybackMonths: 3,
		},
		{
			BusinessType: "imobiliaria", CompanySize: SizeSmall, SetupFee: 3497, MonthlyFee: 597, ImplementationDays: 12,
			Features: []string{
				"Sistema completo de gestão imobiliária",
				"Site com busca inteligente",
				"App mobile para corretores",
				"Automação completa de processos",
				"Integração com portais",
				"Dashboard de performance",
				"Sistema de comissões",
				"Relatórios gerenciais avançados",
			},
			ROIPercentage: 320, PaybackMonths: 4,
		},
	}
}

// revenueEstimates is the expected monthly revenue per business type and size.
var revenueEstimates = map[string]map[string]float64{
	"saude":       {SizeSolo: 15000, SizeSmall: 35000, SizeMedium: 80000},
	"comercio":    {SizeSolo: 12000, SizeSmall: 28000, SizeMedium: 65000},
	"servicos":    {SizeSolo: 18000, SizeSmall: 42000, SizeMedium: 95000},
	"imobiliaria": {SizeSolo: 20000, SizeSmall: 50000, SizeMedium: 120000},
}

var caseStudies = map[string][]CaseStudy{
	"saude": {
		{
			Client:    "Dr. Ricardo Silva - Clínica Médica",
			Challenge: "40% dos pacientes não compareciam às consultas",
			Solution:  "Sistema de confirmação automática + lembretes",
			Result:    "Redução de 65% no no-show, aumento de 35% na receita",
		},
		{
			Client:    "Dra. Ana Paula - Odontologia",
			Challenge: "Muito tempo perdido com tarefas administrativas",
			Solution:  "Automação completa do atendimento e agendamento",
			Result:    "60% menos tempo administrativo, 40% mais consultas/dia",
		},
	},
	"comercio": {
		{
			Client:    "Pet Shop Amigo Fiel",
			Challenge: "Muitos clientes abandonavam carrinho online",
			Solution:  "Recuperação automática + atendimento personalizado",
			Result:    "35% aumento nas vendas, 50% recuperação carrinho abandonado",
		},
		{
			Client:    "Restaurante Sabor & Arte",
			Challenge: "Pedidos perdidos por demora no atendimento",
			Solution:  "Cardápio digital + pedidos automatizados",
			Result:    "80% redução em pedidos perdidos, 25% aumento no ticket médio",
		},
	},
	"servicos": {
		{
			Client:    "Advogado Dr. Marcos Costa",
			Challenge: "Dificuldade para captar novos clientes",
			Solution:  "Sistema de captação + qualificação automática",
			Result:    "300% aumento em leads qualificados, 150% crescimento no faturamento",
		},
	},
	"imobiliaria": {
		{
			Client:    "Imobiliária Lar Doce Lar",
			Challenge: "Muitas visitas desmarcadas em cima da hora",
			Solution:  "Confirmação automática + remarketing para interessados",
			Result:    "70% redução em visitas desmarcadas, 45% aumento em fechamentos",
		},
	},
}

// CaseStudiesFor returns the case studies for a business type, or nil.
func CaseStudiesFor(businessType string) []CaseStudy {
	return caseStudies[strings.ToLower(businessType)]
}

// FindRule returns the rule for businessType and the mapped size. A size
// without its own rule falls back to the sozinho rule of the same business.
func FindRule(rules []PricingRule, businessType, companySize string) (PricingRule, bool) {
	bt := strings.ToLower(strings.TrimSpace(businessType))
	size := MapCompanySize(companySize)
	for _, r := range rules {
		if r.BusinessType == bt && r.CompanySize == size {
			return r, true
		}
	}
	for _, r := range rules {
		if r.BusinessType == bt && r.CompanySize == SizeSolo {
			return r, true
		}
	}
	return PricingRule{}, false
}

// CalculateROI projects the yearly return of rule for a lead.
func CalculateROI(rule PricingRule, businessType, companySize string) ROI {
	base := float64(defaultBaseRevenue)
	if bySize, ok := revenueEstimates[strings.ToLower(businessType)]; ok {
		if v, ok := bySize[MapCompanySize(companySize)]; ok {
			base = v
		}
	}
	monthlyIncrease := base * (float64(rule.ROIPercentage) / 100) / 12
	investment := TotalFirstYear(rule)
	roi := 0
	if investment > 0 {
		roi = int(math.Trunc(monthlyIncrease * 12 / investment * 100))
	}
	return ROI{
		CurrentMonthlyRevenue:       base,
		ProjectedIncreaseMonthly:    monthlyIncrease,
		ProjectedIncreasePercentage: rule.ROIPercentage,
		TotalInvestmentYear:         investment,
		NetProfitYear:               monthlyIncrease*12 - investment,
		PaybackMonths:               rule.PaybackMonths,
		ROIPercentage:               roi,
	}
}

// TotalFirstYear is the setup fee plus twelve monthly fees.
func TotalFirstYear(rule PricingRule) float64 {
	return rule.SetupFee + rule.MonthlyFee*12
}

// FormatBRL renders v as Brazilian currency, e.g. "R$ 1.997,00".
func FormatBRL(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	cents := int64(math.Round(v * 100))
	intPart := strconv.FormatInt(cents/100, 10)
	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	out := "R$ " + b.String() + "," + strconv.FormatInt(cents%100+100, 10)[1:]
	if neg {
		out = "-" + out
	}
	return out
}
