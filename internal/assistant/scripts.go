package assistant

import "strings"

const proposalReply = `Perfeito! Vou preparar uma proposta personalizada para você.

Com base no que conversamos, vou incluir:

✅ Automação completa do atendimento
✅ Integração com WhatsApp Business
✅ Dashboard em tempo real
✅ Relatórios personalizados
✅ Suporte técnico completo

Você recebe a proposta aqui no WhatsApp em instantes.

Que tal uma conversa rápida de 15 minutos para eu te mostrar o sistema funcionando na prática?`

const schedulingReply = `Baseado em tudo que conversamos, tenho certeza absoluta que conseguimos transformar seu negócio.

Nosso especialista já ajudou dezenas de profissionais como você a:
- Economizar 20-30 horas semanais
- Aumentar faturamento em 40-80%
- Ter qualidade de vida de volta

Que tal uma conversa rápida de 15 minutinhos com ele?

Quando você tem um tempinho livre? Hoje à tarde ou amanhã de manhã?`

const genericPresentation = `🚀 Que incrível!

Nossos clientes estão tendo resultados impressionantes:

✅ Economia de 20-30 horas semanais
✅ Aumento de 40-80% no faturamento
✅ Atendimento 24/7 automatizado
✅ Qualidade de vida de volta

Quer ver como isso funciona na prática?

15 minutinhos que podem mudar seu negócio. Hoje à tarde ou amanhã de manhã? 🎯`

const contextualFallback = "Interessante! Me conta mais sobre isso. Como posso te ajudar especificamente?"

const defaultPresentation = "Nossos clientes estão tendo resultados incríveis com nossas automações. Quer saber como isso pode funcionar no seu negócio?"

var presentations = map[string]string{
	"saude": `Incrível! Trabalho com vários médicos e dentistas que transformaram completamente suas práticas.

O VitaFlow é seu agente complementar no cuidado. Enquanto você foca nos pacientes, ele cuida do resto:

• 5 atendentes virtuais trabalhando 24/7
• Economia de 20-30 horas semanais
• +40% em agendamentos`,
	"comercio": `Fantástico! Nossos clientes do comércio estão tendo resultados impressionantes.

Imagina ter 5 vendedores trabalhando 24/7:

• Vendas automáticas
• WhatsApp Business automatizado
• Marketing personalizado
• Controle total`,
	"servicos": `Perfeito! Profissionais liberais são os que mais se beneficiam das nossas soluções.

É como ter um assistente pessoal 24/7 que nunca tira férias:

• Captação automática
• Processos automatizados
• Agenda otimizada
• Cobrança automática`,
	"imobiliaria": `Excelente! Imagina ser a imobiliária que:

• Responde na hora, 24/7
• Qualifica leads automaticamente
• Acompanha todo o processo
• Fecha mais negócios`,
}

var objections = map[string]string{
	"preco": `Ótima pergunta! Vou te mostrar uma conta:

Sem automação você gasta 20h/semana com tarefas repetitivas. Se seu tempo vale R$ 100/hora, são R$ 8.000/mês perdidos.

Com a Crânios o investimento começa em R$ 247/mês.

A pergunta não é se está caro... é se você pode continuar perdendo esse tempo!`,
	"tempo": `Entendo perfeitamente! E é exatamente por isso que você precisa disso.

Nossos clientes economizam 20-30 horas por semana. São 15 minutinhos de conversa que podem te devolver centenas de horas.

Não vale o investimento?`,
	"complexidade": `Essa é a melhor parte!

Nosso sistema foi feito pensando em pessoas ocupadas como você. Tudo é clique e pronto, e nossa equipe configura tudo para você.

É mais fácil que pedir comida pelo app!`,
}

const defaultObjection = "Entendo sua preocupação. Que tal conversarmos sobre isso? Posso esclarecer todas suas dúvidas."

func businessPresentation(businessType string) string {
	if p, ok := presentations[businessType]; ok {
		return p
	}
	return defaultPresentation
}

func objectionReply(kind string) string {
	if r, ok := objections[kind]; ok {
		return r
	}
	return defaultObjection
}

const greetingIntro = "Sou a Ana, assistente virtual da Crânios. 😊\n\n"

const leadSourceQuestion = `Antes de mais nada, como você nos conheceu?

1️⃣ Lívia Team
2️⃣ Indicação de um cliente
3️⃣ Redes sociais
4️⃣ Pesquisa no Google
5️⃣ Outro

Digite o número da opção ou me conte como soube da gente! 😊`

const businessTypeQuestion = `Para eu te ajudar melhor, qual sua área de atuação?

1️⃣ Saúde (médico, dentista, clínica)
2️⃣ Comércio (loja, pet shop, restaurante)
3️⃣ Serviços (advogado, corretor, consultor)
4️⃣ Imobiliária
5️⃣ Outro

Digite o número ou me conte sua área! 📋`

const companySizeQuestion = `Para dimensionar melhor a solução:

1️⃣ Trabalho sozinho(a)
2️⃣ Tenho 2-5 funcionários
3️⃣ Tenho 6-15 funcionários
4️⃣ Tenho mais de 15 funcionários

Qual se encaixa melhor? 🏢`

const mainChallengeQuestion = `E qual seu maior desafio hoje?

1️⃣ Muito tempo perdido com tarefas repetitivas
2️⃣ Atendimento ao cliente demorado/limitado
3️⃣ Perda de clientes por falta de follow-up
4️⃣ Controle financeiro/administrativo
5️⃣ Captação de novos clientes

Qual é sua maior dor? 🎯`

const missingDataIntro = "Para preparar sua proposta preciso de mais alguns dados. 📋\n\n"

const qualifiedClosing = "\n\nQuer que eu prepare uma proposta personalizada para você? É só pedir! 📄"

// stageReply is the scripted answer while the lead is being qualified.
func stageReply(from, next string, name string) string {
	var b strings.Builder
	if from == StageGreeting {
		b.WriteString("Olá")
		if name != "" {
			b.WriteString(" " + name)
		}
		b.WriteString("! 👋\n\n")
		b.WriteString(greetingIntro)
	} else if next != StageQualified {
		b.WriteString("Perfeito! 🎯\n\n")
	}
	if q, ok := questionFor(next); ok {
		b.WriteString(q.prompt)
	}
	return b.String()
}
