package report

import (
	"strings"

	"github.com/campaign-lens/backend/internal/llm"
)

const promptHeader = `Eres un analista experto en email marketing de clase mundial. Tu tarea es analizar los siguientes datos de una campaña de email, extraídos de un archivo de reporte (que puede ser un PDF, CSV o texto plano), y generar un informe completo y profesional en español.

Datos de la campaña:
` + "```" + `
`

const promptFooter = `
` + "```" + `

Basándote en estos datos, genera un informe que contenga lo siguiente:
1. Un título conciso para la campaña.
2. Un resumen ejecutivo del rendimiento general.
3. Los KPIs más importantes (Tasa de Apertura, Tasa de Clics (CTR), Tasa de Rebote, Tasa de Bajas). Calcúlalos si es necesario a partir de los datos brutos como "enviados", "abiertos", "clics". Proporciona el valor y una breve interpretación.
4. Una lista de 3 a 5 insights positivos sobre lo que funcionó bien.
5. Una lista de 3 a 5 áreas de mejora.
6. Una lista de 3 a 5 recomendaciones accionables y específicas para optimizar futuras campañas.

Responde únicamente con un objeto JSON que se ajuste estrictamente al esquema proporcionado. No incluyas texto introductorio, explicaciones adicionales ni la palabra "json" o ` + "```" + `.`

// BuildPrompt returns the analyst instruction with text embedded verbatim.
func BuildPrompt(text string) string {
	var b strings.Builder
	b.Grow(len(promptHeader) + len(text) + len(promptFooter))
	b.WriteString(promptHeader)
	b.WriteString(text)
	b.WriteString(promptFooter)
	return b.String()
}

// ReportSchema is the response shape requested from the provider.
func ReportSchema() *llm.Schema {
	kpi := llm.Object("",
		llm.Prop("name", llm.String("Nombre del KPI (ej. Tasa de Apertura, CTR).")),
		llm.Prop("value", llm.String("El valor del KPI (ej. 25.4%, 3.1%).")),
		llm.Prop("interpretation", llm.String("Una breve explicación de lo que significa este valor en el contexto de la campaña.")),
	)

	s := llm.Object("",
		llm.Prop("campaignTitle", llm.String("Un título corto y descriptivo para la campaña analizada.")),
		llm.Prop("summary", llm.String("Un resumen ejecutivo de 2-3 frases sobre el rendimiento general de la campaña.")),
		llm.Prop("kpis", llm.ArrayOf(kpi, "Indicadores Clave de Rendimiento (KPIs) extraídos o calculados de los datos.")),
		llm.Prop("positiveInsights", llm.ArrayOf(llm.String(""), "Una lista de 3-5 puntos destacando los aspectos positivos o lo que funcionó bien en la campaña.")),
		llm.Prop("areasForImprovement", llm.ArrayOf(llm.String(""), "Una lista de 3-5 puntos identificando áreas donde la campaña podría haber tenido un mejor rendimiento.")),
		llm.Prop("actionableRecommendations", llm.ArrayOf(llm.String(""), "Una lista de 3-5 recomendaciones específicas y accionables para mejorar futuras campañas.")),
	)
	s.Name = "campaign_report"
	return s
}
