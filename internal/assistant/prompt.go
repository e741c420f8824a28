package assistant

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type Intent string

const (
	IntentGenerate Intent = "GENERATE"
	IntentAnalyze  Intent = "ANALYZE"
	IntentReturn   Intent = "RETURN"
	IntentModify   Intent = "MODIFY"
)

// ConversationalLabel is the prompt context when no intent matches.
const ConversationalLabel = "CONVERSACIONAL"

// Checked in order; the first set with a substring hit wins.
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentGenerate, []string{"generar", "crear", "implementar", "desarrollar", "hacer"}},
	{IntentAnalyze, []string{"analizar", "revisar", "examinar", "explicar"}},
	{IntentReturn, []string{"devolver", "mostrar", "obtener"}},
	{IntentModify, []string{"modificar", "cambiar", "actualizar", "mejorar", "implementar cambios"}},
}

func ClassifyIntent(text string) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, set := range intentKeywords {
		for _, kw := range set.keywords {
			if strings.Contains(lower, kw) {
				return set.intent, true
			}
		}
	}
	return "", false
}

const responseRules = `SISTEMA: Asistente de programación con formato estructurado.

REGLAS OBLIGATORIAS DE RESPUESTA:
1. Separar SIEMPRE el texto explicativo del código
2. Todo código DEBE ir precedido por la palabra "code"
3. SIEMPRE cerrar todas las etiquetas HTML/JSX/Svelte
4. Mantener el código completo y formateado
5. Máximo 3 párrafos de explicación

FORMATO OBLIGATORIO:
[Texto explicativo]

code
[Bloque de código]

IMPORTANTE:
- NO usar comillas invertidas para código
- NUNCA mezclar texto y código en el mismo bloque`

// BuildPrompt wraps the question in the response rules and tags it with the
// classified intent.
func BuildPrompt(question string) string {
	label := ConversationalLabel
	if intent, ok := ClassifyIntent(question); ok {
		label = string(intent)
	}
	return fmt.Sprintf("%s\n\nPREGUNTA: \"%s\"\nCONTEXTO: %s", responseRules, question, label)
}

// MaxContentLength bounds one chunk of source code sent for analysis.
const MaxContentLength = 15000

// SplitContent cuts content into chunks of at most maxLen characters without
// breaking lines. strings.Join(chunks, "\n") gives back content. A single
// line longer than maxLen becomes its own oversized chunk.
func SplitContent(content string, maxLen int) []string {
	if maxLen <= 0 || utf8.RuneCountInString(content) <= maxLen {
		return []string{content}
	}
	var (
		chunks []string
		cur    strings.Builder
		curLen int
		open   bool
	)
	for _, line := range strings.Split(content, "\n") {
		n := utf8.RuneCountInString(line)
		if open && curLen+1+n > maxLen {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen, open = 0, false
		}
		if open {
			cur.WriteByte('\n')
			curLen++
		}
		cur.WriteString(line)
		curLen += n
		open = true
	}
	return append(chunks, cur.String())
}
