package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/llm"
	"github.com/rs/zerolog"
)

var ErrEmptyQuestion = errors.New("question is required")

const chatSystemPrompt = `Eres un asistente AI amigable y servicial.
Debes responder siempre en español.
Mantén un tono conversacional y natural.
Si no entiendes algo, pide clarificación en español.`

const moreContentMarker = "// ... (contenido adicional disponible)"

type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (*llm.Completion, error)
}

type Service struct {
	llm      Completer
	personas *Personas
	counters *Counters
	log      zerolog.Logger
}

func NewService(c Completer, personas *Personas, counters *Counters, log zerolog.Logger) *Service {
	return &Service{llm: c, personas: personas, counters: counters, log: log}
}

func (s *Service) Personas() *Personas { return s.personas }

func (s *Service) Counters() *Counters { return s.counters }

// Ask shapes the question with the response rules and sends it with the
// chat system prompt.
func (s *Service) Ask(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	prompt := BuildPrompt(question)
	s.log.Debug().Str("prompt", prompt).Msg("chat prompt")
	return s.complete(ctx, []llm.Message{
		{Role: "system", Content: chatSystemPrompt},
		{Role: "user", Content: prompt},
	})
}

// Relay forwards a message unchanged.
func (s *Service) Relay(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyQuestion
	}
	return s.complete(ctx, []llm.Message{{Role: "user", Content: message}})
}

type Analysis struct {
	Language string `json:"lenguaje"`
	Sections int    `json:"secciones"`
	Answer   string `json:"respuesta"`
}

// AnalysisPrompt builds the code review prompt. Only the first section of
// oversized content is sent.
func AnalysisPrompt(p Persona, content, question, ext string) (prompt, language string, sections int) {
	chunks := SplitContent(content, MaxContentLength)
	language = DetectLanguage(content, ext)

	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	fmt.Fprintf(&b, "\n\nLENGUAJE: %s\nCÓDIGO A ANALIZAR:\n%s", language, chunks[0])
	if len(chunks) > 1 {
		b.WriteString("\n" + moreContentMarker)
	}
	fmt.Fprintf(&b, "\n\nPREGUNTA DEL USUARIO: \"%s\"", question)
	return b.String(), language, len(chunks)
}

func (s *Service) AnalyzeCode(ctx context.Context, content, question, ext string) (*Analysis, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content", ErrEmptyQuestion)
	}
	prompt, lang, sections := AnalysisPrompt(s.personas.Active(), content, question, ext)
	answer, err := s.complete(ctx, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, err
	}
	return &Analysis{Language: lang, Sections: sections, Answer: answer}, nil
}

func (s *Service) complete(ctx context.Context, msgs []llm.Message) (string, error) {
	out, err := s.llm.Complete(ctx, msgs)
	if err != nil {
		s.log.Error().Err(err).Msg("completion failed")
		return "", err
	}
	text := out.Text()
	s.counters.Record(out.Usage.TotalTokens, text)
	return text, nil
}
