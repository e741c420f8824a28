package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/assistant"
	"github.com/go-chi/chi/v5"
)

const noAnswer = "Sin respuesta del servidor"

type ChatHandler struct {
	Assistant *assistant.Service
}

// chatReq is accepted on both chat routes. Storefront pages send pregunta
// and get the shaped prompt; older clients send message and get a raw relay.
type chatReq struct {
	Question string `json:"pregunta"`
	Message  string `json:"message"`
}

type askResp struct {
	Error   bool   `json:"error"`
	Answer  string `json:"respuesta,omitempty"`
	Message string `json:"mensaje,omitempty"`
}

type analyzeReq struct {
	Content   string `json:"contenido"`
	Question  string `json:"pregunta"`
	Extension string `json:"extension"`
}

type analyzeResp struct {
	Error bool `json:"error"`
	*assistant.Analysis
}

func (h *ChatHandler) Register(r chi.Router) {
	r.Post("/api/chat", h.chat)
	r.Post("/chat", h.chat)
	r.Post("/api/analyze", h.analyze)
	r.Get("/api/contadores", h.counters)
	r.Delete("/api/contadores", h.resetCounters)
	r.Get("/api/prompts", h.prompts)
	r.Put("/api/prompts", h.setPrompts)
}

func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	var req chatReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, askResp{Error: true, Message: "La pregunta es requerida"})
		return
	}
	switch {
	case strings.TrimSpace(req.Question) != "":
		h.ask(w, r, req.Question)
	case strings.TrimSpace(req.Message) != "":
		h.relay(w, r, req.Message)
	default:
		writeJSON(w, http.StatusBadRequest, askResp{Error: true, Message: "La pregunta es requerida"})
	}
}

func (h *ChatHandler) ask(w http.ResponseWriter, r *http.Request, question string) {
	answer, err := h.Assistant.Ask(r.Context(), question)
	if err != nil {
		writeJSON(w, statusFor(err), askResp{Error: true, Message: err.Error()})
		return
	}
	if answer == "" {
		answer = noAnswer
	}
	writeJSON(w, http.StatusOK, askResp{Answer: answer})
}

// relay passes the message through with no prompt shaping.
func (h *ChatHandler) relay(w http.ResponseWriter, r *http.Request, message string) {
	answer, err := h.Assistant.Relay(r.Context(), message)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{
			"error":   "Error en la comunicación con el modelo",
			"details": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": answer})
}

func (h *ChatHandler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, askResp{Error: true, Message: err.Error()})
		return
	}
	a, err := h.Assistant.AnalyzeCode(r.Context(), req.Content, req.Question, req.Extension)
	if err != nil {
		writeJSON(w, statusFor(err), askResp{Error: true, Message: err.Error()})
		return
	}
	if a.Answer == "" {
		a.Answer = noAnswer
	}
	writeJSON(w, http.StatusOK, analyzeResp{Analysis: a})
}

func (h *ChatHandler) counters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Assistant.Counters().Snapshot())
}

func (h *ChatHandler) resetCounters(w http.ResponseWriter, _ *http.Request) {
	h.Assistant.Counters().Reset()
	writeJSON(w, http.StatusOK, h.Assistant.Counters().Snapshot())
}

func (h *ChatHandler) prompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, assistant.ActivationResult{Success: true, Personas: h.Assistant.Personas().All()})
}

func (h *ChatHandler) setPrompts(w http.ResponseWriter, r *http.Request) {
	var states map[string]bool
	if err := decodeJSON(r, &states, false); err != nil || len(states) == 0 {
		writeJSON(w, http.StatusBadRequest, assistant.ActivationResult{Message: "expected a map of prompt keys to booleans"})
		return
	}
	res := h.Assistant.Personas().SetActive(states)
	code := http.StatusOK
	if !res.Success {
		code = http.StatusConflict
	}
	writeJSON(w, code, res)
}
