package assistant

import (
	"fmt"
	"sync"
)

const (
	PersonaDefault    = "default"
	PersonaProgrammer = "programmer"
	PersonaTeacher    = "teacher"
)

type Persona struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
	Active       bool   `json:"active"`
}

// Personas holds the selectable system prompts. Exactly one is active.
type Personas struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*Persona
}

func DefaultPersonas() *Personas {
	list := []Persona{
		{Key: PersonaDefault, Name: "Por defecto", SystemPrompt: "SISTEMA: Eres un experto analizador de código y diseñador de componentes en Svelte.\n" +
			"ESTRUCTURA DE RESPUESTA REQUERIDA:\n1. EXPLICACIÓN\n- Análisis claro y conciso del código\n- Propósito y funcionamiento\n- Contexto de implementación"},
		{Key: PersonaProgrammer, Name: "Programador senior", SystemPrompt: "SISTEMA: Eres un programador senior con 15 años de experiencia.\n" +
			"Enfócate en patrones de diseño, optimización y mejores prácticas.", Active: true},
		{Key: PersonaTeacher, Name: "Profesor de Programación", SystemPrompt: "SISTEMA: Eres un profesor de programación.\n" +
			"Explica detalladamente cada concepto y proporciona ejemplos didácticos."},
	}
	p := &Personas{byKey: make(map[string]*Persona, len(list))}
	for i := range list {
		p.order = append(p.order, list[i].Key)
		p.byKey[list[i].Key] = &list[i]
	}
	return p
}

func (p *Personas) Active() Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, k := range p.order {
		if p.byKey[k].Active {
			return *p.byKey[k]
		}
	}
	return *p.byKey[PersonaDefault]
}

func (p *Personas) All() []Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Persona, 0, len(p.order))
	for _, k := range p.order {
		out = append(out, *p.byKey[k])
	}
	return out
}

type ActivationResult struct {
	Success  bool      `json:"success"`
	Failed   []string  `json:"failed,omitempty"`
	Message  string    `json:"message,omitempty"`
	Personas []Persona `json:"prompts"`
}

// SetActive applies the requested flags in persona order. Activating one
// persona deactivates the others; deactivating the active one falls back to
// default. Asking to activate the persona that is already active, or naming
// an unknown persona, is reported as a failed change.
func (p *Personas) SetActive(states map[string]bool) ActivationResult {
	p.mu.Lock()
	var failed []string
	for k := range states {
		if _, ok := p.byKey[k]; !ok {
			failed = append(failed, k)
		}
	}
	for _, k := range p.order {
		want, ok := states[k]
		if !ok {
			continue
		}
		cur := p.byKey[k]
		switch {
		case want && cur.Active:
			failed = append(failed, k)
		case want:
			for _, other := range p.byKey {
				other.Active = false
			}
			cur.Active = true
		case cur.Active:
			cur.Active = false
			p.byKey[PersonaDefault].Active = true
		}
	}
	p.mu.Unlock()

	res := ActivationResult{Success: len(failed) == 0, Failed: failed, Personas: p.All()}
	if !res.Success {
		res.Message = fmt.Sprintf("could not change prompts: %v", failed)
	}
	return res
}
