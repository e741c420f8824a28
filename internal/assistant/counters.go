package assistant

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
)

type Totals struct {
	Tokens int64 `json:"totalTokens"`
	Words  int64 `json:"totalWords"`
	Chars  int64 `json:"totalChars"`
}

// Counters accumulate chat usage for the lifetime of the process. Reset
// clears the totals; the exported Prometheus counters stay monotonic.
type Counters struct {
	mu     sync.Mutex
	totals Totals

	tokens prometheus.Counter
	words  prometheus.Counter
	chars  prometheus.Counter
}

// NewCounters registers with reg when it is not nil.
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "chat", Name: "tokens_total", Help: "LLM tokens used.",
		}),
		words: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "chat", Name: "words_total", Help: "Words in chat answers.",
		}),
		chars: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront", Subsystem: "chat", Name: "chars_total", Help: "Characters in chat answers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.tokens, c.words, c.chars)
	}
	return c
}

func (c *Counters) Add(tokens, words, chars int) {
	c.mu.Lock()
	c.totals.Tokens += int64(tokens)
	c.totals.Words += int64(words)
	c.totals.Chars += int64(chars)
	c.mu.Unlock()

	c.tokens.Add(float64(tokens))
	c.words.Add(float64(words))
	c.chars.Add(float64(chars))
}

// Record counts an answer text plus the tokens the provider billed for it.
func (c *Counters) Record(tokens int, text string) {
	c.Add(tokens, len(strings.Fields(text)), utf8.RuneCountInString(text))
}

func (c *Counters) Snapshot() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals
}

// Reset zeroes the totals and returns the values they had.
func (c *Counters) Reset() Totals {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.totals
	c.totals = Totals{}
	return prev
}
