package orders

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// IDGenerator produces order numbers (ORD-<ms>-<0..999>) and internal ids
// (pid_<ms>_<9 base36 chars>). Numbers can collide within one millisecond;
// the unique index on numero_orden rejects the second insert.
type IDGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewIDGenerator() *IDGenerator { return &IDGenerator{} }

// NewSeededIDGenerator is deterministic, for tests.
func NewSeededIDGenerator(seed uint64) *IDGenerator {
	return &IDGenerator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (g *IDGenerator) intN(n int) int {
	if g.rnd == nil {
		return rand.IntN(n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.IntN(n)
}

func (g *IDGenerator) OrderNumber(t time.Time) string {
	return fmt.Sprintf("ORD-%d-%d", t.UnixMilli(), g.intN(1000))
}

func (g *IDGenerator) OrderID(t time.Time) string {
	var b strings.Builder
	b.Grow(9)
	for range 9 {
		b.WriteByte(base36[g.intN(len(base36))])
	}
	return fmt.Sprintf("pid_%d_%s", t.UnixMilli(), b.String())
}
