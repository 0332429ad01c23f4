package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LineageGenerator names the causal tree rooted at one published event.
// Every event derived from that submission carries the same token.
type LineageGenerator interface {
	Generate() string
}

// UUIDv7Generator is the default. UUIDv7 leads with a millisecond
// timestamp, so lineages list in submission order.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator replays a scripted list of tokens. It panics once the
// list runs out, which means a test published more events than it planned.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	used   int
}

func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.used == len(g.tokens) {
		panic(fmt.Sprintf("FixedGenerator: all %d tokens exhausted", len(g.tokens)))
	}
	g.used++
	return g.tokens[g.used-1]
}
