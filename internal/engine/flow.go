package engine

import (
	"sync"

	"github.com/google/uuid"
)

// FlowTokenGenerator mints flow tokens. A flow token doubles as the
// request id that correlates every record of one external request.
type FlowTokenGenerator interface {
	Generate() string
}

// UUIDv7Generator mints time-sortable UUIDv7 tokens.
type UUIDv7Generator struct{}

func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator hands out predetermined tokens in order and panics once
// they run out, which catches tests that start more flows than expected.
type FixedGenerator struct {
	mu     sync.Mutex
	tokens []string
	idx    int
}

func NewFixedGenerator(tokens ...string) *FixedGenerator {
	return &FixedGenerator{tokens: tokens}
}

func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.tokens) {
		panic("FixedGenerator: all tokens exhausted")
	}
	token := g.tokens[g.idx]
	g.idx++
	return token
}
