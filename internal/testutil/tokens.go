package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens generates predictable, never-repeating sync tokens.
//
// This enables deterministic debugger transcripts and golden comparison.
// Tokens are "<prefix>1", "<prefix>2", ... in call order.
//
// Thread-safety: SequenceTokens is safe for concurrent use via internal mutex.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens creates a generator whose first token is prefix+"1".
// If prefix is empty, "tok" is used.
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "tok"
	}
	return &SequenceTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s%d", g.prefix, g.n)
}
