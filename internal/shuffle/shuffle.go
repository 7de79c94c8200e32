// Package shuffle produces the session-unique presentation orders for
// questions and options. A generator is invoked exactly once per session,
// at creation; the result is persisted and never recomputed.
package shuffle

import (
	"math/rand"
	"sync"
	"time"
)

// Generator yields unbiased random permutations. Safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a generator seeded from the wall clock.
func New() *Generator {
	return NewWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewWithSource allows deterministic permutations in tests.
func NewWithSource(src rand.Source) *Generator {
	return &Generator{rnd: rand.New(src)}
}

// OrderQuestions returns the presentation order for question ids. When
// shuffle is false the input order is preserved; callers rely on that.
func (g *Generator) OrderQuestions(questionIDs []string, shuffle bool) []string {
	return g.order(questionIDs, shuffle)
}

// OrderOptions returns the presentation order for one question's option ids.
func (g *Generator) OrderOptions(optionIDs []string, shuffle bool) []string {
	return g.order(optionIDs, shuffle)
}

// order copies ids and, when asked, applies a Fisher-Yates shuffle to the
// copy. The input slice is never mutated.
func (g *Generator) order(ids []string, shuffle bool) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	if !shuffle {
		return out
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(out) - 1; i > 0; i-- {
		j := g.rnd.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
