package workflow

import (
	"fmt"
	"sync"
)

// Store serializes access to a Graph. Every mutation, including each streamed
// chunk, runs as one Update.
type Store struct {
	mu sync.Mutex
	g  *Graph
}

// NewStore wraps g. A nil g starts from an empty graph.
func NewStore(g *Graph) *Store {
	if g == nil {
		g = New()
	}
	return &Store{g: g}
}

// Update runs fn with exclusive access to the graph.
func (s *Store) Update(fn func(*Graph) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.g)
}

// View runs fn with exclusive access to the graph. fn must not mutate it.
func (s *Store) View(fn func(*Graph)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.g)
}

// Replace swaps in a new graph wholesale, e.g. after loading. It refuses
// while a node of the current graph is executing.
func (s *Store) Replace(g *Graph) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range sortedKeys(s.g.nodes) {
		if s.g.nodes[id].IsExecuting {
			return fmt.Errorf("replace workflow: node %d: %w", id, ErrAlreadyExecuting)
		}
	}
	s.g = g
	return nil
}

// Snapshot returns a deep copy of the current graph.
func (s *Store) Snapshot() *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.g.Clone()
}
