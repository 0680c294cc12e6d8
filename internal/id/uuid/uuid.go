// Package uuid provides run ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 run ids, so run listings sort by
// creation without an extra column.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a fresh UUIDv7.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate run id: %w", err)
	}
	return id, nil
}

// Sequence hands out a fixed list of ids and then fails. It backs tests that
// need predictable run ids.
type Sequence struct {
	ids []uuid.UUID
}

// NewSequence returns a Sequence yielding ids in order.
func NewSequence(ids ...uuid.UUID) *Sequence {
	return &Sequence{ids: ids}
}

// NewRunID returns the next id.
func (s *Sequence) NewRunID() (uuid.UUID, error) {
	if len(s.ids) == 0 {
		return uuid.Nil, fmt.Errorf("generate run id: sequence exhausted")
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return id, nil
}
