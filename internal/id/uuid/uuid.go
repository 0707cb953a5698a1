// Package uuid provides run id generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// Generator creates UUID v7 strings, so run ids sort by start time.
type Generator struct{}

var _ graph.IDGenerator = Generator{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
