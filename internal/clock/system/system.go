// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// Clock implements graph.Clock using time.Now.
type Clock struct{}

var _ graph.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC, matching the timestamptz columns.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
