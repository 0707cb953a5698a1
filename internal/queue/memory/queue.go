// Package memory provides the in-process crawl frontier.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

var (
	// ErrFull is returned when the frontier has no room for another target.
	ErrFull = errors.New("frontier full")
	// ErrClosed is returned when enqueueing into a closed frontier.
	ErrClosed = errors.New("frontier closed")
)

// Queue is a bounded FIFO of crawl targets. A URL is admitted at most once
// for the lifetime of the queue.
type Queue struct {
	ch     chan graph.Target
	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
}

var _ graph.Frontier = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan graph.Target, capacity),
		seen: make(map[string]struct{}),
	}
}

// Enqueue appends a target unless its URL was already admitted. It never
// blocks; a full queue reports ErrFull.
func (q *Queue) Enqueue(ctx context.Context, target graph.Target) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, dup := q.seen[target.URL]; dup {
		return nil
	}
	select {
	case q.ch <- target:
		q.seen[target.URL] = struct{}{}
		return nil
	default:
		return fmt.Errorf("enqueue %s: %w", target.URL, ErrFull)
	}
}

// TryDequeue pops the next target without blocking.
func (q *Queue) TryDequeue() (graph.Target, bool) {
	select {
	case t, ok := <-q.ch:
		return t, ok
	default:
		return graph.Target{}, false
	}
}

// Dequeue pops the next target, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (graph.Target, error) {
	select {
	case <-ctx.Done():
		return graph.Target{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case t, ok := <-q.ch:
		if !ok {
			return graph.Target{}, ErrClosed
		}
		return t, nil
	}
}

// Len reports the number of pending targets.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
