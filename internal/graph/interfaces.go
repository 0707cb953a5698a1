package graph

import (
	"context"
	"time"
)

// EntityStore persists contributors, places and reviews idempotently.
type EntityStore interface {
	UpsertContributor(ctx context.Context, c Contributor) error
	UpsertPlace(ctx context.Context, p Place) error
	// UpsertReview resolves both natural keys and returns ErrMissingReference
	// when either side is absent.
	UpsertReview(ctx context.Context, r ReviewObservation) error
	ResolveContributor(ctx context.Context, externalID string) (int64, error)
	ResolvePlace(ctx context.Context, name, address string) (int64, error)
}

// BatchTracker appends and queries the batch status log.
type BatchTracker interface {
	Latest(ctx context.Context, subjectID string, jobType JobType) (BatchStatus, error)
	Record(ctx context.Context, subjectID string, status Status, jobType JobType) error
}

// BatchHistory lists prior batch entries, newest first.
type BatchHistory interface {
	History(ctx context.Context, subjectID string, jobType JobType, limit int) ([]BatchStatus, error)
}

// JobTrigger launches an independent crawl for the next traversal phase.
type JobTrigger interface {
	Launch(ctx context.Context, subjectID string, jobType JobType) error
}

// Frontier provides FIFO semantics for crawl targets.
type Frontier interface {
	Enqueue(ctx context.Context, target Target) error
	TryDequeue() (Target, bool)
	Len() int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
