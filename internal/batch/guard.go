// Package batch serializes runs per (subject, job type) through the batch
// status log.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// ErrSkipped is returned when another run of the same subject and job type is
// already in progress.
var ErrSkipped = errors.New("batch already in progress")

const recordTimeout = 10 * time.Second

// TransitionObserver is notified of every status the guard records.
type TransitionObserver interface {
	BatchTransition(jobType graph.JobType, status graph.Status)
}

// Options tunes a Guard.
type Options struct {
	// StaleAfter treats an in_progress entry older than this as abandoned.
	// Zero never considers an entry stale.
	StaleAfter time.Duration
	Clock      graph.Clock
	Observer   TransitionObserver
}

// Guard wraps job bodies with batch status bookkeeping.
type Guard struct {
	tracker graph.BatchTracker
	logger  *zap.Logger
	opts    Options
}

// NewGuard constructs a Guard.
func NewGuard(tracker graph.BatchTracker, logger *zap.Logger, opts Options) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{tracker: tracker, logger: logger.Named("batch"), opts: opts}
}

func (g *Guard) now() time.Time {
	if g.opts.Clock == nil {
		return time.Now().UTC()
	}
	return g.opts.Clock.Now()
}

// Run executes fn unless the latest entry for the key is in_progress. It
// records in_progress before fn and completed or error afterwards, even when
// ctx is canceled or fn panics. Closers run after the final status is
// recorded.
func (g *Guard) Run(
	ctx context.Context,
	subjectID string,
	jobType graph.JobType,
	fn func(context.Context) error,
	closers ...func() error,
) (err error) {
	logger := g.logger.With(zap.String("subject_id", subjectID), zap.String("job_type", string(jobType)))

	latest, err := g.tracker.Latest(ctx, subjectID, jobType)
	switch {
	case errors.Is(err, graph.ErrNotFound):
	case err != nil:
		runClosers(logger, closers)
		return fmt.Errorf("check batch status: %w", err)
	case latest.Status == graph.StatusInProgress && !g.stale(latest):
		logger.Info("batch already in progress, skipping", zap.Time("started_at", latest.CreatedAt))
		runClosers(logger, closers)
		return ErrSkipped
	case latest.Status == graph.StatusInProgress:
		logger.Warn("taking over stale batch", zap.Time("started_at", latest.CreatedAt))
	}

	if err := g.record(ctx, subjectID, graph.StatusInProgress, jobType); err != nil {
		runClosers(logger, closers)
		return err
	}
	logger.Info("batch started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
		status := graph.StatusCompleted
		if err != nil {
			status = graph.StatusError
		}
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if recErr := g.record(recCtx, subjectID, status, jobType); recErr != nil {
			logger.Error("record final batch status failed", zap.Error(recErr))
			if err == nil {
				err = recErr
			}
		}
		runClosers(logger, closers)
		if status == graph.StatusError {
			logger.Error("batch failed", zap.Error(err))
			return
		}
		logger.Info("batch completed")
	}()

	return fn(ctx)
}

func (g *Guard) stale(latest graph.BatchStatus) bool {
	if g.opts.StaleAfter <= 0 {
		return false
	}
	return g.now().Sub(latest.CreatedAt) > g.opts.StaleAfter
}

func (g *Guard) record(ctx context.Context, subjectID string, status graph.Status, jobType graph.JobType) error {
	if err := g.tracker.Record(ctx, subjectID, status, jobType); err != nil {
		return fmt.Errorf("record batch %s: %w", status, err)
	}
	if g.opts.Observer != nil {
		g.opts.Observer.BatchTransition(jobType, status)
	}
	return nil
}

func runClosers(logger *zap.Logger, closers []func() error) {
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c(); err != nil {
			logger.Warn("release batch resource", zap.Error(err))
		}
	}
}
