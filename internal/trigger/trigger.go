// Package trigger launches follow-up crawl jobs. Launches are fire-and-forget:
// the launched job runs under its own batch guard.
package trigger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// Backend names accepted by trigger.backend.
const (
	BackendLog    = "log"
	BackendNoop   = "noop"
	BackendExec   = "exec"
	BackendPubSub = "pubsub"
	BackendAMQP   = "amqp"
)

// Request is the message body published by the broker backends.
type Request struct {
	SubjectID   string        `json:"subject_id"`
	JobType     graph.JobType `json:"job_type"`
	RequestedAt time.Time     `json:"requested_at"`
}

// NewRequest stamps a launch request.
func NewRequest(subjectID string, jobType graph.JobType, now time.Time) Request {
	return Request{SubjectID: subjectID, JobType: jobType, RequestedAt: now.UTC()}
}

// Log only records launches. It is the default when no backend is wired.
type Log struct {
	logger *zap.Logger
}

var _ graph.JobTrigger = (*Log)(nil)

// NewLog returns a Log trigger.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("trigger")}
}

// Launch logs the request.
func (l *Log) Launch(_ context.Context, subjectID string, jobType graph.JobType) error {
	l.logger.Info("follow-up job requested",
		zap.String("subject_id", subjectID),
		zap.String("job_type", string(jobType)),
	)
	return nil
}

// Noop drops every launch.
type Noop struct{}

// Launch does nothing.
func (Noop) Launch(context.Context, string, graph.JobType) error { return nil }
