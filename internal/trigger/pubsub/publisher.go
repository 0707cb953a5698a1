// Package pubsub publishes follow-up job requests to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/trigger"
)

// Attribute keys set on every message.
const (
	AttrSubjectID = "subject_id"
	AttrJobType   = "job_type"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	publish func(ctx context.Context, msg *pubsub.Message) (string, error)
	now     func() time.Time
	logger  *zap.Logger
}

var _ graph.JobTrigger = (*Publisher)(nil)

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher, logger *zap.Logger) *Publisher {
	var publishFn func(context.Context, *pubsub.Message) (string, error)
	if publisher != nil {
		publishFn = func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return publisher.Publish(ctx, msg).Get(ctx)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{publish: publishFn, now: time.Now, logger: logger.Named("trigger.pubsub")}
}

// Dial opens a client for project and returns a Publisher bound to topic,
// plus a closer that flushes and releases the client.
func Dial(ctx context.Context, project, topic string, logger *zap.Logger) (*Publisher, func() error, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	publisher := client.Publisher(topic)
	closer := func() error {
		publisher.Stop()
		if err := client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
		return nil
	}
	return New(publisher, logger), closer, nil
}

// Launch publishes a job request and waits for the server ack.
func (p *Publisher) Launch(ctx context.Context, subjectID string, jobType graph.JobType) error {
	if p.publish == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(trigger.NewRequest(subjectID, jobType, p.now()))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrSubjectID: subjectID,
			AttrJobType:   string(jobType),
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	id, err := p.publish(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	p.logger.Info("follow-up job published",
		zap.String("message_id", id),
		zap.String("subject_id", subjectID),
		zap.String("job_type", string(jobType)),
	)
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
