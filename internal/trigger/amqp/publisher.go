// Package amqp publishes follow-up job requests to a RabbitMQ exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/trigger"
)

// Defaults used when the config leaves them empty.
const (
	DefaultExchange   = "crawler"
	DefaultRoutingKey = "contrib-graph.job.requested.v1"
)

// Config selects the broker and routing.
type Config struct {
	URL             string
	Exchange        string
	RoutingKey      string
	DeclareTopology bool
}

type publishFunc func(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

// Publisher sends job requests as persistent JSON messages.
type Publisher struct {
	exchange   string
	routingKey string
	publish    publishFunc
	now        func() time.Time
	logger     *zap.Logger
}

var _ graph.JobTrigger = (*Publisher)(nil)

// New wraps an open channel. A nil channel yields a Publisher whose launches
// fail.
func New(channel *amqp.Channel, cfg Config, logger *zap.Logger) *Publisher {
	var publishFn publishFunc
	if channel != nil {
		publishFn = channel.PublishWithContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = DefaultRoutingKey
	}
	return &Publisher{
		exchange:   exchange,
		routingKey: routingKey,
		publish:    publishFn,
		now:        time.Now,
		logger:     logger.Named("trigger.amqp"),
	}
}

// Dial connects to the broker, optionally declares the exchange, and returns
// a Publisher with a closer for the connection.
func Dial(cfg Config, logger *zap.Logger) (*Publisher, func() error, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, nil, errors.New("rabbitmq url is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	p := New(ch, cfg, logger)
	if cfg.DeclareTopology {
		if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("declare exchange %s: %w", p.exchange, err)
		}
	}
	closer := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, closer, nil
}

// Launch publishes one job request.
func (p *Publisher) Launch(ctx context.Context, subjectID string, jobType graph.JobType) error {
	if p.publish == nil {
		return errors.New("rabbitmq disabled")
	}
	req := trigger.NewRequest(subjectID, jobType, p.now())
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	err = p.publish(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    req.RequestedAt,
		MessageId:    subjectID + ":" + string(jobType),
		Type:         string(jobType),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.exchange, err)
	}
	p.logger.Info("follow-up job published",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", p.routingKey),
		zap.String("subject_id", subjectID),
		zap.String("job_type", string(jobType)),
	)
	return nil
}
