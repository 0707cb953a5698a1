// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/clock/system"
	"github.com/JakeFAU/contrib-graph-crawler/internal/config"
	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/logging"
	"github.com/JakeFAU/contrib-graph-crawler/internal/metrics"
	"github.com/JakeFAU/contrib-graph-crawler/internal/storage/memory"
	"github.com/JakeFAU/contrib-graph-crawler/internal/storage/postgres"
	"github.com/JakeFAU/contrib-graph-crawler/internal/telemetry"
	"github.com/JakeFAU/contrib-graph-crawler/internal/trigger"
	amqptrigger "github.com/JakeFAU/contrib-graph-crawler/internal/trigger/amqp"
	exectrigger "github.com/JakeFAU/contrib-graph-crawler/internal/trigger/exec"
	pubsubtrigger "github.com/JakeFAU/contrib-graph-crawler/internal/trigger/pubsub"
)

// Store is everything the commands need from persistence.
type Store interface {
	graph.EntityStore
	graph.BatchTracker
	graph.BatchHistory
}

// flushTimeout bounds span export on shutdown.
const flushTimeout = 5 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the shared, long-lived services for one command invocation.
// It is built once in the root command's pre-run hook and closed after the
// command finishes.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    graph.Clock
	store    Store
	trigger  graph.JobTrigger
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	closers  []func() error
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetClock returns the process clock.
func (a *App) GetClock() graph.Clock {
	return a.clock
}

// GetStore exposes the configured entity store and batch log.
func (a *App) GetStore() Store {
	return a.store
}

// GetTrigger returns the follow-up job launcher.
func (a *App) GetTrigger() graph.JobTrigger {
	return a.trigger
}

// GetMetrics returns the crawler's Prometheus collectors.
func (a *App) GetMetrics() *metrics.Collectors {
	return a.metrics
}

// GetGatherer returns the registry backing /metrics.
func (a *App) GetGatherer() prometheus.Gatherer {
	return a.registry
}

// Ready pings the store when it supports it.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// New builds the application services described by cfg. It fails fast if a
// critical service cannot be initialized and releases whatever it already
// opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.New(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName:  logging.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	})

	store, closeStore, err := newStore(ctx, cfg, a.clock, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	if closeStore != nil {
		a.closers = append(a.closers, closeStore)
	}

	launcher, closeTrigger, err := newTrigger(ctx, cfg.Trigger, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.trigger = launcher
	if closeTrigger != nil {
		a.closers = append(a.closers, closeTrigger)
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("trigger", cfg.Trigger.Backend),
	)
	return a, nil
}

func newStore(ctx context.Context, cfg config.Config, clock graph.Clock, logger *zap.Logger) (Store, func() error, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Info("using in-memory store; results are discarded on exit")
		return memory.NewStore(clock), nil, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			TablePrefix:     cfg.DB.TablePrefix,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		}, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize store: %w", err)
		}
		return store, func() error {
			store.Close()
			return nil
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// launchEnv clears start URLs the child would otherwise inherit, so a
// launched job crawls only its subject.
var launchEnv = []string{"CRAWLER_CRAWL_START_URLS="}

func newTrigger(ctx context.Context, cfg config.TriggerConfig, logger *zap.Logger) (graph.JobTrigger, func() error, error) {
	switch cfg.Backend {
	case trigger.BackendLog, "":
		return trigger.NewLog(logger), nil, nil
	case trigger.BackendNoop:
		return trigger.Noop{}, nil, nil
	case trigger.BackendExec:
		l, err := exectrigger.New(exectrigger.Config{
			Binary: cfg.Exec.Binary,
			Args:   cfg.Exec.Args,
			Env:    launchEnv,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize exec trigger: %w", err)
		}
		return l, nil, nil
	case trigger.BackendPubSub:
		p, closer, err := pubsubtrigger.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize pubsub trigger: %w", err)
		}
		return p, closer, nil
	case trigger.BackendAMQP:
		p, closer, err := amqptrigger.Dial(amqptrigger.Config{
			URL:             cfg.AMQP.URL,
			Exchange:        cfg.AMQP.Exchange,
			RoutingKey:      cfg.AMQP.RoutingKey,
			DeclareTopology: cfg.AMQP.DeclareTopology,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize amqp trigger: %w", err)
		}
		return p, closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown trigger backend: %s", cfg.Backend)
	}
}

// Close releases services in reverse order of creation and flushes the
// logger.
func (a *App) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
	}
	// Sync returns EINVAL on terminals.
	_ = a.logger.Sync()
}
