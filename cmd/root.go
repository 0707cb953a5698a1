package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/app"
	"github.com/JakeFAU/contrib-graph-crawler/internal/config"
	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/logging"
	"github.com/JakeFAU/contrib-graph-crawler/internal/metrics"
)

type contextKey string

const (
	appKey contextKey = "app"
	envKey contextKey = "env"
)

// skipServices marks commands that only need config and a logger.
const skipServices = "skip-services"

// App defines the application services commands use. It is an interface so
// tests can inject a fake.
type App interface {
	Close()
	Config() config.Config
	GetLogger() *zap.Logger
	GetClock() graph.Clock
	GetStore() app.Store
	GetTrigger() graph.JobTrigger
	GetMetrics() *metrics.Collectors
	GetGatherer() prometheus.Gatherer
	Ready(ctx context.Context) error
}

// cliEnv is what every command gets, with or without services.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "contrib-crawler",
		Short: "Crawls the contributor/place review graph of Google Maps.",
		Long: `contrib-crawler walks Google Maps review lists. From a contributor it
collects the places they reviewed; from a place it collects the other people
who reviewed it. Results are upserted into Postgres and every traversal phase
is tracked in a batch status log so concurrent or repeated jobs skip work that
is already running or done.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), envKey, &cliEnv{cfg: cfg, logger: logger})
			if cmd.Annotations[skipServices] == "" {
				appInstance, err := newApp(ctx, cfg, logger)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
				return
			}
			if env, ok := cmd.Context().Value(envKey).(*cliEnv); ok {
				_ = env.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); CRAWLER_* env vars override it")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLoginCmd())

	return cmd
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		// cobra has already printed the error.
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveEnv(ctx context.Context) (*cliEnv, error) {
	env, ok := ctx.Value(envKey).(*cliEnv)
	if !ok || env == nil {
		return nil, errors.New("configuration not loaded")
	}
	return env, nil
}
