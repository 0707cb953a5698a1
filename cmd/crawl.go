// Package cmd defines and implements the CLI commands for the contrib-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/batch"
	"github.com/JakeFAU/contrib-graph-crawler/internal/browser"
	"github.com/JakeFAU/contrib-graph-crawler/internal/config"
	"github.com/JakeFAU/contrib-graph-crawler/internal/dispatcher"
	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/harvest"
	"github.com/JakeFAU/contrib-graph-crawler/internal/id/uuid"
	"github.com/JakeFAU/contrib-graph-crawler/internal/logging"
	"github.com/JakeFAU/contrib-graph-crawler/internal/pages"
	queueMemory "github.com/JakeFAU/contrib-graph-crawler/internal/queue/memory"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one traversal from
// the configured start URLs or subject.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls review lists from the configured start URLs",
		Long: `Opens each start URL in headless Chrome. Contributor review lists yield
the places the contributor reviewed; place pages yield the other reviewers.
Every subject runs under the batch status log, and follow-up phases are
launched through the configured trigger when crawl.follow_up is set.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()

	targets := cfg.Targets()
	if len(targets) == 0 {
		return errors.New("nothing to crawl: set crawl.start_urls or crawl.subject_id")
	}
	var job graph.JobType
	if cfg.Crawl.JobType != "" {
		if job, err = graph.ParseJobType(cfg.Crawl.JobType); err != nil {
			return err
		}
	}

	runID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	logger := logging.ForRun(appInstance.GetLogger(), runID, string(job))

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Crawl.Budget)
	defer cancel()

	cookies, err := browser.LoadCookies(cfg.Browser.CookieFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("cookie file not found, crawling signed out; run 'login' to create it",
			zap.String("path", cfg.Browser.CookieFile))
	case err != nil:
		return err
	}

	session, err := browser.New(browserConfig(cfg.Browser), cookies, logger)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer session.Close()

	frontier := queueMemory.NewQueue(cfg.Crawl.QueueDepth)
	defer frontier.Close()

	collectors := appInstance.GetMetrics()
	guard := batch.NewGuard(appInstance.GetStore(), logger, batch.Options{
		StaleAfter: cfg.Batch.StaleAfter,
		Clock:      appInstance.GetClock(),
		Observer:   collectors,
	})
	d := dispatcher.New(dispatcherConfig(cfg), dispatcher.Deps{
		Opener:   pageOpener{pages.NewOpener(session, pages.DefaultWaits(), logger)},
		Store:    appInstance.GetStore(),
		Guard:    guard,
		Frontier: frontier,
		Trigger:  appInstance.GetTrigger(),
		Observer: collectors,
		Recorder: collectors,
		Logger:   logger,
	})

	seeded, err := d.Seed(ctx, targets, job)
	if err != nil {
		return err
	}
	logger.Info("crawl started", zap.Int("targets", seeded), zap.Duration("budget", cfg.Crawl.Budget))

	summary, err := d.Run(ctx)
	fields := []zap.Field{
		zap.Int("pages", summary.Pages),
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("pending", summary.Pending),
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("crawl budget exhausted", fields...)
	case errors.Is(err, context.Canceled):
		logger.Warn("crawl interrupted", fields...)
	case err != nil:
		return fmt.Errorf("run crawl: %w", err)
	default:
		logger.Info("crawl finished", fields...)
	}
	return nil
}

func browserConfig(cfg config.BrowserConfig) browser.Config {
	return browser.Config{
		Headless:          cfg.Headless,
		Lang:              cfg.Lang,
		UserAgent:         cfg.UserAgent,
		ExecPath:          cfg.ExecPath,
		ActionTimeout:     cfg.ActionTimeout,
		NavigationTimeout: cfg.NavigationTimeout,
		ImageHosts:        cfg.ImageHosts,
		NavigateQPS:       cfg.NavigateQPS,
	}
}

func dispatcherConfig(cfg config.Config) dispatcher.Config {
	return dispatcher.Config{
		MaxPages:         cfg.Crawl.MaxPages,
		MaxDepth:         cfg.Crawl.MaxDepth,
		WriteConcurrency: cfg.Crawl.WriteConcurrency,
		FollowUp:         cfg.Crawl.FollowUp,
		Harvest: harvest.Config{
			RefreshEvery:      cfg.Harvest.RefreshEvery,
			MaxScrollAttempts: cfg.Harvest.MaxScrollAttempts,
			MaxItemAttempts:   cfg.Harvest.MaxItemAttempts,
			ItemBackoff:       cfg.Harvest.ItemBackoff,
			RecoverBackoff:    cfg.Harvest.RecoverBackoff,
		},
	}
}

// pageOpener adapts pages.Opener to the dispatcher's interfaces. A failed
// open returns a nil interface, never a typed nil.
type pageOpener struct {
	opener *pages.Opener
}

func (o pageOpener) OpenContributor(ctx context.Context, rawURL string) (dispatcher.ContributorPage, error) {
	p, err := o.opener.OpenContributor(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (o pageOpener) OpenPlace(ctx context.Context, rawURL string) (dispatcher.PlacePage, error) {
	p, err := o.opener.OpenPlace(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return p, nil
}
