// Package dispatcher walks the contributor/place graph: it pulls crawl targets
// from the frontier, runs the page-specific harvest under the batch guard,
// persists what it found and schedules the next traversal phase.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contrib-graph-crawler/internal/batch"
	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/harvest"
)

var tracer = otel.Tracer("github.com/JakeFAU/contrib-graph-crawler/internal/dispatcher")

// persistTimeout bounds the writes of partial results once ctx is done.
const persistTimeout = 30 * time.Second

// ContributorPage is an open contributor review list.
type ContributorPage interface {
	Contributor(ctx context.Context) (graph.Contributor, error)
	Reviews() harvest.List[graph.ReviewedPlace]
}

// PlacePage is an open place pane.
type PlacePage interface {
	Details(ctx context.Context) (graph.Place, error)
	OpenReviews(ctx context.Context) error
	Reviewers() harvest.List[graph.Reviewer]
}

// PageOpener loads crawl targets in the browser.
type PageOpener interface {
	OpenContributor(ctx context.Context, rawURL string) (ContributorPage, error)
	OpenPlace(ctx context.Context, rawURL string) (PlacePage, error)
}

// Recorder receives per-page and per-write outcomes.
type Recorder interface {
	UpsertResult(entity string, err error)
	PageHandled(page, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) UpsertResult(string, error)  {}
func (nopRecorder) PageHandled(string, string) {}

// Outcome is the result of dispatching one target.
type Outcome string

// Dispatch outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Config tunes traversal.
type Config struct {
	// MaxPages caps the targets handled by one Run. Zero means unlimited.
	MaxPages int
	// MaxDepth is how many hops away from a seed targets are still enqueued
	// in process.
	MaxDepth int
	// WriteConcurrency bounds concurrent store writes per page.
	WriteConcurrency int
	// FollowUp enables launching the next traversal phase through the trigger.
	FollowUp bool
	Harvest  harvest.Config
}

// DefaultConfig returns the traversal defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:         20,
		WriteConcurrency: 8,
		Harvest:          harvest.DefaultConfig(),
	}
}

// Deps bundles the collaborators of a Dispatcher. Trigger, Observer and
// Recorder are optional.
type Deps struct {
	Opener   PageOpener
	Store    graph.EntityStore
	Guard    *batch.Guard
	Frontier graph.Frontier
	Trigger  graph.JobTrigger
	Observer harvest.Observer
	Recorder Recorder
	Logger   *zap.Logger
}

// Summary counts the outcomes of one Run.
type Summary struct {
	Pages     int
	Completed int
	Skipped   int
	Failed    int
	Pending   int
}

// Dispatcher routes crawl targets to their page handlers.
type Dispatcher struct {
	cfg      Config
	opener   PageOpener
	store    graph.EntityStore
	guard    *batch.Guard
	frontier graph.Frontier
	trigger  graph.JobTrigger
	observer harvest.Observer
	recorder Recorder
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.WriteConcurrency <= 0 {
		cfg.WriteConcurrency = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		cfg:      cfg,
		opener:   deps.Opener,
		store:    deps.Store,
		guard:    deps.Guard,
		frontier: deps.Frontier,
		trigger:  deps.Trigger,
		observer: deps.Observer,
		recorder: recorder,
		logger:   logger.Named("dispatcher"),
	}
}

// Seed classifies start URLs and enqueues them. Unrecognized URLs are logged
// and dropped. An empty job selects the page type's default.
func (d *Dispatcher) Seed(ctx context.Context, urls []string, job graph.JobType) (int, error) {
	seeded := 0
	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		page, err := graph.ClassifyURL(raw)
		if err != nil {
			d.logger.Warn("skipping start url", zap.String("url", raw), zap.Error(err))
			continue
		}
		target := graph.Target{URL: raw, Page: page, Job: jobFor(page, job)}
		if target.Job != job && job != "" {
			d.logger.Warn("job type does not apply to page, using default",
				zap.String("url", raw),
				zap.String("requested", string(job)),
				zap.String("job_type", string(target.Job)),
			)
		}
		if err := d.frontier.Enqueue(ctx, target); err != nil {
			return seeded, fmt.Errorf("seed %s: %w", raw, err)
		}
		seeded++
	}
	return seeded, nil
}

func jobFor(page graph.PageType, job graph.JobType) graph.JobType {
	switch page {
	case graph.PageContributorReviews:
		if job == graph.JobContrib || job == graph.JobContribPlace {
			return job
		}
	case graph.PagePlaceDetails, graph.PagePlaceReviews:
		if job == graph.JobPlace || job == graph.JobPlaceContrib {
			return job
		}
	case graph.PageUnknown:
	}
	return page.DefaultJobType()
}

// Run drains the frontier until it is empty, MaxPages targets were handled,
// or ctx ends. Per-target failures are recorded in the summary, not returned.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	for d.cfg.MaxPages <= 0 || sum.Pages < d.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			sum.Pending = d.frontier.Len()
			return sum, err
		}
		target, ok := d.frontier.TryDequeue()
		if !ok {
			break
		}
		sum.Pages++
		switch d.Dispatch(ctx, target) {
		case OutcomeCompleted:
			sum.Completed++
		case OutcomeSkipped:
			sum.Skipped++
		case OutcomeFailed:
			sum.Failed++
		}
	}
	sum.Pending = d.frontier.Len()
	if sum.Pending > 0 {
		d.logger.Info("page limit reached", zap.Int("max_pages", d.cfg.MaxPages), zap.Int("pending", sum.Pending))
	}
	return sum, nil
}

// Dispatch handles one target under the batch guard.
func (d *Dispatcher) Dispatch(ctx context.Context, target graph.Target) Outcome {
	if target.Job == "" {
		target.Job = target.Page.DefaultJobType()
	}
	logger := d.logger.With(
		zap.String("url", target.URL),
		zap.String("page", target.Page.String()),
		zap.String("job_type", string(target.Job)),
		zap.Int("depth", target.Depth),
	)

	var (
		subject string
		fn      func(context.Context) error
	)
	switch target.Page {
	case graph.PageContributorReviews:
		subject = graph.ContributorIDFromURL(target.URL)
		fn = func(ctx context.Context) error { return d.crawlContributor(ctx, target, subject, logger) }
	case graph.PagePlaceDetails, graph.PagePlaceReviews:
		subject = graph.PlaceSubjectID(target.URL)
		fn = func(ctx context.Context) error { return d.crawlPlace(ctx, target, logger) }
	case graph.PageUnknown:
	}

	ctx, span := tracer.Start(ctx, "dispatch "+target.Page.String(), trace.WithAttributes(
		attribute.String("crawl.url", target.URL),
		attribute.String("crawl.job_type", string(target.Job)),
		attribute.String("crawl.subject_id", subject),
		attribute.Int("crawl.depth", target.Depth),
	))
	defer span.End()

	if fn == nil || subject == "" {
		logger.Error("target has no subject", zap.Error(graph.ErrUnknownPage))
		span.SetStatus(codes.Error, graph.ErrUnknownPage.Error())
		return d.finish(span, target, OutcomeFailed)
	}

	err := d.guard.Run(ctx, subject, target.Job, fn)
	switch {
	case errors.Is(err, batch.ErrSkipped):
		return d.finish(span, target, OutcomeSkipped)
	case err != nil:
		logger.Error("page failed", zap.String("subject_id", subject), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return d.finish(span, target, OutcomeFailed)
	default:
		return d.finish(span, target, OutcomeCompleted)
	}
}

func (d *Dispatcher) finish(span trace.Span, target graph.Target, outcome Outcome) Outcome {
	span.SetAttributes(attribute.String("crawl.outcome", string(outcome)))
	d.recorder.PageHandled(target.Page.String(), string(outcome))
	return outcome
}

// writeStats counts store writes of one page.
type writeStats struct {
	ok      atomic.Int64
	missing atomic.Int64
	failed  atomic.Int64
}

func (w *writeStats) fields(prefix string) []zap.Field {
	return []zap.Field{
		zap.Int64(prefix+"_ok", w.ok.Load()),
		zap.Int64(prefix+"_missing_ref", w.missing.Load()),
		zap.Int64(prefix+"_failed", w.failed.Load()),
	}
}

// upsertAll writes items with bounded concurrency. Individual failures are
// logged and counted, never fatal.
func upsertAll[T any](
	ctx context.Context,
	d *Dispatcher,
	entity string,
	items []T,
	write func(context.Context, T) error,
	logger *zap.Logger,
) *writeStats {
	stats := &writeStats{}
	var g errgroup.Group
	g.SetLimit(d.cfg.WriteConcurrency)
	for _, item := range items {
		g.Go(func() error {
			err := write(ctx, item)
			d.recorder.UpsertResult(entity, err)
			switch {
			case err == nil:
				stats.ok.Add(1)
			case errors.Is(err, graph.ErrMissingReference):
				stats.missing.Add(1)
				logger.Warn("skipping "+entity, zap.Error(err))
			default:
				stats.failed.Add(1)
				logger.Error("upsert "+entity+" failed", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

// persistContext keeps partial results writable after ctx ended.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (d *Dispatcher) crawlContributor(ctx context.Context, target graph.Target, subject string, logger *zap.Logger) error {
	page, err := d.opener.OpenContributor(ctx, target.URL)
	if err != nil {
		return fmt.Errorf("open contributor page: %w", err)
	}
	contributor, err := page.Contributor(ctx)
	if err != nil {
		return fmt.Errorf("read contributor: %w", err)
	}
	if contributor.ExternalID == "" {
		contributor.ExternalID = subject
	}
	err = d.store.UpsertContributor(ctx, contributor)
	d.recorder.UpsertResult("contributor", err)
	if err != nil {
		return fmt.Errorf("upsert contributor: %w", err)
	}

	res, harvestErr := harvest.New[graph.ReviewedPlace](d.cfg.Harvest, logger, d.observer).Run(ctx, page.Reviews())
	if harvestErr != nil {
		logger.Warn("harvest interrupted, persisting partial results",
			zap.Int("records", len(res.Records)), zap.Error(harvestErr))
	}

	wctx, cancel := persistContext(ctx)
	defer cancel()
	places := uniquePlaces(res.Records)
	placeStats := upsertAll(wctx, d, "place", places, d.store.UpsertPlace, logger)
	reviews := make([]graph.ReviewObservation, 0, len(res.Records))
	for _, rec := range res.Records {
		reviews = append(reviews, graph.ReviewObservation{
			ContributorExternalID: contributor.ExternalID,
			PlaceName:             rec.Place.Name,
			PlaceAddress:          rec.Place.Address,
			URL:                   rec.ReviewURL,
		})
	}
	reviewStats := upsertAll(wctx, d, "review", reviews, d.store.UpsertReview, logger)
	logger.Info("contributor harvested", append(
		append([]zap.Field{
			zap.String("contributor", contributor.Name),
			zap.Int("checked", len(res.Checked)),
			zap.Int("places", len(places)),
		}, placeStats.fields("place")...),
		reviewStats.fields("review")...,
	)...)

	if harvestErr != nil {
		return fmt.Errorf("harvest reviews: %w", harvestErr)
	}

	if d.cfg.FollowUp && target.Job == graph.JobContrib {
		d.launch(ctx, logger, contributor.ExternalID, graph.JobContribPlace)
	}
	if target.Job == graph.JobContribPlace || target.Depth < d.cfg.MaxDepth {
		for _, p := range places {
			if p.URL == "" {
				continue
			}
			d.enqueue(ctx, logger, graph.Target{
				URL:      p.URL,
				Page:     graph.PagePlaceDetails,
				Job:      graph.JobPlace,
				SeedName: contributor.Name,
				Depth:    target.Depth + 1,
			})
		}
	}
	return nil
}

func (d *Dispatcher) crawlPlace(ctx context.Context, target graph.Target, logger *zap.Logger) error {
	page, err := d.opener.OpenPlace(ctx, target.URL)
	if err != nil {
		return fmt.Errorf("open place page: %w", err)
	}
	place, err := page.Details(ctx)
	if err != nil {
		return fmt.Errorf("read place details: %w", err)
	}
	if place.Name == "" {
		return fmt.Errorf("place %s has no name", target.URL)
	}
	err = d.store.UpsertPlace(ctx, place)
	d.recorder.UpsertResult("place", err)
	if err != nil {
		return fmt.Errorf("upsert place: %w", err)
	}
	if err := page.OpenReviews(ctx); err != nil {
		return fmt.Errorf("open reviews: %w", err)
	}

	res, harvestErr := harvest.New[graph.Reviewer](d.cfg.Harvest, logger, d.observer).Run(ctx, page.Reviewers())
	if harvestErr != nil {
		logger.Warn("harvest interrupted, persisting partial results",
			zap.Int("records", len(res.Records)), zap.Error(harvestErr))
	}

	wctx, cancel := persistContext(ctx)
	defer cancel()
	reviewers := otherReviewers(res.Records, target.SeedName, logger)
	contributors := make([]graph.Contributor, 0, len(reviewers))
	reviews := make([]graph.ReviewObservation, 0, len(reviewers))
	for _, r := range reviewers {
		contributors = append(contributors, r.Contributor)
		reviews = append(reviews, graph.ReviewObservation{
			ContributorExternalID: r.Contributor.ExternalID,
			PlaceName:             place.Name,
			PlaceAddress:          place.Address,
			URL:                   r.ReviewURL,
		})
	}
	contribStats := upsertAll(wctx, d, "contributor", contributors, d.store.UpsertContributor, logger)
	reviewStats := upsertAll(wctx, d, "review", reviews, d.store.UpsertReview, logger)
	logger.Info("place harvested", append(
		append([]zap.Field{
			zap.String("place", place.Name),
			zap.Int("checked", len(res.Checked)),
			zap.Int("reviewers", len(reviewers)),
		}, contribStats.fields("contributor")...),
		reviewStats.fields("review")...,
	)...)

	if harvestErr != nil {
		return fmt.Errorf("harvest reviewers: %w", harvestErr)
	}

	for _, c := range contributors {
		if d.cfg.FollowUp {
			d.launch(ctx, logger, c.ExternalID, graph.JobContrib)
		}
		if target.Depth < d.cfg.MaxDepth {
			d.enqueue(ctx, logger, graph.Target{
				URL:   graph.ContributorReviewsURL(c.ExternalID),
				Page:  graph.PageContributorReviews,
				Job:   graph.JobContrib,
				Depth: target.Depth + 1,
			})
		}
	}
	return nil
}

func (d *Dispatcher) launch(ctx context.Context, logger *zap.Logger, subjectID string, job graph.JobType) {
	if d.trigger == nil {
		return
	}
	if err := d.trigger.Launch(ctx, subjectID, job); err != nil {
		logger.Warn("launch follow-up job failed",
			zap.String("subject_id", subjectID), zap.String("next_job", string(job)), zap.Error(err))
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, logger *zap.Logger, target graph.Target) {
	if err := d.frontier.Enqueue(ctx, target); err != nil {
		logger.Warn("enqueue follow-up failed", zap.String("target", target.URL), zap.Error(err))
	}
}

// uniquePlaces drops repeated observations of the same natural key.
func uniquePlaces(records []graph.ReviewedPlace) []graph.Place {
	seen := make(map[[2]string]struct{}, len(records))
	out := make([]graph.Place, 0, len(records))
	for _, rec := range records {
		key := [2]string{rec.Place.Name, rec.Place.Address}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, rec.Place)
	}
	return out
}

// otherReviewers drops the seed contributor, reviewers without an external
// id and repeated reviewers.
func otherReviewers(records []graph.Reviewer, seedName string, logger *zap.Logger) []graph.Reviewer {
	seen := make(map[string]struct{}, len(records))
	out := make([]graph.Reviewer, 0, len(records))
	for _, r := range records {
		if seedName != "" && r.Contributor.Name == seedName {
			continue
		}
		if r.Contributor.ExternalID == "" {
			logger.Warn("skipping reviewer without contributor id",
				zap.String("name", r.Contributor.Name),
				zap.String("url", r.Contributor.URL),
			)
			continue
		}
		if _, ok := seen[r.Contributor.ExternalID]; ok {
			continue
		}
		seen[r.Contributor.ExternalID] = struct{}{}
		out = append(out, r)
	}
	return out
}
