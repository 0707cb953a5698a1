package pages

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Opener navigates the shared tab to crawl targets and wraps the result in
// the matching page object.
type Opener struct {
	b      Browser
	logger *zap.Logger
	waits  Waits
}

// NewOpener constructs an Opener.
func NewOpener(b Browser, waits Waits, logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{b: b, logger: logger.Named("pages"), waits: waits.withDefaults()}
}

// OpenContributor loads a contributor review list.
func (o *Opener) OpenContributor(ctx context.Context, rawURL string) (*ContributorReviewsPage, error) {
	if err := o.open(ctx, rawURL); err != nil {
		return nil, err
	}
	if _, err := o.b.WaitURL(ctx, isContributorList, o.waits.Element); err != nil {
		return nil, fmt.Errorf("open contributor %s: %w", rawURL, err)
	}
	if err := o.b.WaitVisible(ctx, contributorName, o.waits.Element); err != nil {
		return nil, fmt.Errorf("open contributor %s: %w", rawURL, err)
	}
	return &ContributorReviewsPage{b: o.b, logger: o.logger, waits: o.waits, origin: rawURL}, nil
}

// OpenPlace loads a place pane.
func (o *Opener) OpenPlace(ctx context.Context, rawURL string) (*PlacePage, error) {
	if err := o.open(ctx, rawURL); err != nil {
		return nil, err
	}
	if _, err := o.b.WaitURL(ctx, isPlaceDetails, o.waits.Element); err != nil {
		return nil, fmt.Errorf("open place %s: %w", rawURL, err)
	}
	if err := o.b.WaitVisible(ctx, placeHeading, o.waits.Element); err != nil {
		return nil, fmt.Errorf("open place %s: %w", rawURL, err)
	}
	return &PlacePage{b: o.b, logger: o.logger, waits: o.waits, origin: rawURL}, nil
}

func (o *Opener) open(ctx context.Context, rawURL string) error {
	if err := o.b.Navigate(ctx, rawURL); err != nil {
		return err
	}
	return DismissWebVersionPrompt(ctx, o.b, o.waits.Interstitial, o.logger)
}
