package pages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/browser"
	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
	"github.com/JakeFAU/contrib-graph-crawler/internal/harvest"
)

// ContributorReviewsPage is an open /maps/contrib/<id>/reviews list.
type ContributorReviewsPage struct {
	b      Browser
	logger *zap.Logger
	waits  Waits
	origin string
}

var _ harvest.List[graph.ReviewedPlace] = (*contributorList)(nil)

// Contributor reads the profile header.
func (p *ContributorReviewsPage) Contributor(ctx context.Context) (graph.Contributor, error) {
	loc, err := p.b.Location(ctx)
	if err != nil {
		return graph.Contributor{}, err
	}
	name, _, err := p.b.Property(ctx, contributorName, "textContent")
	if err != nil {
		return graph.Contributor{}, fmt.Errorf("read contributor name: %w", err)
	}
	image, _, err := p.b.Attribute(ctx, contributorAvatar, "src")
	if err != nil {
		return graph.Contributor{}, fmt.Errorf("read contributor image: %w", err)
	}
	id := graph.ContributorIDFromURL(loc)
	if id == "" {
		id = graph.ContributorIDFromURL(p.origin)
	}
	return graph.Contributor{
		Name:            strings.TrimSpace(name),
		URL:             loc,
		ProfileImageURL: image,
		ExternalID:      id,
	}, nil
}

// Reviews returns the harvestable review list.
func (p *ContributorReviewsPage) Reviews() harvest.List[graph.ReviewedPlace] {
	return &contributorList{page: p}
}

type contributorList struct {
	page *ContributorReviewsPage
}

func (l *contributorList) Count(ctx context.Context) (int, error) {
	return l.page.b.Count(ctx, contributorItems)
}

func (l *contributorList) ItemID(ctx context.Context, index int) (string, error) {
	id, _, err := l.page.b.Attribute(ctx, contributorItems.Nth(index), "data-review-id")
	return id, err
}

func (l *contributorList) Contains(ctx context.Context, id string) (bool, error) {
	n, err := l.page.b.Count(ctx, contributorItemByID(id))
	return n > 0, err
}

func (l *contributorList) Scroll(ctx context.Context) error {
	return l.page.b.Wheel(ctx, reviewPanel, browser.WheelOptions{
		Steps:  4,
		DeltaY: 10000,
		Settle: l.page.waits.Settle,
	})
}

func (l *contributorList) Reload(ctx context.Context) error {
	if err := l.page.b.Reload(ctx); err != nil {
		return err
	}
	return l.page.b.Sleep(ctx, l.page.waits.Reload)
}

func (l *contributorList) Recover(ctx context.Context) error {
	p := l.page
	if err := p.b.NewTab(ctx); err != nil {
		return err
	}
	if err := p.b.Navigate(ctx, p.origin); err != nil {
		return err
	}
	if _, err := p.b.WaitURL(ctx, isContributorList, p.waits.Element); err != nil {
		return err
	}
	return nil
}

// Extract opens the review at index, reads its place, and returns to the
// list. Clicking a review lands either on the place itself or on the review
// shown in context, from which the place details are one more click away.
func (l *contributorList) Extract(ctx context.Context, index int) (graph.ReviewedPlace, error) {
	p := l.page
	if err := p.ensureOnList(ctx); err != nil {
		return graph.ReviewedPlace{}, err
	}
	item := contributorItems.Nth(index)
	name, _, err := p.b.Attribute(ctx, item, "aria-label")
	if err != nil {
		return graph.ReviewedPlace{}, fmt.Errorf("read place name: %w", err)
	}
	reviewID, _, err := p.b.Attribute(ctx, item, "data-review-id")
	if err != nil {
		return graph.ReviewedPlace{}, fmt.Errorf("read review id: %w", err)
	}
	image, _, err := p.b.Attribute(ctx, placeImageFor(name).In(item), "src")
	if err != nil {
		return graph.ReviewedPlace{}, fmt.Errorf("read place image: %w", err)
	}

	if err := p.b.ClickOffset(ctx, item, 10, 10); err != nil {
		return graph.ReviewedPlace{}, fmt.Errorf("open review: %w", err)
	}
	loc, err := p.b.WaitURL(ctx, isPlaceView, p.waits.Element)
	if err != nil {
		return graph.ReviewedPlace{}, err
	}

	var reviewURL string
	if !isPlaceDetails(loc) {
		reviewURL = loc
		if err := p.b.Click(ctx, placeDetailsBtn); err != nil {
			return graph.ReviewedPlace{}, fmt.Errorf("open place details: %w", err)
		}
		if loc, err = p.b.WaitURL(ctx, isPlaceDetails, p.waits.Element); err != nil {
			return graph.ReviewedPlace{}, err
		}
	}

	address, err := readAddress(ctx, p.b, p.waits)
	if err != nil {
		return graph.ReviewedPlace{}, err
	}
	rec := graph.ReviewedPlace{
		ReviewID: reviewID,
		Place: graph.Place{
			Name:            name,
			URL:             loc,
			ProfileImageURL: image,
			Address:         address,
		},
		ReviewURL: reviewURL,
	}
	p.logger.Debug("collected review", zap.String("review_id", reviewID), zap.String("place", name))

	if err := p.backToList(ctx); err != nil {
		return graph.ReviewedPlace{}, err
	}
	return rec, nil
}

func (p *ContributorReviewsPage) backToList(ctx context.Context) error {
	if err := p.b.Click(ctx, backButton); err != nil {
		return fmt.Errorf("return to reviews: %w", err)
	}
	if _, err := p.b.WaitURL(ctx, isContributorList, p.waits.Element); err != nil {
		return err
	}
	return p.b.WaitVisible(ctx, contributorItems, p.waits.Element)
}

// ensureOnList steps back to the list when a previous attempt left the tab on
// a place view.
func (p *ContributorReviewsPage) ensureOnList(ctx context.Context) error {
	loc, err := p.b.Location(ctx)
	if err != nil {
		return err
	}
	if isContributorList(loc) && !isPlaceView(loc) {
		return nil
	}
	return p.backToList(ctx)
}

func readAddress(ctx context.Context, b Browser, waits Waits) (string, error) {
	if err := b.WaitVisible(ctx, placeAddress, waits.Element); err != nil {
		return "", fmt.Errorf("wait for address: %w", err)
	}
	label, _, err := b.Attribute(ctx, placeAddress, "aria-label")
	if err != nil {
		return "", fmt.Errorf("read address: %w", err)
	}
	return stripLabel(label), nil
}
