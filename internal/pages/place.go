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

// PlacePage is an open /maps/place/... pane.
type PlacePage struct {
	b      Browser
	logger *zap.Logger
	waits  Waits
	origin string
}

var _ harvest.List[graph.Reviewer] = (*placeList)(nil)

// Details reads name, address, hero image and URL from the details pane.
func (p *PlacePage) Details(ctx context.Context) (graph.Place, error) {
	loc, err := p.b.Location(ctx)
	if err != nil {
		return graph.Place{}, err
	}
	name, _, err := p.b.Property(ctx, placeHeading, "textContent")
	if err != nil {
		return graph.Place{}, fmt.Errorf("read place name: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		if name, _, err = p.b.Attribute(ctx, placeMain, "aria-label"); err != nil {
			return graph.Place{}, fmt.Errorf("read place label: %w", err)
		}
	}
	if err := p.showOverview(ctx); err != nil {
		return graph.Place{}, err
	}
	address, err := readAddress(ctx, p.b, p.waits)
	if err != nil {
		return graph.Place{}, err
	}
	image, _, err := p.b.Attribute(ctx, placeHeroImage, "src")
	if err != nil {
		return graph.Place{}, fmt.Errorf("read place image: %w", err)
	}
	return graph.Place{
		Name:            name,
		URL:             loc,
		ProfileImageURL: image,
		Address:         address,
	}, nil
}

// showOverview switches back to the overview tab when a review URL opened the
// pane on its review tab, since the address is only rendered there.
func (p *PlacePage) showOverview(ctx context.Context) error {
	n, err := p.b.Count(ctx, reviewTabActive)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if err := p.b.Click(ctx, overviewTab); err != nil {
		return fmt.Errorf("open overview tab: %w", err)
	}
	return nil
}

// OpenReviews selects the review tab unless it is already active.
func (p *PlacePage) OpenReviews(ctx context.Context) error {
	n, err := p.b.Count(ctx, reviewTabActive)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if err := p.b.Click(ctx, reviewTab); err != nil {
		return fmt.Errorf("open review tab: %w", err)
	}
	if err := p.b.WaitVisible(ctx, reviewTabActive, p.waits.Element); err != nil {
		return fmt.Errorf("wait for review tab: %w", err)
	}
	return nil
}

// Reviewers returns the harvestable review list of the place.
func (p *PlacePage) Reviewers() harvest.List[graph.Reviewer] {
	return &placeList{page: p}
}

type placeList struct {
	page *PlacePage
}

func (l *placeList) Count(ctx context.Context) (int, error) {
	return l.page.b.Count(ctx, placeReviewItems)
}

func (l *placeList) ItemID(ctx context.Context, index int) (string, error) {
	id, _, err := l.page.b.Attribute(ctx, placeReviewItems.Nth(index), "data-review-id")
	return id, err
}

func (l *placeList) Contains(ctx context.Context, id string) (bool, error) {
	n, err := l.page.b.Count(ctx, placeReviewItemByID(id))
	return n > 0, err
}

func (l *placeList) Scroll(ctx context.Context) error {
	return l.page.b.Wheel(ctx, reviewTab, browser.WheelOptions{
		Steps:  4,
		DeltaY: 10000,
		Settle: l.page.waits.Settle,
		Below:  100,
	})
}

func (l *placeList) Reload(ctx context.Context) error {
	if err := l.page.b.Reload(ctx); err != nil {
		return err
	}
	if err := l.page.b.Sleep(ctx, l.page.waits.Reload); err != nil {
		return err
	}
	return l.page.OpenReviews(ctx)
}

func (l *placeList) Recover(ctx context.Context) error {
	p := l.page
	if err := p.b.NewTab(ctx); err != nil {
		return err
	}
	if err := p.b.Navigate(ctx, p.origin); err != nil {
		return err
	}
	if _, err := p.b.WaitURL(ctx, isPlaceDetails, p.waits.Element); err != nil {
		return err
	}
	if err := DismissWebVersionPrompt(ctx, p.b, p.waits.Interstitial, p.logger); err != nil {
		return err
	}
	return p.OpenReviews(ctx)
}

// Extract reads the reviewer of the review at index and, best effort, the
// review's share link.
func (l *placeList) Extract(ctx context.Context, index int) (graph.Reviewer, error) {
	p := l.page
	item := placeReviewItems.Nth(index)
	reviewID, _, err := p.b.Attribute(ctx, item, "data-review-id")
	if err != nil {
		return graph.Reviewer{}, fmt.Errorf("read review id: %w", err)
	}
	name, _, err := p.b.Attribute(ctx, item, "aria-label")
	if err != nil {
		return graph.Reviewer{}, fmt.Errorf("read reviewer name: %w", err)
	}
	href, _, err := p.b.Attribute(ctx, reviewerButton.In(item), "data-href")
	if err != nil {
		return graph.Reviewer{}, fmt.Errorf("read reviewer link: %w", err)
	}
	id := graph.ContributorIDFromURL(href)
	if id == "" {
		return graph.Reviewer{}, fmt.Errorf("review %s has no reviewer link", reviewID)
	}
	avatar, _, err := p.b.Attribute(ctx, reviewerAvatar.In(item), "src")
	if err != nil {
		return graph.Reviewer{}, fmt.Errorf("read reviewer avatar: %w", err)
	}

	reviewURL, err := p.shareLink(ctx, item)
	if err != nil {
		if ctx.Err() != nil {
			return graph.Reviewer{}, ctx.Err()
		}
		p.logger.Warn("share link unavailable", zap.String("review_id", reviewID), zap.Error(err))
	}

	return graph.Reviewer{
		ReviewID: reviewID,
		Contributor: graph.Contributor{
			Name:            strings.TrimSpace(name),
			URL:             graph.ContributorReviewsURL(id),
			ProfileImageURL: avatar,
			ExternalID:      id,
		},
		ReviewURL: reviewURL,
	}, nil
}

// shareLink opens the review's share dialog and reads the link from its
// input. The dialog is always closed before returning.
func (p *PlacePage) shareLink(ctx context.Context, item browser.Locator) (link string, err error) {
	defer func() {
		if escErr := p.b.PressEscape(ctx); escErr != nil && err == nil {
			err = escErr
		}
	}()
	if err := p.b.Click(ctx, reviewActions.In(item)); err != nil {
		return "", fmt.Errorf("open review actions: %w", err)
	}
	if err := p.b.WaitVisible(ctx, actionMenu, p.waits.Element); err != nil {
		return "", err
	}
	if err := p.b.Click(ctx, shareOption); err != nil {
		return "", fmt.Errorf("choose share: %w", err)
	}
	if err := p.b.WaitVisible(ctx, shareInput, p.waits.Element); err != nil {
		return "", err
	}
	link, _, err = p.b.Property(ctx, shareInput, "value")
	if err != nil {
		return "", fmt.Errorf("read share link: %w", err)
	}
	return link, nil
}
