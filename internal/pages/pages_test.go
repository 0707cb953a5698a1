package pages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contrib-graph-crawler/internal/browser"
	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

const (
	listURL   = "https://www.google.com/maps/contrib/12345/reviews/@34.6,135.5,10z"
	placeURL  = "https://www.google.com/maps/place/A/@34.1,135.2,17z/data=!3m1!4b1"
	reviewURL = "https://www.google.com/maps/contrib/12345/place/ChIJxyz/@34.1,135.2,17z"
)

type fakeBrowser struct {
	location  string
	attrs     map[string]string
	props     map[string]string
	counts    map[string]int
	hidden    map[string]bool
	onClick   map[string]string
	clicks    []string
	navigated []string
	escapes   int
	newTabs   int
}

func newFakeBrowser(location string) *fakeBrowser {
	return &fakeBrowser{
		location: location,
		attrs:    map[string]string{},
		props:    map[string]string{},
		counts:   map[string]int{},
		hidden:   map[string]bool{},
		onClick:  map[string]string{},
	}
}

func key(loc browser.Locator, name string) string { return loc.String() + "@" + name }

func (f *fakeBrowser) Navigate(_ context.Context, rawURL string) error {
	f.navigated = append(f.navigated, rawURL)
	f.location = rawURL
	return nil
}

func (f *fakeBrowser) Reload(context.Context) error { return nil }

func (f *fakeBrowser) NewTab(context.Context) error {
	f.newTabs++
	return nil
}

func (f *fakeBrowser) Location(context.Context) (string, error) { return f.location, nil }

func (f *fakeBrowser) WaitURL(_ context.Context, match func(string) bool, _ time.Duration) (string, error) {
	if !match(f.location) {
		return f.location, browser.ErrTimeout
	}
	return f.location, nil
}

func (f *fakeBrowser) WaitVisible(_ context.Context, loc browser.Locator, _ time.Duration) error {
	if f.hidden[loc.String()] {
		return browser.ErrTimeout
	}
	return nil
}

func (f *fakeBrowser) Count(_ context.Context, loc browser.Locator) (int, error) {
	return f.counts[loc.String()], nil
}

func (f *fakeBrowser) Attribute(_ context.Context, loc browser.Locator, name string) (string, bool, error) {
	v, ok := f.attrs[key(loc, name)]
	return v, ok, nil
}

func (f *fakeBrowser) Property(_ context.Context, loc browser.Locator, name string) (string, bool, error) {
	v, ok := f.props[key(loc, name)]
	return v, ok, nil
}

func (f *fakeBrowser) click(loc browser.Locator) {
	f.clicks = append(f.clicks, loc.String())
	if to, ok := f.onClick[loc.String()]; ok {
		f.location = to
	}
}

func (f *fakeBrowser) Click(_ context.Context, loc browser.Locator) error {
	f.click(loc)
	return nil
}

func (f *fakeBrowser) ClickOffset(_ context.Context, loc browser.Locator, _, _ float64) error {
	f.click(loc)
	return nil
}

func (f *fakeBrowser) Wheel(context.Context, browser.Locator, browser.WheelOptions) error { return nil }

func (f *fakeBrowser) PressEscape(context.Context) error {
	f.escapes++
	return nil
}

func (f *fakeBrowser) Sleep(context.Context, time.Duration) error { return nil }

func newContributorPage(b *fakeBrowser) *ContributorReviewsPage {
	return &ContributorReviewsPage{
		b:      b,
		logger: zap.NewNop(),
		waits:  DefaultWaits(),
		origin: "https://www.google.com/maps/contrib/12345/reviews",
	}
}

func seedContributorItem(b *fakeBrowser, index int, name, reviewID string) browser.Locator {
	item := contributorItems.Nth(index)
	b.attrs[key(item, "aria-label")] = name
	b.attrs[key(item, "data-review-id")] = reviewID
	b.attrs[key(placeImageFor(name).In(item), "src")] = "https://lh5.googleusercontent.com/p/" + reviewID
	b.attrs[key(placeAddress, "aria-label")] = "住所: 1 Main St"
	b.onClick[backButton.String()] = listURL
	return item
}

func TestContributorExtractDirectPlace(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(listURL)
	item := seedContributorItem(b, 0, "A", "r0")
	b.onClick[item.String()] = placeURL

	rec, err := newContributorPage(b).Reviews().Extract(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, graph.ReviewedPlace{
		ReviewID: "r0",
		Place: graph.Place{
			Name:            "A",
			URL:             placeURL,
			ProfileImageURL: "https://lh5.googleusercontent.com/p/r0",
			Address:         "1 Main St",
		},
	}, rec)
	require.Equal(t, listURL, b.location)
	require.Equal(t, []string{item.String(), backButton.String()}, b.clicks)
}

func TestContributorExtractViaReviewInContext(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(listURL)
	item := seedContributorItem(b, 2, "A", "r2")
	b.onClick[item.String()] = reviewURL
	b.onClick[placeDetailsBtn.String()] = placeURL

	rec, err := newContributorPage(b).Reviews().Extract(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, reviewURL, rec.ReviewURL)
	require.Equal(t, placeURL, rec.Place.URL)
	require.Equal(t, "1 Main St", rec.Place.Address)
	require.Equal(t, []string{item.String(), placeDetailsBtn.String(), backButton.String()}, b.clicks)
}

func TestContributorExtractReturnsToListFirst(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL)
	item := seedContributorItem(b, 0, "A", "r0")
	b.onClick[item.String()] = placeURL

	_, err := newContributorPage(b).Reviews().Extract(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, backButton.String(), b.clicks[0])
}

func TestContributorExtractFailsWithoutAddress(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(listURL)
	item := seedContributorItem(b, 0, "A", "r0")
	b.onClick[item.String()] = placeURL
	b.hidden[placeAddress.String()] = true

	_, err := newContributorPage(b).Reviews().Extract(context.Background(), 0)
	require.ErrorIs(t, err, browser.ErrTimeout)
}

func TestContributorHeader(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(listURL)
	b.props[key(contributorName, "textContent")] = "  Aiko  "
	b.attrs[key(contributorAvatar, "src")] = "https://lh3.googleusercontent.com/a/avatar"

	c, err := newContributorPage(b).Contributor(context.Background())
	require.NoError(t, err)
	require.Equal(t, graph.Contributor{
		Name:            "Aiko",
		URL:             listURL,
		ProfileImageURL: "https://lh3.googleusercontent.com/a/avatar",
		ExternalID:      "12345",
	}, c)
}

func TestContributorListLookups(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(listURL)
	b.counts[contributorItems.String()] = 7
	b.counts[contributorItemByID("r3").String()] = 1
	b.attrs[key(contributorItems.Nth(3), "data-review-id")] = "r3"
	list := newContributorPage(b).Reviews()
	ctx := context.Background()

	n, err := list.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	id, err := list.ItemID(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, "r3", id)

	found, err := list.Contains(ctx, "r3")
	require.NoError(t, err)
	require.True(t, found)
	found, err = list.Contains(ctx, "r9")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, list.Recover(ctx))
	require.Equal(t, 1, b.newTabs)
	require.Equal(t, []string{"https://www.google.com/maps/contrib/12345/reviews"}, b.navigated)
}

func newPlacePage(b *fakeBrowser) *PlacePage {
	return &PlacePage{b: b, logger: zap.NewNop(), waits: DefaultWaits(), origin: placeURL}
}

func seedPlaceReview(b *fakeBrowser, index int, name, href string) browser.Locator {
	item := placeReviewItems.Nth(index)
	b.attrs[key(item, "data-review-id")] = "pr" + name
	b.attrs[key(item, "aria-label")] = name
	b.attrs[key(reviewerButton.In(item), "data-href")] = href
	b.attrs[key(reviewerAvatar.In(item), "src")] = "https://lh3.googleusercontent.com/a/" + name
	return item
}

func TestPlaceDetailsAndReviewTab(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL)
	b.props[key(placeHeading, "textContent")] = " Cafe "
	b.attrs[key(placeAddress, "aria-label")] = "住所: 2 Oak Ave"
	b.attrs[key(placeHeroImage, "src")] = "https://lh5.googleusercontent.com/p/hero"
	page := newPlacePage(b)
	ctx := context.Background()

	place, err := page.Details(ctx)
	require.NoError(t, err)
	require.Equal(t, graph.Place{
		Name:            "Cafe",
		URL:             placeURL,
		ProfileImageURL: "https://lh5.googleusercontent.com/p/hero",
		Address:         "2 Oak Ave",
	}, place)

	require.NoError(t, page.OpenReviews(ctx))
	require.Equal(t, []string{reviewTab.String()}, b.clicks)

	b.counts[reviewTabActive.String()] = 1
	require.NoError(t, page.OpenReviews(ctx))
	require.Len(t, b.clicks, 1)
}

func TestPlaceDetailsFallsBackToPaneLabel(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL)
	b.attrs[key(placeMain, "aria-label")] = "Cafe"
	b.attrs[key(placeAddress, "aria-label")] = "住所: 2 Oak Ave"

	place, err := newPlacePage(b).Details(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Cafe", place.Name)
}

func TestPlaceDetailsFromReviewTab(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL + "!9m1!1b1")
	b.counts[reviewTabActive.String()] = 1
	b.props[key(placeHeading, "textContent")] = "Cafe"
	b.attrs[key(placeAddress, "aria-label")] = "住所: 2 Oak Ave"

	place, err := newPlacePage(b).Details(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2 Oak Ave", place.Address)
	require.Equal(t, []string{overviewTab.String()}, b.clicks)
}

func TestPlaceExtractReviewerWithShareLink(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL)
	item := seedPlaceReview(b, 0, "Bob", "https://www.google.com/maps/contrib/777/reviews?hl=ja")
	b.props[key(shareInput, "value")] = "https://maps.app.goo.gl/abc"

	rec, err := newPlacePage(b).Reviewers().Extract(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, graph.Reviewer{
		ReviewID: "prBob",
		Contributor: graph.Contributor{
			Name:            "Bob",
			URL:             "https://www.google.com/maps/contrib/777/reviews",
			ProfileImageURL: "https://lh3.googleusercontent.com/a/Bob",
			ExternalID:      "777",
		},
		ReviewURL: "https://maps.app.goo.gl/abc",
	}, rec)
	require.Equal(t, []string{reviewActions.In(item).String(), shareOption.String()}, b.clicks)
	require.Equal(t, 1, b.escapes)
}

func TestPlaceExtractKeepsReviewerWhenShareFails(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL)
	seedPlaceReview(b, 1, "Bob", "https://www.google.com/maps/contrib/777/reviews")
	b.hidden[actionMenu.String()] = true

	rec, err := newPlacePage(b).Reviewers().Extract(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "777", rec.Contributor.ExternalID)
	require.Empty(t, rec.ReviewURL)
	require.Equal(t, 1, b.escapes)
}

func TestPlaceExtractRequiresReviewerLink(t *testing.T) {
	t.Parallel()

	b := newFakeBrowser(placeURL)
	seedPlaceReview(b, 0, "Bob", "")

	_, err := newPlacePage(b).Reviewers().Extract(context.Background(), 0)
	require.Error(t, err)
}

func TestStripLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1 Main St", stripLabel("住所: 1 Main St"))
	require.Equal(t, "", stripLabel("住所: "))
	require.Equal(t, "", stripLabel(""))
}

func TestDismissWebVersionPrompt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBrowser(placeURL)
	b.hidden[webVersionButton.String()] = true
	require.NoError(t, DismissWebVersionPrompt(ctx, b, time.Second, zap.NewNop()))
	require.Empty(t, b.clicks)

	b.hidden = map[string]bool{}
	require.NoError(t, DismissWebVersionPrompt(ctx, b, time.Second, zap.NewNop()))
	require.Equal(t, []string{webVersionButton.String()}, b.clicks)
}

func TestOpenerOpensPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := newFakeBrowser("")
	b.hidden[webVersionButton.String()] = true
	opener := NewOpener(b, Waits{}, zap.NewNop())

	page, err := opener.OpenContributor(ctx, listURL)
	require.NoError(t, err)
	require.Equal(t, listURL, page.origin)

	place, err := opener.OpenPlace(ctx, placeURL)
	require.NoError(t, err)
	require.Equal(t, placeURL, place.origin)

	_, err = opener.OpenPlace(ctx, "https://www.google.com/search?q=cafe")
	require.Error(t, err)
}
