package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(nil)
	c := graph.Contributor{Name: "Aiko", URL: "https://www.google.com/maps/contrib/12345/reviews", ExternalID: "12345"}
	p := graph.Place{Name: "A", Address: "1 Main St", URL: "https://www.google.com/maps/place/A"}
	obs := graph.ReviewObservation{ContributorExternalID: "12345", PlaceName: "A", PlaceAddress: "1 Main St"}

	for range 3 {
		require.NoError(t, store.UpsertContributor(ctx, c))
		require.NoError(t, store.UpsertPlace(ctx, p))
		require.NoError(t, store.UpsertReview(ctx, obs))
	}

	require.Len(t, store.Contributors(), 1)
	require.Len(t, store.Places(), 1)
	require.Len(t, store.Reviews(), 1)
}

func TestUpsertFillsMissingFieldsOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(nil)

	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{ExternalID: "7", Name: "First"}))
	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{
		ExternalID:      "7",
		Name:            "Second",
		ProfileImageURL: "https://lh3.googleusercontent.com/a",
	}))

	got := store.Contributors()
	require.Len(t, got, 1)
	require.Equal(t, "First", got[0].Name)
	require.Equal(t, "https://lh3.googleusercontent.com/a", got[0].ProfileImageURL)

	require.NoError(t, store.UpsertPlace(ctx, graph.Place{Name: "A", Address: "1 Main St"}))
	require.NoError(t, store.UpsertPlace(ctx, graph.Place{Name: "A", Address: "1 Main St", URL: "https://maps/a"}))
	require.NoError(t, store.UpsertPlace(ctx, graph.Place{Name: "A", Address: "1 Main St", URL: "https://maps/other"}))
	places := store.Places()
	require.Len(t, places, 1)
	require.Equal(t, "https://maps/a", places[0].URL)
}

func TestPlaceNaturalKeyIncludesAddress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(nil)
	require.NoError(t, store.UpsertPlace(ctx, graph.Place{Name: "Cafe", Address: "1 Main St"}))
	require.NoError(t, store.UpsertPlace(ctx, graph.Place{Name: "Cafe", Address: "2 Oak Ave"}))
	require.Len(t, store.Places(), 2)

	first, err := store.ResolvePlace(ctx, "Cafe", "1 Main St")
	require.NoError(t, err)
	second, err := store.ResolvePlace(ctx, "Cafe", "2 Oak Ave")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestEmptyRecordsAreSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(nil)
	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{}))
	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{Name: "no id"}))
	require.NoError(t, store.UpsertPlace(ctx, graph.Place{}))
	require.Empty(t, store.Contributors())
	require.Empty(t, store.Places())
}

func TestUpsertReviewMissingReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(nil)
	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{ExternalID: "1", Name: "x"}))

	err := store.UpsertReview(ctx, graph.ReviewObservation{ContributorExternalID: "1", PlaceName: "missing"})
	require.True(t, errors.Is(err, graph.ErrMissingReference))

	err = store.UpsertReview(ctx, graph.ReviewObservation{ContributorExternalID: "2"})
	require.True(t, errors.Is(err, graph.ErrMissingReference))
	require.Empty(t, store.Reviews())
}

func TestResolveNotFound(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	_, err := store.ResolveContributor(context.Background(), "404")
	require.ErrorIs(t, err, graph.ErrNotFound)
	_, err = store.ResolvePlace(context.Background(), "none", "")
	require.ErrorIs(t, err, graph.ErrNotFound)
}

func TestBatchLogLatestAndHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(&stepClock{now: time.Unix(1700000000, 0).UTC()})

	_, err := store.Latest(ctx, "12345", graph.JobContrib)
	require.ErrorIs(t, err, graph.ErrNotFound)

	require.NoError(t, store.Record(ctx, "12345", graph.StatusInProgress, graph.JobContrib))
	require.NoError(t, store.Record(ctx, "12345", graph.StatusInProgress, graph.JobContribPlace))
	require.NoError(t, store.Record(ctx, "12345", graph.StatusCompleted, graph.JobContrib))

	latest, err := store.Latest(ctx, "12345", graph.JobContrib)
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, latest.Status)

	other, err := store.Latest(ctx, "12345", graph.JobContribPlace)
	require.NoError(t, err)
	require.Equal(t, graph.StatusInProgress, other.Status)

	history, err := store.History(ctx, "12345", graph.JobContrib, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, graph.StatusCompleted, history[0].Status)
	require.Equal(t, graph.StatusInProgress, history[1].Status)

	limited, err := store.History(ctx, "12345", graph.JobContrib, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}
