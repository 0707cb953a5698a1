package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Unix(1700000000, 0).UTC()

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock, DefaultTablePrefix, fixedClock{now: testNow})
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolValidatesPrefix(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStoreWithPool(mock, `bad"; DROP`, nil)
	require.Error(t, err)
	_, err = NewStoreWithPool(nil, DefaultTablePrefix, nil)
	require.Error(t, err)

	store, err := NewStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	require.Equal(t, `"contributor"`, store.tables.contributor)
}

func TestUpsertContributorUsesFillMissingConflictClause(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	c := graph.Contributor{
		Name:            "Aiko",
		URL:             "https://www.google.com/maps/contrib/12345/reviews",
		ProfileImageURL: "https://lh3.googleusercontent.com/a",
		ExternalID:      "12345",
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "google-map-contrib_contributor" AS t`) +
		`(?s).*` + regexp.QuoteMeta(`ON CONFLICT ("contributorId") DO UPDATE SET`) +
		`.*` + regexp.QuoteMeta(`name = COALESCE(NULLIF(t.name, ''), EXCLUDED.name)`)).
		WithArgs(c.Name, c.URL, c.ProfileImageURL, c.ExternalID, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertContributor(context.Background(), c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSkipsRecordsWithoutNaturalKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{}))
	require.NoError(t, store.UpsertContributor(ctx, graph.Contributor{Name: "anonymous"}))
	require.NoError(t, store.UpsertPlace(ctx, graph.Place{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPlaceKeyedByNameAndAddress(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	p := graph.Place{Name: "A", Address: "1 Main St", URL: "https://www.google.com/maps/place/A"}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "google-map-contrib_place" AS t`) +
		`(?s).*` + regexp.QuoteMeta(`ON CONFLICT (name, address) DO UPDATE SET`)).
		WithArgs(p.Name, p.URL, p.ProfileImageURL, p.Address, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPlace(context.Background(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPlaceWrapsExecErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "google-map-contrib_place"`)).
		WillReturnError(errors.New("connection reset"))

	err := store.UpsertPlace(context.Background(), graph.Place{Name: "A", Address: "1 Main St"})
	require.ErrorContains(t, err, "upsert place")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReviewResolvesBothSides(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	obs := graph.ReviewObservation{
		ContributorExternalID: "12345",
		PlaceName:             "A",
		PlaceAddress:          "1 Main St",
		URL:                   "https://maps.app.goo.gl/x",
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "google-map-contrib_contributor" WHERE "contributorId" = $1`)).
		WithArgs("12345").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM "google-map-contrib_place" WHERE (name = $1 AND address = $2)`)).
		WithArgs("A", "1 Main St").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "google-map-contrib_review" AS t`) +
		`(?s).*` + regexp.QuoteMeta(`ON CONFLICT (contributor_id, place_id) DO UPDATE SET`)).
		WithArgs(int64(7), int64(9), obs.URL, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertReview(context.Background(), obs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertReviewMissingPlace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "google-map-contrib_contributor"`)).
		WithArgs("12345").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "google-map-contrib_place"`)).
		WithArgs("Gone", "").
		WillReturnError(pgx.ErrNoRows)

	err := store.UpsertReview(context.Background(), graph.ReviewObservation{
		ContributorExternalID: "12345",
		PlaceName:             "Gone",
	})
	require.ErrorIs(t, err, graph.ErrMissingReference)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveContributorNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "google-map-contrib_contributor"`)).
		WithArgs("404").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.ResolveContributor(context.Background(), "404")
	require.ErrorIs(t, err, graph.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsPoolError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewStoreWithPool(mock, DefaultTablePrefix, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
