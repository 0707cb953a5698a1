// Package postgres provides Postgres-backed persistence for the review graph
// and the batch status log.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

// DefaultTablePrefix matches the tables provisioned by schema.sql.
const DefaultTablePrefix = "google-map-contrib_"

var validTablePrefix = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_-]*)?$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

type tables struct {
	contributor string
	place       string
	review      string
	batch       string
}

// Store implements graph.EntityStore, graph.BatchTracker and
// graph.BatchHistory on Postgres.
type Store struct {
	pool   pool
	tables tables
	clock  graph.Clock
	psql   sq.StatementBuilderType
}

// NewStore connects a pool using cfg and returns a Store.
func NewStore(ctx context.Context, cfg Config, clock graph.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStoreWithPool(p, cfg.TablePrefix, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, prefix string, clock graph.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTablePrefix.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &Store{
		pool: p,
		tables: tables{
			contributor: pgx.Identifier{prefix + "contributor"}.Sanitize(),
			place:       pgx.Identifier{prefix + "place"}.Sanitize(),
			review:      pgx.Identifier{prefix + "review"}.Sanitize(),
			batch:       pgx.Identifier{prefix + "batch_status"}.Sanitize(),
		},
		clock: clock,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// UpsertContributor inserts a contributor or fills its missing columns.
// Observations without an external id carry no natural key and are ignored.
func (s *Store) UpsertContributor(ctx context.Context, c graph.Contributor) error {
	if c.IsEmpty() || c.ExternalID == "" {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS t (name, url, "profileImageUrl", "contributorId", created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT ("contributorId") DO UPDATE SET
	name = COALESCE(NULLIF(t.name, ''), EXCLUDED.name),
	url = COALESCE(NULLIF(t.url, ''), EXCLUDED.url),
	"profileImageUrl" = COALESCE(NULLIF(t."profileImageUrl", ''), EXCLUDED."profileImageUrl"),
	updated_at = EXCLUDED.updated_at`, s.tables.contributor)

	if _, err := s.pool.Exec(ctx, query, c.Name, c.URL, c.ProfileImageURL, c.ExternalID, s.now()); err != nil {
		return fmt.Errorf("upsert contributor: %w", err)
	}
	return nil
}

// UpsertPlace inserts a place or fills its missing columns.
func (s *Store) UpsertPlace(ctx context.Context, p graph.Place) error {
	if p.IsEmpty() || (p.Name == "" && p.Address == "") {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS t (name, url, "profileImageUrl", address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (name, address) DO UPDATE SET
	url = COALESCE(NULLIF(t.url, ''), EXCLUDED.url),
	"profileImageUrl" = COALESCE(NULLIF(t."profileImageUrl", ''), EXCLUDED."profileImageUrl"),
	updated_at = EXCLUDED.updated_at`, s.tables.place)

	if _, err := s.pool.Exec(ctx, query, p.Name, p.URL, p.ProfileImageURL, p.Address, s.now()); err != nil {
		return fmt.Errorf("upsert place: %w", err)
	}
	return nil
}

// UpsertReview resolves both natural keys and writes the review edge.
func (s *Store) UpsertReview(ctx context.Context, r graph.ReviewObservation) error {
	contributorID, err := s.ResolveContributor(ctx, r.ContributorExternalID)
	if err != nil {
		return missingReference("contributor", r.ContributorExternalID, err)
	}
	placeID, err := s.ResolvePlace(ctx, r.PlaceName, r.PlaceAddress)
	if err != nil {
		return missingReference("place", r.PlaceName, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s AS t (contributor_id, place_id, url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (contributor_id, place_id) DO UPDATE SET
	url = COALESCE(NULLIF(t.url, ''), EXCLUDED.url),
	updated_at = EXCLUDED.updated_at`, s.tables.review)

	if _, err := s.pool.Exec(ctx, query, contributorID, placeID, r.URL, s.now()); err != nil {
		return fmt.Errorf("upsert review: %w", err)
	}
	return nil
}

func missingReference(kind, key string, err error) error {
	if errors.Is(err, graph.ErrNotFound) {
		return fmt.Errorf("%s %q: %w", kind, key, graph.ErrMissingReference)
	}
	return err
}

// ResolveContributor returns the surrogate id for an external id.
func (s *Store) ResolveContributor(ctx context.Context, externalID string) (int64, error) {
	query, args, err := s.psql.Select("id").
		From(s.tables.contributor).
		Where(sq.Eq{`"contributorId"`: externalID}).
		Limit(1).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build contributor lookup: %w", err)
	}
	return s.scanID(ctx, "resolve contributor", query, args)
}

// ResolvePlace returns the surrogate id for a (name, address) pair.
func (s *Store) ResolvePlace(ctx context.Context, name, address string) (int64, error) {
	query, args, err := s.psql.Select("id").
		From(s.tables.place).
		Where(sq.And{sq.Eq{"name": name}, sq.Eq{"address": address}}).
		Limit(1).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build place lookup: %w", err)
	}
	return s.scanID(ctx, "resolve place", query, args)
}

func (s *Store) scanID(ctx context.Context, op, query string, args []any) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, graph.ErrNotFound
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}
