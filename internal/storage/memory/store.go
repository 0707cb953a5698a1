// Package memory provides in-process stores for local development, dry runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/contrib-graph-crawler/internal/graph"
)

type contributorRow struct {
	id int64
	graph.Contributor
	createdAt time.Time
	updatedAt time.Time
}

type placeRow struct {
	id int64
	graph.Place
	createdAt time.Time
	updatedAt time.Time
}

type placeKey struct {
	name    string
	address string
}

type reviewKey struct {
	contributorID int64
	placeID       int64
}

// Store implements graph.EntityStore, graph.BatchTracker and
// graph.BatchHistory in memory.
type Store struct {
	mu    sync.RWMutex
	clock graph.Clock
	seq   int64

	contributors map[string]*contributorRow
	places       map[placeKey]*placeRow
	reviews      map[reviewKey]*graph.Review
	batches      []graph.BatchStatus
}

// NewStore constructs an empty Store. A nil clock defaults to time.Now.
func NewStore(clock graph.Clock) *Store {
	return &Store{
		clock:        clock,
		contributors: make(map[string]*contributorRow),
		places:       make(map[placeKey]*placeRow),
		reviews:      make(map[reviewKey]*graph.Review),
	}
}

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func fill(current, incoming string) string {
	if current != "" {
		return current
	}
	return incoming
}

// UpsertContributor inserts or fill-missing-updates a contributor keyed by
// ExternalID.
func (s *Store) UpsertContributor(_ context.Context, c graph.Contributor) error {
	if c.IsEmpty() || c.ExternalID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	row, ok := s.contributors[c.ExternalID]
	if !ok {
		s.contributors[c.ExternalID] = &contributorRow{
			id:          s.nextID(),
			Contributor: c,
			createdAt:   now,
			updatedAt:   now,
		}
		return nil
	}
	row.Name = fill(row.Name, c.Name)
	row.URL = fill(row.URL, c.URL)
	row.ProfileImageURL = fill(row.ProfileImageURL, c.ProfileImageURL)
	row.updatedAt = now
	return nil
}

// UpsertPlace inserts or fill-missing-updates a place keyed by name and
// address.
func (s *Store) UpsertPlace(_ context.Context, p graph.Place) error {
	if p.IsEmpty() || (p.Name == "" && p.Address == "") {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := placeKey{name: p.Name, address: p.Address}
	row, ok := s.places[key]
	if !ok {
		s.places[key] = &placeRow{id: s.nextID(), Place: p, createdAt: now, updatedAt: now}
		return nil
	}
	row.URL = fill(row.URL, p.URL)
	row.ProfileImageURL = fill(row.ProfileImageURL, p.ProfileImageURL)
	row.updatedAt = now
	return nil
}

// UpsertReview resolves both natural keys, then inserts or fill-missing
// updates the review edge.
func (s *Store) UpsertReview(_ context.Context, r graph.ReviewObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contributors[r.ContributorExternalID]
	if !ok {
		return fmt.Errorf("contributor %q: %w", r.ContributorExternalID, graph.ErrMissingReference)
	}
	p, ok := s.places[placeKey{name: r.PlaceName, address: r.PlaceAddress}]
	if !ok {
		return fmt.Errorf("place %q: %w", r.PlaceName, graph.ErrMissingReference)
	}
	now := s.now()
	key := reviewKey{contributorID: c.id, placeID: p.id}
	row, ok := s.reviews[key]
	if !ok {
		s.reviews[key] = &graph.Review{
			ID:            s.nextID(),
			ContributorID: c.id,
			PlaceID:       p.id,
			URL:           r.URL,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return nil
	}
	row.URL = fill(row.URL, r.URL)
	row.UpdatedAt = now
	return nil
}

// ResolveContributor returns the surrogate id for an external id.
func (s *Store) ResolveContributor(_ context.Context, externalID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.contributors[externalID]
	if !ok {
		return 0, graph.ErrNotFound
	}
	return row.id, nil
}

// ResolvePlace returns the surrogate id for a (name, address) pair.
func (s *Store) ResolvePlace(_ context.Context, name, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.places[placeKey{name: name, address: address}]
	if !ok {
		return 0, graph.ErrNotFound
	}
	return row.id, nil
}

// Latest returns the newest batch entry for the key.
func (s *Store) Latest(_ context.Context, subjectID string, jobType graph.JobType) (graph.BatchStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest graph.BatchStatus
		found  bool
	)
	for _, b := range s.batches {
		if b.SubjectID != subjectID || b.JobType != jobType {
			continue
		}
		// Later appends win ties so equal timestamps still resolve to the
		// most recent write.
		if !found || !b.CreatedAt.Before(latest.CreatedAt) {
			latest = b
			found = true
		}
	}
	if !found {
		return graph.BatchStatus{}, graph.ErrNotFound
	}
	return latest, nil
}

// Record appends a batch entry.
func (s *Store) Record(_ context.Context, subjectID string, status graph.Status, jobType graph.JobType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, graph.BatchStatus{
		SubjectID: subjectID,
		JobType:   jobType,
		Status:    status,
		CreatedAt: s.now(),
	})
	return nil
}

// History returns up to limit entries for the key, newest first.
func (s *Store) History(
	_ context.Context,
	subjectID string,
	jobType graph.JobType,
	limit int,
) ([]graph.BatchStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []graph.BatchStatus
	for i := len(s.batches) - 1; i >= 0; i-- {
		b := s.batches[i]
		if b.SubjectID == subjectID && b.JobType == jobType {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Contributors returns a copy of every stored contributor.
func (s *Store) Contributors() []graph.Contributor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.Contributor, 0, len(s.contributors))
	for _, row := range s.contributors {
		out = append(out, row.Contributor)
	}
	return out
}

// Places returns a copy of every stored place.
func (s *Store) Places() []graph.Place {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.Place, 0, len(s.places))
	for _, row := range s.places {
		out = append(out, row.Place)
	}
	return out
}

// Reviews returns a copy of every stored review.
func (s *Store) Reviews() []graph.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.Review, 0, len(s.reviews))
	for _, row := range s.reviews {
		out = append(out, *row)
	}
	return out
}
