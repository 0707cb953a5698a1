// Package harvest extracts records from an infinitely scrolling list whose
// DOM keeps mutating while it is read.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrSkip tells the harvester to mark an item checked without recording it
// and without retrying.
var ErrSkip = errors.New("skip item")

// syntheticIDPrefix marks ids made up for items that render without one.
// They cannot be located again after a reload.
const syntheticIDPrefix = "#"

// List is the page capability a Harvester drives. Items are always addressed
// by their position in the rendered list so that retries never reuse a stale
// element handle.
type List[T any] interface {
	// Count returns the number of rendered items.
	Count(ctx context.Context) (int, error)
	// ItemID returns the stable id of the item at index.
	ItemID(ctx context.Context, index int) (string, error)
	// Contains reports whether an item with id is rendered.
	Contains(ctx context.Context, id string) (bool, error)
	// Scroll asks the page to render more items.
	Scroll(ctx context.Context) error
	// Extract reads the item at index. It may navigate away and must return
	// to the list before returning.
	Extract(ctx context.Context, index int) (T, error)
	// Reload refreshes the current page in place.
	Reload(ctx context.Context) error
	// Recover discards the page and reopens the harvest origin.
	Recover(ctx context.Context) error
}

// Observer receives harvest progress events.
type Observer interface {
	ItemHarvested()
	ItemSkipped()
	Recovered()
}

// Config tunes the harvest loop.
type Config struct {
	// RefreshEvery reloads the page after this many consumed items.
	RefreshEvery int
	// MaxScrollAttempts stops the harvest once this many consecutive scrolls
	// or failed items produced nothing new.
	MaxScrollAttempts int
	// MaxItemAttempts bounds extraction attempts per item.
	MaxItemAttempts int
	// ItemBackoff is multiplied by the attempt number between item retries.
	ItemBackoff time.Duration
	// RecoverBackoff is the wait between failed recovery attempts.
	RecoverBackoff time.Duration
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		RefreshEvery:      40,
		MaxScrollAttempts: 10,
		MaxItemAttempts:   3,
		ItemBackoff:       time.Second,
		RecoverBackoff:    5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = def.RefreshEvery
	}
	if c.MaxScrollAttempts <= 0 {
		c.MaxScrollAttempts = def.MaxScrollAttempts
	}
	if c.MaxItemAttempts <= 0 {
		c.MaxItemAttempts = def.MaxItemAttempts
	}
	if c.ItemBackoff < 0 {
		c.ItemBackoff = 0
	}
	if c.RecoverBackoff < 0 {
		c.RecoverBackoff = 0
	}
	return c
}

// Result is the output of one harvest.
type Result[T any] struct {
	Records []T
	// Checked lists every consumed item id in list order, including skipped
	// ones.
	Checked []string
}

// Harvester runs the incremental extraction loop.
type Harvester[T any] struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	sleep    func(context.Context, time.Duration) error
}

// New constructs a Harvester. observer may be nil.
func New[T any](cfg Config, logger *zap.Logger, observer Observer) *Harvester[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester[T]{
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("harvest"),
		observer: observer,
		sleep:    sleepCtx,
	}
}

// Run harvests list from the first item.
func (h *Harvester[T]) Run(ctx context.Context, list List[T]) (Result[T], error) {
	return h.Resume(ctx, list, nil)
}

// Resume harvests list, treating the ids in checked as already consumed.
// The returned result holds only the records extracted by this call, and a
// Checked list that starts with the supplied ids. A freshly opened list is
// scrolled back to the last supplied id before extraction continues.
func (h *Harvester[T]) Resume(ctx context.Context, list List[T], checked []string) (Result[T], error) {
	s := newSession(list, checked)
	if len(s.checked) > 0 {
		if err := h.syncTo(ctx, s); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.result(), ctxErr
			}
			if err := h.recover(ctx, s, err); err != nil {
				return s.result(), err
			}
		}
	}
	for s.scrollAttempts <= h.cfg.MaxScrollAttempts {
		if err := ctx.Err(); err != nil {
			return s.result(), err
		}
		err := h.step(ctx, s)
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.result(), ctxErr
		}
		if err := h.recover(ctx, s, err); err != nil {
			return s.result(), err
		}
	}
	h.logger.Info("harvest finished",
		zap.Int("records", len(s.records)),
		zap.Int("checked", len(s.checked)),
	)
	return s.result(), nil
}

// Session holds the state of one harvest.
type Session[T any] struct {
	list           List[T]
	records        []T
	checked        []string
	seen           map[string]struct{}
	cursor         int
	scrollAttempts int
	refreshedAt    int
}

func newSession[T any](list List[T], checked []string) *Session[T] {
	s := &Session[T]{
		list:        list,
		checked:     append([]string(nil), checked...),
		seen:        make(map[string]struct{}, len(checked)),
		cursor:      len(checked),
		refreshedAt: len(checked),
	}
	for _, id := range checked {
		s.seen[id] = struct{}{}
	}
	return s
}

func (s *Session[T]) result() Result[T] {
	return Result[T]{
		Records: append([]T(nil), s.records...),
		Checked: append([]string(nil), s.checked...),
	}
}

// anchor returns the last consumed id that can be located in the DOM.
func (s *Session[T]) anchor() (string, bool) {
	for i := len(s.checked) - 1; i >= 0; i-- {
		if !strings.HasPrefix(s.checked[i], syntheticIDPrefix) {
			return s.checked[i], true
		}
	}
	return "", false
}

func (s *Session[T]) markChecked(id string) {
	s.cursor++
	s.seen[id] = struct{}{}
	s.checked = append(s.checked, id)
}

func (h *Harvester[T]) step(ctx context.Context, s *Session[T]) error {
	if consumed := len(s.checked); consumed > 0 && consumed%h.cfg.RefreshEvery == 0 && s.refreshedAt != consumed {
		s.refreshedAt = consumed
		h.logger.Debug("refreshing list", zap.Int("checked", consumed), zap.Int("cursor", s.cursor))
		if err := s.list.Reload(ctx); err != nil {
			return fmt.Errorf("reload list: %w", err)
		}
		if err := h.syncTo(ctx, s); err != nil {
			return err
		}
	}

	count, err := s.list.Count(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if count <= s.cursor {
		if err := s.list.Scroll(ctx); err != nil {
			return fmt.Errorf("scroll list: %w", err)
		}
		s.scrollAttempts++
		return nil
	}

	id, err := s.list.ItemID(ctx, s.cursor)
	if err != nil {
		return fmt.Errorf("read item id: %w", err)
	}
	if id == "" {
		id = fmt.Sprintf("%s%d", syntheticIDPrefix, s.cursor)
	}
	if _, dup := s.seen[id]; dup {
		s.cursor++
		return nil
	}

	rec, err := h.extract(ctx, s)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.markChecked(id)
	switch {
	case errors.Is(err, ErrSkip):
		s.scrollAttempts = 0
	case err != nil:
		s.scrollAttempts++
		h.logger.Warn("skipping item after retries", zap.String("item_id", id), zap.Error(err))
		if h.observer != nil {
			h.observer.ItemSkipped()
		}
	default:
		s.records = append(s.records, rec)
		s.scrollAttempts = 0
		if h.observer != nil {
			h.observer.ItemHarvested()
		}
	}
	return nil
}

func (h *Harvester[T]) extract(ctx context.Context, s *Session[T]) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		rec, err := s.list.Extract(ctx, s.cursor)
		if err == nil || errors.Is(err, ErrSkip) {
			return rec, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt >= h.cfg.MaxItemAttempts {
			return zero, err
		}
		h.logger.Debug("retrying item",
			zap.Int("index", s.cursor),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := h.sleep(ctx, time.Duration(attempt)*h.cfg.ItemBackoff); err != nil {
			return zero, err
		}
	}
}

// syncTo scrolls until the last locatable consumed item is rendered again.
// These scrolls do not count as attempts.
func (h *Harvester[T]) syncTo(ctx context.Context, s *Session[T]) error {
	last, ok := s.anchor()
	if !ok {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		found, err := s.list.Contains(ctx, last)
		if err != nil {
			return fmt.Errorf("locate last item: %w", err)
		}
		if found {
			return nil
		}
		if err := s.list.Scroll(ctx); err != nil {
			return fmt.Errorf("scroll to last item: %w", err)
		}
	}
}

func (h *Harvester[T]) recover(ctx context.Context, s *Session[T], cause error) error {
	h.logger.Warn("list desynced, recovering",
		zap.Int("checked", len(s.checked)),
		zap.Error(cause),
	)
	for {
		if h.observer != nil {
			h.observer.Recovered()
		}
		err := s.list.Recover(ctx)
		if err == nil {
			err = h.syncTo(ctx, s)
		}
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		h.logger.Warn("recovery failed", zap.Error(err))
		if err := h.sleep(ctx, h.cfg.RecoverBackoff); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
