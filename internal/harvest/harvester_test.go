package harvest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeList struct {
	ids     []string
	batch   int
	visible int

	failTimes    map[string]int
	skip         map[string]bool
	extractCalls map[string]int

	countFailAt int
	countCalls  int

	reloads  int
	recovers int
	scrolls  int
}

func newFakeList(n, batch int) *fakeList {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%d", i)
	}
	return newFakeListWithIDs(ids, batch)
}

func newFakeListWithIDs(ids []string, batch int) *fakeList {
	return &fakeList{
		ids:          ids,
		batch:        batch,
		visible:      min(batch, len(ids)),
		failTimes:    map[string]int{},
		skip:         map[string]bool{},
		extractCalls: map[string]int{},
	}
}

func (f *fakeList) Count(context.Context) (int, error) {
	f.countCalls++
	if f.countCalls == f.countFailAt {
		return 0, errors.New("navigation timeout")
	}
	return f.visible, nil
}

func (f *fakeList) ItemID(_ context.Context, index int) (string, error) {
	if index >= f.visible {
		return "", fmt.Errorf("index %d not rendered", index)
	}
	return f.ids[index], nil
}

func (f *fakeList) Contains(_ context.Context, id string) (bool, error) {
	for _, v := range f.ids[:f.visible] {
		if v == id {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeList) Scroll(context.Context) error {
	f.scrolls++
	f.visible = min(f.visible+f.batch, len(f.ids))
	return nil
}

func (f *fakeList) Extract(_ context.Context, index int) (string, error) {
	id := f.ids[index]
	f.extractCalls[id]++
	if f.extractCalls[id] <= f.failTimes[id] {
		return "", errors.New("detached element")
	}
	if f.skip[id] {
		return "", ErrSkip
	}
	return "rec-" + id, nil
}

func (f *fakeList) Reload(context.Context) error {
	f.reloads++
	f.visible = min(f.batch, len(f.ids))
	return nil
}

func (f *fakeList) Recover(context.Context) error {
	f.recovers++
	f.visible = min(f.batch, len(f.ids))
	return nil
}

type countingObserver struct {
	harvested, skipped, recovered int
}

func (c *countingObserver) ItemHarvested() { c.harvested++ }
func (c *countingObserver) ItemSkipped()   { c.skipped++ }
func (c *countingObserver) Recovered()     { c.recovered++ }

func testConfig() Config {
	return Config{RefreshEvery: 40, MaxScrollAttempts: 10, MaxItemAttempts: 3}
}

func requireUnique(t *testing.T, records []string) {
	t.Helper()
	seen := map[string]bool{}
	for _, r := range records {
		require.False(t, seen[r], "duplicate record %s", r)
		seen[r] = true
	}
}

func TestHarvestTerminatesAfterExhaustingList(t *testing.T) {
	t.Parallel()

	list := newFakeList(25, 10)
	h := New[string](testConfig(), zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Len(t, res.Records, 25)
	require.Len(t, res.Checked, 25)
	requireUnique(t, res.Records)
	require.Equal(t, "rec-r0", res.Records[0])
	require.Equal(t, "rec-r24", res.Records[24])
	require.GreaterOrEqual(t, list.scrolls, 11)
}

func TestHarvestEmptyListStops(t *testing.T) {
	t.Parallel()

	list := newFakeList(0, 10)
	h := New[string](testConfig(), zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Equal(t, 11, list.scrolls)
}

func TestHarvestRefreshesOnBoundary(t *testing.T) {
	t.Parallel()

	list := newFakeList(50, 10)
	cfg := testConfig()
	cfg.RefreshEvery = 20
	h := New[string](cfg, zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, 2, list.reloads)
	require.Len(t, res.Records, 50)
	requireUnique(t, res.Records)
}

func TestHarvestRetriesTransientItemFailures(t *testing.T) {
	t.Parallel()

	list := newFakeList(25, 10)
	list.failTimes["r5"] = 2
	h := New[string](testConfig(), zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Len(t, res.Records, 25)
	require.Equal(t, 3, list.extractCalls["r5"])
}

func TestHarvestSkipsPermanentItemFailures(t *testing.T) {
	t.Parallel()

	list := newFakeList(25, 10)
	list.failTimes["r3"] = 100
	obs := &countingObserver{}
	h := New[string](testConfig(), zap.NewNop(), obs)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Len(t, res.Records, 24)
	require.NotContains(t, res.Records, "rec-r3")
	require.Contains(t, res.Checked, "r3")
	require.Equal(t, 3, list.extractCalls["r3"])
	require.Equal(t, 1, obs.skipped)
	require.Equal(t, 24, obs.harvested)
}

func TestHarvestHonorsSkipSentinel(t *testing.T) {
	t.Parallel()

	list := newFakeList(5, 10)
	list.skip["r1"] = true
	h := New[string](testConfig(), zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, []string{"rec-r0", "rec-r2", "rec-r3", "rec-r4"}, res.Records)
	require.Equal(t, 1, list.extractCalls["r1"])
	require.Len(t, res.Checked, 5)
}

func TestHarvestDeduplicatesRepeatedIDs(t *testing.T) {
	t.Parallel()

	list := newFakeListWithIDs([]string{"a", "b", "a", "c"}, 10)
	h := New[string](testConfig(), zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, []string{"rec-a", "rec-b", "rec-c"}, res.Records)
	require.Equal(t, []string{"a", "b", "c"}, res.Checked)
}

func TestHarvestResumeSkipsKnownItems(t *testing.T) {
	t.Parallel()

	list := newFakeList(25, 10)
	h := New[string](testConfig(), zap.NewNop(), nil)

	checked := make([]string, 10)
	for i := range checked {
		checked[i] = fmt.Sprintf("r%d", i)
	}
	res, err := h.Resume(context.Background(), list, checked)
	require.NoError(t, err)
	require.Len(t, res.Records, 15)
	require.Len(t, res.Checked, 25)
	for _, id := range checked {
		require.Zero(t, list.extractCalls[id])
	}
}

func TestHarvestResumeScrollsBackToDeepCheckpoint(t *testing.T) {
	t.Parallel()

	list := newFakeList(60, 2)
	h := New[string](testConfig(), zap.NewNop(), nil)

	checked := make([]string, 30)
	for i := range checked {
		checked[i] = fmt.Sprintf("r%d", i)
	}
	res, err := h.Resume(context.Background(), list, checked)
	require.NoError(t, err)
	require.Len(t, res.Records, 30)
	require.Equal(t, "rec-r30", res.Records[0])
	require.Equal(t, "rec-r59", res.Records[29])
	require.Len(t, res.Checked, 60)
	requireUnique(t, res.Records)
	for _, id := range checked {
		require.Zero(t, list.extractCalls[id], "extracted %s again", id)
	}
}

func TestHarvestResyncSkipsItemsWithoutID(t *testing.T) {
	t.Parallel()

	list := newFakeListWithIDs([]string{"a", "b", "c", "", "d", "e", "f", "g"}, 10)
	cfg := testConfig()
	cfg.RefreshEvery = 4
	h := New[string](cfg, zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, 2, list.reloads)
	require.Len(t, res.Records, 8)
	require.Equal(t, "#3", res.Checked[3])
}

func TestHarvestRefreshCadenceIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	list := newFakeListWithIDs([]string{"a", "b", "a", "c", "d", "e"}, 10)
	cfg := testConfig()
	cfg.RefreshEvery = 3
	h := New[string](cfg, zap.NewNop(), nil)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, 1, list.reloads)
	require.Equal(t, []string{"rec-a", "rec-b", "rec-c", "rec-d", "rec-e"}, res.Records)
}

func TestHarvestRecoversFromUnexpectedFailure(t *testing.T) {
	t.Parallel()

	list := newFakeList(25, 10)
	list.countFailAt = 5
	obs := &countingObserver{}
	h := New[string](testConfig(), zap.NewNop(), obs)

	res, err := h.Run(context.Background(), list)
	require.NoError(t, err)
	require.Equal(t, 1, list.recovers)
	require.Equal(t, 1, obs.recovered)
	require.Len(t, res.Records, 25)
	requireUnique(t, res.Records)
}

func TestHarvestPropagatesCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := New[string](testConfig(), zap.NewNop(), nil)
	_, err := h.Run(ctx, newFakeList(5, 10))
	require.ErrorIs(t, err, context.Canceled)
}
