package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
)

// fakeRuns implements store.RunRecorder for testing.
type fakeRuns struct {
	runs    []model.RunSummary
	listErr error
	limit   int
}

func (f *fakeRuns) SaveRun(_ context.Context, s *model.RunSummary) error {
	f.runs = append(f.runs, *s)
	return nil
}

func (f *fakeRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.RunSummary, error) {
	f.limit = filter.Limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.runs, nil
}

var collectNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func summary(id string, started time.Time, fetched, sinked int) model.RunSummary {
	s := model.NewRunSummary(id, "csv:listing.csv", started)
	s.FinishedAt = started.Add(time.Minute)
	s.Counts.Fetched = fetched
	s.Counts.Sinked = sinked
	return *s
}

func newTestCollector(runs *fakeRuns) *Collector {
	c := NewCollector(runs)
	c.now = func() time.Time { return collectNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	recent := summary("a", collectNow.Add(-2*time.Hour), 10, 10)
	recent.StageSkips[model.StageDocument] = 3
	recent.FailureClasses[model.ClassInvalidDocument] = 2
	recent.FailureClasses[model.ClassTransientNetwork] = 1

	drift := summary("b", collectNow.Add(-time.Hour), 4, 3)
	drift.Interrupted = true
	drift.StageSkips[model.StageExtract] = 1
	drift.FailureClasses[model.ClassSourceFormatChange] = 1

	old := summary("c", collectNow.Add(-48*time.Hour), 100, 0)
	old.FailureClasses[model.ClassSourceFormatChange] = 5

	runs := &fakeRuns{runs: []model.RunSummary{recent, drift, old}}
	snap, err := newTestCollector(runs).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, maxRuns, runs.limit)
	assert.Equal(t, 2, snap.Runs)
	assert.Equal(t, 1, snap.Interrupted)
	assert.Equal(t, 14, snap.Fetched)
	assert.Equal(t, 13, snap.Sinked)
	assert.Equal(t, 4, snap.Skips)
	assert.InDelta(t, 4.0/14.0, snap.SkipRate, 1e-9)
	assert.Equal(t, 1, snap.FormatChanges)
	assert.Equal(t, 2, snap.FailureClasses[model.ClassInvalidDocument])
	assert.Equal(t, collectNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&fakeRuns{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.Runs)
	assert.Zero(t, snap.SkipRate)
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&fakeRuns{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}
