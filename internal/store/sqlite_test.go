package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	st.now = func() time.Time { return fixedNow }
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func countRows(t *testing.T, st *SQLiteStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestSQLite_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := sampleRecord("5196306")

	require.NoError(t, st.Upsert(ctx, rec))

	got, err := st.Get(ctx, "5196306")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, rec.Tender.RawRecord, got.Tender.RawRecord)
	require.NotNil(t, got.Tender.EstimatedValueNumeric)
	assert.Equal(t, "250000.5", got.Tender.EstimatedValueNumeric.String())
	assert.True(t, got.Tender.IsOpen)
	assert.Equal(t, model.StageDone, got.Stages[model.StageDocument])

	require.NotNil(t, got.Document)
	assert.Equal(t, *rec.Document.Text, *got.Document.Text)
	assert.Equal(t, "72000000", got.Document.Fields["main_classification"])
	assert.True(t, got.Document.PDFParsed)
	assert.True(t, rec.Document.FetchedAt.Equal(got.Document.FetchedAt))

	require.NotNil(t, got.Validation)
	assert.Equal(t, []string{"72000000"}, got.Validation.CPVCodes)
	assert.Equal(t, rec.Validation.CPVDetails, got.Validation.CPVDetails)
	assert.True(t, got.Validation.HasValidatedCPV)

	require.NotNil(t, got.Recommendation)
	assert.InDelta(t, 0.9, got.Recommendation.Confidence, 1e-9)
	assert.Equal(t, []string{"software", "public sector"}, got.Recommendation.RelevantFactors)
}

func TestSQLite_UpsertIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Upsert(ctx, sampleRecord("1")))
	require.NoError(t, st.Upsert(ctx, sampleRecord("1")))

	for _, table := range []string{"tenders", "tender_documents", "tender_validations", "tender_recommendations"} {
		assert.Equal(t, 1, countRows(t, st, table), table)
	}
}

func TestSQLite_RecommendationSuperseded(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord("1")
	require.NoError(t, st.Upsert(ctx, rec))

	rec.Recommendation.ShouldBid = false
	rec.Recommendation.Reasoning = "Re-scored"
	require.NoError(t, st.Upsert(ctx, rec))

	got, err := st.Get(ctx, "1")
	require.NoError(t, err)
	assert.False(t, got.Recommendation.ShouldBid)
	assert.Equal(t, "Re-scored", got.Recommendation.Reasoning)
}

func TestSQLite_PartialRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord("2")
	rec.Document = nil
	rec.Recommendation = nil
	require.NoError(t, st.Upsert(ctx, rec))

	got, err := st.Get(ctx, "2")
	require.NoError(t, err)
	assert.Nil(t, got.Document)
	assert.Nil(t, got.Recommendation)
	assert.NotNil(t, got.Validation)
}

func TestSQLite_DocumentWithoutText(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord("3")
	rec.Document.Text = nil
	rec.Document.Fields = nil
	rec.Document.PDFParsed = false
	require.NoError(t, st.Upsert(ctx, rec))

	got, err := st.Get(ctx, "3")
	require.NoError(t, err)
	require.NotNil(t, got.Document)
	assert.Nil(t, got.Document.Text)
	assert.Nil(t, got.Document.Fields)
}

func TestSQLite_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_DeleteCascades(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.Upsert(ctx, sampleRecord("1")))

	require.NoError(t, st.Delete(ctx, "1"))
	for _, table := range []string{"tenders", "tender_documents", "tender_validations", "tender_recommendations"} {
		assert.Equal(t, 0, countRows(t, st, table), table)
	}

	assert.Error(t, st.Delete(ctx, "1"))
}

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	older := model.NewRunSummary("run-1", "csv:a.csv", fixedNow.Add(-time.Hour))
	older.FinishedAt = fixedNow.Add(-30 * time.Minute)
	older.Counts.Sinked = 3
	older.StageSkips[model.StageDocument] = 2

	newer := model.NewRunSummary("run-2", "csv:b.csv", fixedNow)
	newer.FinishedAt = fixedNow.Add(time.Minute)
	newer.Interrupted = true

	require.NoError(t, st.SaveRun(ctx, older))
	require.NoError(t, st.SaveRun(ctx, newer))
	require.NoError(t, st.SaveRun(ctx, newer))

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.True(t, runs[0].Interrupted)
	assert.Equal(t, 3, runs[1].Counts.Sinked)
	assert.Equal(t, 2, runs[1].StageSkips[model.StageDocument])

	runs, err = st.ListRuns(ctx, RunFilter{Source: "csv:a.csv"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	runs, err = st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}
