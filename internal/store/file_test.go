package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tender-cli/internal/model"
)

func TestFileSink_JSONIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tenders.json")
	ctx := context.Background()

	sink, err := NewFileSink(FormatJSON, path)
	require.NoError(t, err)
	require.NoError(t, sink.Upsert(ctx, sampleRecord("1")))
	require.NoError(t, sink.Upsert(ctx, sampleRecord("2")))

	updated := sampleRecord("1")
	updated.Recommendation.Reasoning = "second pass"
	require.NoError(t, sink.Upsert(ctx, updated))
	require.NoError(t, sink.Close())

	var recs []model.EnrichedRecord
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "1", recs[0].ResourceID())
	assert.Equal(t, "second pass", recs[0].Recommendation.Reasoning)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileSink_JSONReloadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.json")
	ctx := context.Background()

	first, err := NewFileSink(FormatJSON, path)
	require.NoError(t, err)
	require.NoError(t, first.Upsert(ctx, sampleRecord("1")))
	require.NoError(t, first.Close())

	second, err := NewFileSink(FormatJSON, path)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Len())

	got, err := second.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Security Software Framework", got.Tender.Title)

	require.NoError(t, second.Upsert(ctx, sampleRecord("2")))
	require.NoError(t, second.Close())

	third, err := NewFileSink(FormatJSON, path)
	require.NoError(t, err)
	assert.Equal(t, 2, third.Len())
}

func TestFileSink_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.csv")
	ctx := context.Background()

	sink, err := NewFileSink(FormatCSV, path)
	require.NoError(t, err)

	partial := sampleRecord("2")
	partial.Document = nil
	partial.Recommendation = nil
	partial.MarkStage(model.StageDocument, model.StageSkipped)

	require.NoError(t, sink.Upsert(ctx, sampleRecord("1")))
	require.NoError(t, sink.Upsert(ctx, partial))
	require.NoError(t, sink.Upsert(ctx, partial))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, FlatColumns, rows[0])
	col := func(name string) int {
		for i, c := range FlatColumns {
			if c == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, "250000.5", rows[1][col("estimated_value_numeric")])
	assert.Equal(t, "true", rows[1][col("should_bid")])
	assert.Equal(t, "72000000", rows[1][col("cpv_codes")])
	assert.Equal(t, "", rows[2][col("pdf_parsed")])
	assert.Equal(t, "document", rows[2][col("skipped_stages")])
}

func TestFileSink_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.xlsx")

	sink, err := NewFileSink(FormatXLSX, path)
	require.NoError(t, err)
	require.NoError(t, sink.Upsert(context.Background(), sampleRecord("1")))
	require.NoError(t, sink.Close())

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "resource_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "1", sheet.Rows[1].Cells[0].String())
}

func TestFileSink_FlushWithoutChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenders.csv")
	sink, err := NewFileSink(FormatCSV, path)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSink_Errors(t *testing.T) {
	_, err := NewFileSink("parquet", "x")
	require.Error(t, err)

	sink, err := NewFileSink(FormatCSV, filepath.Join(t.TempDir(), "x.csv"))
	require.NoError(t, err)
	assert.Error(t, sink.Upsert(context.Background(), &model.EnrichedRecord{}))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = NewFileSink(FormatJSON, bad)
	assert.Error(t, err)
}

func TestFlatten_Width(t *testing.T) {
	assert.Len(t, Flatten(sampleRecord("1")), len(FlatColumns))
	assert.Len(t, Flatten(&model.EnrichedRecord{}), len(FlatColumns))
}
