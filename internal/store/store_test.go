package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/coerce"
	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/db"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord(id string) *model.EnrichedRecord {
	text := "CONTRACT NOTICE 72000000 IT services"
	rec := &model.EnrichedRecord{
		Tender: coerce.Coerce(model.RawRecord{
			ResourceID:           id,
			RowNumber:            "1",
			Title:                "Security Software Framework",
			ContractingAuthority: "Office of Government Procurement",
			Info:                 "Software consultancy",
			DatePublished:        "Mon Mar 04 10:00:00 GMT 2024",
			SubmissionDeadline:   "05/04/2024 12:00",
			Procedure:            "Open procedure",
			Status:               "Open",
			NoticePDFURL:         "https://example.test/notice.pdf",
			EstimatedValue:       "€250,000.50",
			Cycle:                "3",
		}),
		Document: &model.DocumentRecord{
			ResourceID:  id,
			PDFURL:      "https://example.test/notice.pdf",
			PDFParsed:   true,
			Text:        &text,
			ContentHash: "abc123",
			Fields:      map[string]any{"main_classification": "72000000"},
			FetchedAt:   fixedNow,
		},
		Validation: &model.ValidationRecord{
			ResourceID:      id,
			CPVCount:        1,
			CPVCodes:        []string{"72000000"},
			CPVDetails:      []model.CodeDetail{{Code: "72000000", Description: "IT services", Source: "document_text", Valid: true}},
			HasValidatedCPV: true,
		},
		Recommendation: &model.RecommendationRecord{
			ResourceID:      id,
			ShouldBid:       true,
			Confidence:      0.9,
			EstimatedFit:    0.75,
			Reasoning:       "Software work",
			RelevantFactors: []string{"software", "public sector"},
			Model:           "llama3.1:8b",
			AnalyzedAt:      fixedNow,
		},
	}
	rec.MarkStage(model.StageDocument, model.StageDone)
	rec.MarkStage(model.StageScore, model.StageDone)
	return rec
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "t.db")})
	require.NoError(t, err)
	_, ok := sink.(Store)
	assert.True(t, ok)
	require.NoError(t, sink.Close())

	sink, err = Open(ctx, config.StoreConfig{Driver: "csv", Output: filepath.Join(dir, "out.csv")})
	require.NoError(t, err)
	_, ok = sink.(*FileSink)
	assert.True(t, ok)
	require.NoError(t, sink.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	require.Error(t, err)
	assert.Equal(t, model.ClassConfigurationError, resilience.Classify(err))
}

func TestUpsertStatements_OnlyPresentParts(t *testing.T) {
	rec := sampleRecord("1")
	rec.Document = nil
	rec.Recommendation = nil

	stmts, args, err := upsertStatements(db.Postgres, rec, fixedNow)
	require.NoError(t, err)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], `INSERT INTO "tenders"`)
	assert.Contains(t, stmts[1], `INSERT INTO "tender_validations"`)
	assert.Len(t, args[0], len(tenderColumns))
	assert.Equal(t, "250000.5", args[0][17])
	assert.Equal(t, 3, args[0][18])
}

func TestUpsertStatements_RequiresResourceID(t *testing.T) {
	_, _, err := upsertStatements(db.Postgres, &model.EnrichedRecord{}, fixedNow)
	require.Error(t, err)
}
