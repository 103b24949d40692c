package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL_Postgres(t *testing.T) {
	got, err := UpsertSQL(Postgres, UpsertConfig{
		Table:        "tenders",
		Columns:      []string{"resource_id", "title", "status"},
		ConflictKeys: []string{"resource_id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "tenders" ("resource_id", "title", "status") VALUES ($1, $2, $3) ON CONFLICT ("resource_id") DO UPDATE SET "title" = EXCLUDED."title", "status" = EXCLUDED."status"`,
		got)
}

func TestUpsertSQL_SQLite(t *testing.T) {
	got, err := UpsertSQL(SQLite, UpsertConfig{
		Table:        "tender_documents",
		Columns:      []string{"resource_id", "pdf_url"},
		ConflictKeys: []string{"resource_id"},
		UpdateCols:   []string{"pdf_url"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "tender_documents" ("resource_id", "pdf_url") VALUES (?, ?) ON CONFLICT ("resource_id") DO UPDATE SET "pdf_url" = EXCLUDED."pdf_url"`,
		got)
}

func TestUpsertSQL_OnlyKeys(t *testing.T) {
	got, err := UpsertSQL(Postgres, UpsertConfig{
		Table:        "seen",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "DO NOTHING")
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(Postgres, UpsertConfig{
		Table:        "tenders",
		ConflictKeys: []string{"id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(SQLite, UpsertConfig{
		Table:   "tenders",
		Columns: []string{"id", "name"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.tenders", `"public"."tenders"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$3", Postgres.Placeholder(3))
	assert.Equal(t, "?", SQLite.Placeholder(3))
}
