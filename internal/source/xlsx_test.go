package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "listing.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestXLSX_Stream(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Resource ID", "Title", "Submission Deadline", "Estimated Value"},
			{"7001", "Bridge survey", "01/02/2025", "€10,000"},
			{"", "", "", ""},
			{"7002", "Coastal works", "", "€5,000"},
		},
	})

	recs, errs := drain(t, NewXLSX(path, ""))
	require.Empty(t, errs)
	require.Len(t, recs, 2)
	assert.Equal(t, "7001", recs[0].ResourceID)
	assert.Equal(t, "01/02/2025", recs[0].SubmissionDeadline)
	assert.Equal(t, "€10,000", recs[0].EstimatedValue)
	assert.Equal(t, "Coastal works", recs[1].Title)
}

func TestXLSX_NamedSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes":    {{"nothing here"}},
		"Listings": {{"resource_id", "title"}, {"1", "A"}},
	})

	recs, errs := drain(t, NewXLSX(path, "Listings"))
	require.Empty(t, errs)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].Title)

	_, errs = drain(t, NewXLSX(path, "Missing"))
	require.Len(t, errs, 1)
	assert.Equal(t, model.ClassSourceFormatChange, resilience.Classify(errs[0]))
}

func TestXLSX_HeaderDrift(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"Name", "Title"}, {"x", "y"}},
	})
	recs, errs := drain(t, NewXLSX(path, ""))
	assert.Empty(t, recs)
	require.Len(t, errs, 1)
	assert.Equal(t, model.ClassSourceFormatChange, resilience.Classify(errs[0]))
}

func TestXLSX_MissingFile(t *testing.T) {
	_, errs := drain(t, NewXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), ""))
	require.Len(t, errs, 1)
	assert.Equal(t, model.ClassConfigurationError, resilience.Classify(errs[0]))
}
