package source

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// XLSX reads a listing export from a workbook. The first row of the sheet
// is the header.
type XLSX struct {
	path  string
	sheet string
}

// NewXLSX returns a source reading sheet from path. An empty sheet name
// selects the first sheet.
func NewXLSX(path, sheet string) *XLSX {
	return &XLSX{path: path, sheet: sheet}
}

// Name implements Source.
func (x *XLSX) Name() string { return "xlsx:" + x.path }

// Stream implements Source.
func (x *XLSX) Stream(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	return stream(ctx, func(e *emitter) error {
		f, err := xlsx.OpenFile(x.path)
		if err != nil {
			return resilience.NewClassified(model.ClassConfigurationError, eris.Wrapf(err, "xlsx: open %s", x.path))
		}

		sheet, err := x.pick(f)
		if err != nil {
			return err
		}
		if len(sheet.Rows) == 0 {
			return formatChange("xlsx: sheet %q of %s is empty", sheet.Name, x.path)
		}

		cols, err := newColumnMap(rowToStrings(sheet.Rows[0]))
		if err != nil {
			return err
		}

		var rej rejects
		for _, row := range sheet.Rows[1:] {
			cells := rowToStrings(row)
			if allBlank(cells) {
				continue
			}
			rej.total++
			rec, ok := cols.record(cells)
			if !ok {
				rej.dropped++
				continue
			}
			if !e.record(rec) {
				return nil
			}
		}
		return rej.err(x.Name())
	})
}

func (x *XLSX) pick(f *xlsx.File) (*xlsx.Sheet, error) {
	if x.sheet != "" {
		sheet, ok := f.Sheet[x.sheet]
		if !ok {
			return nil, formatChange("xlsx: sheet %q not found in %s", x.sheet, x.path)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, formatChange("xlsx: %s has no sheets", x.path)
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
