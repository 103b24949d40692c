package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// CSV reads a listing export with a header row.
type CSV struct {
	path string
	// open is swapped in tests.
	open func() (io.ReadCloser, error)
}

// NewCSV returns a source reading path.
func NewCSV(path string) *CSV {
	return &CSV{path: path, open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// NewCSVReader returns a source reading from r. It can be streamed once.
func NewCSVReader(name string, r io.Reader) *CSV {
	return &CSV{path: name, open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil }}
}

// Name implements Source.
func (c *CSV) Name() string { return "csv:" + c.path }

// Stream implements Source.
func (c *CSV) Stream(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	return stream(ctx, func(e *emitter) error {
		f, err := c.open()
		if err != nil {
			return resilience.NewClassified(model.ClassConfigurationError, eris.Wrapf(err, "csv: open %s", c.path))
		}
		defer f.Close() //nolint:errcheck

		reader := csv.NewReader(f)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return formatChange("csv: %s is empty", c.path)
		}
		if err != nil {
			return formatChange("csv: read header of %s: %v", c.path, err)
		}
		if len(header) > 0 {
			header[0] = strings.TrimPrefix(header[0], "\ufeff")
		}
		cols, err := newColumnMap(header)
		if err != nil {
			return err
		}

		var rej rejects
		for {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return formatChange("csv: read row of %s: %v", c.path, err)
			}
			rej.total++
			rec, ok := cols.record(row)
			if !ok {
				rej.dropped++
				continue
			}
			if !e.record(rec) {
				return nil
			}
		}
		return rej.err(c.Name())
	})
}
