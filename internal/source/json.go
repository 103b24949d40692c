package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// JSON reads a file holding a top-level array of listing objects.
type JSON struct {
	path string
}

// NewJSON returns a source reading path.
func NewJSON(path string) *JSON {
	return &JSON{path: path}
}

// Name implements Source.
func (j *JSON) Name() string { return "json:" + j.path }

// Stream implements Source.
func (j *JSON) Stream(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	return stream(ctx, func(e *emitter) error {
		f, err := os.Open(j.path)
		if err != nil {
			return resilience.NewClassified(model.ClassConfigurationError, eris.Wrapf(err, "json: open %s", j.path))
		}
		defer f.Close() //nolint:errcheck

		var rej rejects
		err = decodeArray(f, func(obj map[string]any) bool {
			rej.total++
			rec, ok := fromObject(obj)
			if !ok {
				rej.dropped++
				return true
			}
			return e.record(rec)
		})
		if err != nil {
			return eris.Wrapf(err, "json: %s", j.path)
		}
		return rej.err(j.Name())
	})
}

// decodeArray streams the objects of a top-level JSON array to fn until fn
// returns false. Anything other than an array of objects is a format change.
func decodeArray(r io.Reader, fn func(map[string]any) bool) error {
	decoder := json.NewDecoder(r)

	tok, err := decoder.Token()
	if errors.Is(err, io.EOF) {
		return formatChange("json: empty body")
	}
	if err != nil {
		return formatChange("json: read opening token: %v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return formatChange("json: expected '[', got %v", tok)
	}

	for decoder.More() {
		var obj map[string]any
		if err := decoder.Decode(&obj); err != nil {
			return formatChange("json: decode element: %v", err)
		}
		if !fn(obj) {
			return nil
		}
	}

	if _, err := decoder.Token(); err != nil && !errors.Is(err, io.EOF) {
		return formatChange("json: read closing token: %v", err)
	}
	return nil
}
