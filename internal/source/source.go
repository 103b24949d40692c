// Package source streams raw tender listing rows from files or a paginated
// HTTP endpoint. Sources check the structure they receive and report drift
// as SOURCE_FORMAT_CHANGE instead of emitting garbage records.
package source

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Source yields raw records. Stream may be called again to restart from
// the beginning. Errors on the error channel are not fatal to the run;
// both channels close when the source is exhausted.
type Source interface {
	Name() string
	Stream(ctx context.Context) (<-chan model.RawRecord, <-chan error)
}

// Open builds the source described by cfg.
func Open(cfg config.SourceConfig, doc config.DocumentConfig, retry resilience.RetryConfig) (Source, error) {
	switch strings.ToLower(cfg.Kind) {
	case "csv", "":
		return NewCSV(cfg.Path), nil
	case "xlsx":
		return NewXLSX(cfg.Path, cfg.Sheet), nil
	case "json":
		return NewJSON(cfg.Path), nil
	case "http":
		var limiter *rate.Limiter
		if cfg.RateLimitMs > 0 {
			limiter = rate.NewLimiter(rate.Every(time.Duration(cfg.RateLimitMs)*time.Millisecond), 1)
		}
		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    doc.UserAgent,
			Timeout:      time.Duration(doc.TimeoutSecs) * time.Second,
			ContentTypes: []string{"application/json"},
		})
		pages, err := NewHTTPPages(HTTPPagesOptions{
			URLTemplate: cfg.URL,
			StartPage:   cfg.StartPage,
			EndPage:     cfg.EndPage,
			Fetcher:     f,
			Limiter:     limiter,
			Retry:       retry,
		})
		if err != nil {
			return nil, err
		}
		return pages, nil
	}
	return nil, resilience.Classifiedf(model.ClassConfigurationError, "source: unknown kind %q", cfg.Kind)
}

// emitter sends records and non-fatal errors while honoring cancellation.
type emitter struct {
	ctx  context.Context
	out  chan<- model.RawRecord
	errs chan<- error
}

func (e *emitter) record(r model.RawRecord) bool {
	select {
	case e.out <- r:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) fail(err error) bool {
	if e.ctx.Err() != nil {
		return false
	}
	select {
	case e.errs <- err:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// stream runs fn in a goroutine. A non-nil return from fn is reported
// unless the context was cancelled.
func stream(ctx context.Context, fn func(e *emitter) error) (<-chan model.RawRecord, <-chan error) {
	out := make(chan model.RawRecord, 64)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		e := &emitter{ctx: ctx, out: out, errs: errs}
		if err := fn(e); err != nil {
			e.fail(err)
		}
	}()

	return out, errs
}

func formatChange(format string, args ...any) error {
	return resilience.Classifiedf(model.ClassSourceFormatChange, format, args...)
}
