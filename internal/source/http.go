package source

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// PagePlaceholder is replaced with the page number in a URL template.
const PagePlaceholder = "{page}"

// HTTPPagesOptions configures an HTTPPages source.
type HTTPPagesOptions struct {
	URLTemplate string
	StartPage   int
	EndPage     int
	Fetcher     fetcher.Fetcher
	// Limiter paces page requests. Default: one request per second.
	Limiter *rate.Limiter
	Retry   resilience.RetryConfig
}

// HTTPPages walks a page range of a listing endpoint that answers each page
// with a JSON array of row objects.
type HTTPPages struct {
	opts HTTPPagesOptions
}

// NewHTTPPages validates opts and returns the source.
func NewHTTPPages(opts HTTPPagesOptions) (*HTTPPages, error) {
	if !strings.Contains(opts.URLTemplate, PagePlaceholder) {
		return nil, resilience.Classifiedf(model.ClassConfigurationError,
			"source: url template %q has no %s placeholder", opts.URLTemplate, PagePlaceholder)
	}
	if opts.StartPage <= 0 {
		opts.StartPage = 1
	}
	if opts.EndPage < opts.StartPage {
		return nil, resilience.Classifiedf(model.ClassConfigurationError,
			"source: end page %d is before start page %d", opts.EndPage, opts.StartPage)
	}
	if opts.Fetcher == nil {
		return nil, resilience.Classifiedf(model.ClassConfigurationError, "source: no fetcher")
	}
	if opts.Limiter == nil {
		opts.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &HTTPPages{opts: opts}, nil
}

// Name implements Source.
func (h *HTTPPages) Name() string { return "http:" + h.opts.URLTemplate }

// PageURL returns the URL of page n.
func (h *HTTPPages) PageURL(n int) string {
	return strings.ReplaceAll(h.opts.URLTemplate, PagePlaceholder, strconv.Itoa(n))
}

// Stream implements Source. A page that cannot be fetched or decoded is
// reported on the error channel and skipped.
func (h *HTTPPages) Stream(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	return stream(ctx, func(e *emitter) error {
		for page := h.opts.StartPage; page <= h.opts.EndPage; page++ {
			if err := h.opts.Limiter.Wait(ctx); err != nil {
				return nil
			}

			url := h.PageURL(page)
			doc, err := resilience.DoVal(ctx, h.retry(url), func(ctx context.Context) (*fetcher.Document, error) {
				return h.opts.Fetcher.Fetch(ctx, url)
			})
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				if resilience.Classify(err) == model.ClassInvalidDocument {
					err = resilience.NewClassified(model.ClassSourceFormatChange, err)
				}
				if !e.fail(eris.Wrapf(err, "source: page %d", page)) {
					return nil
				}
				continue
			}

			var rej rejects
			emitted := 0
			stopped := false
			err = decodeArray(bytes.NewReader(doc.Body), func(obj map[string]any) bool {
				rej.total++
				rec, ok := fromObject(obj)
				if !ok {
					rej.dropped++
					return true
				}
				if !e.record(rec) {
					stopped = true
					return false
				}
				emitted++
				return true
			})
			if stopped {
				return nil
			}
			if err != nil {
				e.fail(eris.Wrapf(err, "source: page %d", page))
				continue
			}
			if err := rej.err(url); err != nil {
				e.fail(err)
			}

			zap.L().Debug("source page read",
				zap.Int("page", page),
				zap.Int("rows", emitted),
				zap.Int("dropped", rej.dropped),
			)
		}
		return nil
	})
}

func (h *HTTPPages) retry(url string) resilience.RetryConfig {
	cfg := h.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("source", url)
	}
	return cfg
}
