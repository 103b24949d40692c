package fetcher

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBytes bounds the response body. Default: 20 MiB.
	MaxBytes int64
	// ContentTypes lists accepted media types. Default: application/pdf.
	ContentTypes []string
	// Limiter paces requests. It may be shared with other fetchers.
	Limiter *rate.Limiter
}

// HTTPFetcher implements Fetcher using net/http.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tender-cli/1.0"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	if len(opts.ContentTypes) == 0 {
		opts.ContentTypes = []string{PDFContentType}
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts: opts,
	}
}

// Fetch downloads rawURL and validates it against the accepted types. Network failures,
// timeouts and 408/429/5xx responses are transient; other non-200 statuses
// are UPSTREAM_REJECTED; a body that fails validation is INVALID_DOCUMENT.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, resilience.NewClassified(model.ClassUpstreamRejected, eris.Wrap(err, "fetch: create request"))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", strings.Join(f.opts.ContentTypes, ",")+",*/*;q=0.5")

	if f.opts.Limiter != nil {
		if err := f.opts.Limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetch: rate limiter wait")
		}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: get %s", rawURL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resilience.HTTPStatusError(resp.StatusCode,
			eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "fetch: read body"), 0)
	}
	if int64(len(body)) > f.opts.MaxBytes {
		return nil, resilience.Classifiedf(model.ClassInvalidDocument,
			"fetch: document exceeds %d bytes", f.opts.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	detected, err := ValidateDocument(contentType, body, f.opts.ContentTypes)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("document fetched",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.String("detected", detected),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)

	return &Document{
		URL:         rawURL,
		ContentType: contentType,
		Detected:    detected,
		Body:        body,
		Hash:        Hash(body),
	}, nil
}

// Hash returns the hex xxhash of b.
func Hash(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
