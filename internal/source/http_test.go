package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

func noSleepRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.Sleep = func(context.Context, time.Duration) error { return nil }
	return cfg
}

func newPages(t *testing.T, srv *httptest.Server, start, end int) *HTTPPages {
	t.Helper()
	pages, err := NewHTTPPages(HTTPPagesOptions{
		URLTemplate: srv.URL + "/listing?page={page}",
		StartPage:   start,
		EndPage:     end,
		Fetcher:     fetcher.NewHTTPFetcher(fetcher.HTTPOptions{ContentTypes: []string{"application/json"}}),
		Limiter:     rate.NewLimiter(rate.Inf, 1),
		Retry:       noSleepRetry(),
	})
	require.NoError(t, err)
	return pages
}

func TestHTTPPages_Stream(t *testing.T) {
	var failing atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"resource_id":"1","title":"A"},{"resource_id":"2","title":"B"}]`))
		case "2":
			failing.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		case "3":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body>maintenance</body></html>`))
		case "4":
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			_, _ = w.Write([]byte(`[{"resource_id":"3","title":"C"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	recs, errs := drain(t, newPages(t, srv, 1, 4))

	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ResourceID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, int32(3), failing.Load())

	require.Len(t, errs, 2)
	assert.Equal(t, model.ClassTransientNetwork, resilience.Classify(errs[0]))
	assert.Contains(t, errs[0].Error(), "page 2")
	assert.Equal(t, model.ClassSourceFormatChange, resilience.Classify(errs[1]))
	assert.Contains(t, errs[1].Error(), "page 3")
}

func TestHTTPPages_NotFoundIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	recs, errs := drain(t, newPages(t, srv, 1, 1))
	assert.Empty(t, recs)
	require.Len(t, errs, 1)
	assert.Equal(t, model.ClassUpstreamRejected, resilience.Classify(errs[0]))
}

func TestHTTPPages_ObjectBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"gone"}`))
	}))
	defer srv.Close()

	_, errs := drain(t, newPages(t, srv, 1, 1))
	require.Len(t, errs, 1)
	assert.Equal(t, model.ClassSourceFormatChange, resilience.Classify(errs[0]))
}

func TestHTTPPages_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"resource_id":"1","title":"A"}]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows, errs := newPages(t, srv, 1, 50).Stream(ctx)
	for range rows { //nolint:revive // drain
	}
	var got []error
	for err := range errs {
		got = append(got, err)
	}
	assert.Empty(t, got)
}

func TestNewHTTPPages_Validation(t *testing.T) {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{})

	_, err := NewHTTPPages(HTTPPagesOptions{URLTemplate: "https://x.test/", EndPage: 1, Fetcher: f})
	assert.Equal(t, model.ClassConfigurationError, resilience.Classify(err))

	_, err = NewHTTPPages(HTTPPagesOptions{URLTemplate: "https://x.test/{page}", StartPage: 3, EndPage: 2, Fetcher: f})
	assert.Equal(t, model.ClassConfigurationError, resilience.Classify(err))

	_, err = NewHTTPPages(HTTPPagesOptions{URLTemplate: "https://x.test/{page}", EndPage: 2})
	assert.Equal(t, model.ClassConfigurationError, resilience.Classify(err))

	p, err := NewHTTPPages(HTTPPagesOptions{URLTemplate: "https://x.test/p/{page}", EndPage: 2, Fetcher: f})
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/p/7", p.PageURL(7))
}
