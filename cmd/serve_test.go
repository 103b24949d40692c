//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tender-cli/internal/coerce"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/monitoring"
	"github.com/sells-group/tender-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "tenders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newRouter(ctx context.Context, st store.Store, runner runFunc, gatherer prometheus.Gatherer) http.Handler {
	return newAPI(ctx, st, runner).routes(gatherer)
}

func serveRequest(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	h := newRouter(context.Background(), newTestStore(t), nil, nil)

	rr := serveRequest(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["run_in_progress"])
}

func TestRouter_GetTender(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rec := &model.EnrichedRecord{
		Tender: coerce.Coerce(model.RawRecord{ResourceID: "5001", Title: "Road resurfacing", EstimatedValue: "250,000"}),
		Validation: &model.ValidationRecord{
			ResourceID: "5001",
			CPVCount:   1,
			CPVCodes:   []string{"45233142"},
			CPVDetails: []model.CodeDetail{{Code: "45233142", Source: "listing_text"}},
		},
	}
	require.NoError(t, st.Upsert(ctx, rec))

	h := newRouter(ctx, st, nil, nil)

	rr := serveRequest(t, h, http.MethodGet, "/v1/tenders/5001")
	require.Equal(t, http.StatusOK, rr.Code)
	var got model.EnrichedRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "Road resurfacing", got.Tender.Title)
	require.NotNil(t, got.Validation)
	assert.Equal(t, []string{"45233142"}, got.Validation.CPVCodes)

	rr = serveRequest(t, h, http.MethodGet, "/v1/tenders/9999")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "tender not found")
}

func TestRouter_ListRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	for i, src := range []string{"csv:a.csv", "csv:b.csv", "csv:a.csv"} {
		s := model.NewRunSummary("run-"+string(rune('a'+i)), src, started.Add(time.Duration(i)*time.Minute))
		s.FinishedAt = s.StartedAt.Add(time.Second)
		require.NoError(t, st.SaveRun(ctx, s))
	}

	h := newRouter(ctx, st, nil, nil)

	rr := serveRequest(t, h, http.MethodGet, "/v1/runs?source=csv:a.csv")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.RunSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)

	rr = serveRequest(t, h, http.MethodGet, "/v1/runs?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rr = serveRequest(t, h, http.MethodGet, "/v1/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_ListRunsEmpty(t *testing.T) {
	h := newRouter(context.Background(), newTestStore(t), nil, nil)

	rr := serveRequest(t, h, http.MethodGet, "/v1/runs")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestRouter_TriggerRun(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	var once sync.Once
	runner := func(ctx context.Context) (*model.RunSummary, error) {
		defer once.Do(func() { close(done) })
		<-release
		return model.NewRunSummary("triggered", "test", time.Now()), nil
	}
	h := newRouter(context.Background(), newTestStore(t), runner, nil)

	rr := serveRequest(t, h, http.MethodPost, "/v1/runs")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Contains(t, rr.Body.String(), "accepted")

	rr = serveRequest(t, h, http.MethodPost, "/v1/runs")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serveRequest(t, h, http.MethodGet, "/health")
	assert.Contains(t, rr.Body.String(), `"run_in_progress":true`)

	close(release)
	<-done

	assert.Eventually(t, func() bool {
		rr := serveRequest(t, h, http.MethodPost, "/v1/runs")
		return rr.Code == http.StatusAccepted
	}, time.Second, 5*time.Millisecond)
}

func TestAPI_WaitCoversInFlightRun(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	runner := func(ctx context.Context) (*model.RunSummary, error) {
		close(started)
		<-ctx.Done()
		<-release

		// The in-flight record is written after the stop signal.
		wctx := context.WithoutCancel(ctx)
		rec := &model.EnrichedRecord{Tender: coerce.Coerce(model.RawRecord{ResourceID: "7001", Title: "Bridge repairs"})}
		if err := st.Upsert(wctx, rec); err != nil {
			return nil, err
		}
		summary := model.NewRunSummary("shutdown", "test", time.Now())
		summary.Interrupted = true
		return summary, st.SaveRun(wctx, summary)
	}
	a := newAPI(ctx, st, runner)
	h := a.routes(nil)

	rr := serveRequest(t, h, http.MethodPost, "/v1/runs")
	require.Equal(t, http.StatusAccepted, rr.Code)
	<-started
	cancel()

	waited := make(chan struct{})
	go func() {
		a.wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("wait returned while the run was still writing")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the run finished")
	}

	got, err := st.Get(context.Background(), "7001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bridge repairs", got.Tender.Title)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Interrupted)

	rr = serveRequest(t, h, http.MethodPost, "/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_TriggerRunDisabled(t *testing.T) {
	h := newRouter(context.Background(), newTestStore(t), nil, nil)

	rr := serveRequest(t, h, http.MethodPost, "/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	metrics.ObserveStage(model.StageDocument, model.StageSkipped, model.ClassInvalidDocument, time.Millisecond)

	h := newRouter(context.Background(), newTestStore(t), nil, reg)

	rr := serveRequest(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "INVALID_DOCUMENT")
}

func TestRouter_NoMetricsWithoutGatherer(t *testing.T) {
	h := newRouter(context.Background(), newTestStore(t), nil, nil)

	rr := serveRequest(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h := newRouter(context.Background(), newTestStore(t), nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/runs", nil)
	req.Header.Set("Origin", "https://dashboard.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
