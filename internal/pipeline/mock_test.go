package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/tender-cli/internal/completion"
	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
)

// --- Source ---

type sliceSource struct {
	rows []model.RawRecord
	errs []error
}

func (s *sliceSource) Name() string { return "test" }

func (s *sliceSource) Stream(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	out := make(chan model.RawRecord)
	errs := make(chan error, len(s.errs))
	go func() {
		defer close(out)
		defer close(errs)
		for _, err := range s.errs {
			errs <- err
		}
		for _, r := range s.rows {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs
}

// --- Sink ---

type memSink struct {
	mu       sync.Mutex
	records  map[string]*model.EnrichedRecord
	order    []string
	runs     []model.RunSummary
	upserts  int
	fail     error
	onUpsert func(rec *model.EnrichedRecord)
}

func newMemSink() *memSink {
	return &memSink{records: make(map[string]*model.EnrichedRecord)}
}

func (m *memSink) Upsert(_ context.Context, rec *model.EnrichedRecord) error {
	m.mu.Lock()
	m.upserts++
	hook := m.onUpsert
	if m.fail != nil {
		m.mu.Unlock()
		return m.fail
	}
	if _, ok := m.records[rec.ResourceID()]; !ok {
		m.order = append(m.order, rec.ResourceID())
	}
	m.records[rec.ResourceID()] = rec
	m.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	return nil
}

func (m *memSink) Get(_ context.Context, id string) (*model.EnrichedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id], nil
}

func (m *memSink) SaveRun(_ context.Context, s *model.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *s)
	return nil
}

func (m *memSink) ListRuns(context.Context, store.RunFilter) ([]model.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) record(id string) *model.EnrichedRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

// writeOnlySink has no Lookup or RunRecorder.
type writeOnlySink struct {
	mu    sync.Mutex
	count int
}

func (w *writeOnlySink) Upsert(context.Context, *model.EnrichedRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
	return nil
}

func (w *writeOnlySink) Close() error { return nil }

// --- Document fetcher ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (*fetcher.Document, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fetcher.Document), args.Error(1)
}

// --- Text extractor ---

type staticText struct {
	text string
	err  error
}

func (s staticText) ExtractText(context.Context, []byte) (string, error) {
	return s.text, s.err
}

// --- Completion service ---

// routedCompleter answers bid prompts with bid and everything else with
// extract.
type routedCompleter struct {
	mu      sync.Mutex
	extract string
	bid     string
	calls   map[string]int
}

func newRoutedCompleter(extract, bid string) *routedCompleter {
	return &routedCompleter{extract: extract, bid: bid, calls: make(map[string]int)}
}

func (r *routedCompleter) Complete(_ context.Context, req completion.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.Contains(req.Prompt, "DOCUMENT CONTENT:") {
		r.calls["bid"]++
		return r.bid, nil
	}
	r.calls["extract"]++
	return r.extract, nil
}

func (r *routedCompleter) Name() string { return "routed" }

func (r *routedCompleter) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[kind]
}

// --- Observer ---

type countingObserver struct {
	mu     sync.Mutex
	stages map[model.Stage]map[model.StageStatus]int
	runs   int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{stages: make(map[model.Stage]map[model.StageStatus]int)}
}

func (o *countingObserver) ObserveStage(stage model.Stage, status model.StageStatus, _ model.ErrorClass, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stages[stage] == nil {
		o.stages[stage] = make(map[model.StageStatus]int)
	}
	o.stages[stage][status]++
}

func (o *countingObserver) ObserveRun(*model.RunSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
}
