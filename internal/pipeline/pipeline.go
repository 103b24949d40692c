// Package pipeline drives raw tender rows through coercion, document
// enrichment, structured extraction, code validation and bid scoring, then
// hands every record to a sink.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/tender-cli/internal/cpv"
	"github.com/sells-group/tender-cli/internal/extract"
	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/ocr"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/internal/scorer"
	"github.com/sells-group/tender-cli/internal/source"
	"github.com/sells-group/tender-cli/internal/store"
)

// Observer receives stage and run outcomes. Implementations must be safe
// for concurrent use when Workers > 1.
type Observer interface {
	ObserveStage(stage model.Stage, status model.StageStatus, class model.ErrorClass, d time.Duration)
	ObserveRun(summary *model.RunSummary)
}

// Recommender scores one tender.
type Recommender interface {
	Score(ctx context.Context, in scorer.Input) (*model.RecommendationRecord, error)
}

// Deps are the collaborators a pipeline calls. Only Sink is always
// required; the rest are required by the stages Options enable.
type Deps struct {
	Sink      store.Sink
	Documents fetcher.Fetcher
	Text      ocr.Extractor
	Extractor scorer.Extractor
	Scorer    Recommender
	Codes     *cpv.Reference
	// Schema is the extraction schema. Default: extract.DefaultTenderSchema.
	Schema   extract.Schema
	Observer Observer
	// Audit receives one entry per stage failure. Default: no-op.
	Audit *zap.Logger
}

// Options toggle stages and set run behavior.
type Options struct {
	Documents     bool
	ExtractFields bool
	Codes         bool
	Scoring       bool
	// Force recomputes every stage even when the sink already holds output.
	Force   bool
	Workers int
	// MaxChars bounds text sent for extraction and flags truncated documents.
	MaxChars int
	Retry    resilience.RetryConfig
}

// Pipeline runs enrichment over a source. A Pipeline holds no per-run
// state and may run several sources, one after another or concurrently.
type Pipeline struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// New checks that every enabled stage has its collaborator.
func New(deps Deps, opts Options) (*Pipeline, error) {
	missing := func(what string) error {
		return resilience.Classifiedf(model.ClassConfigurationError, "pipeline: %s is not configured", what)
	}
	if deps.Sink == nil {
		return nil, missing("sink")
	}
	if opts.Documents && (deps.Documents == nil || deps.Text == nil) {
		return nil, missing("document fetcher or text extractor")
	}
	if opts.Documents && opts.ExtractFields && deps.Extractor == nil {
		return nil, missing("extraction client")
	}
	if opts.Codes && deps.Codes == nil {
		return nil, missing("classification reference list")
	}
	if opts.Scoring && deps.Scorer == nil {
		return nil, missing("scorer")
	}

	if len(deps.Schema.Fields) == 0 {
		deps.Schema = extract.DefaultTenderSchema()
	}
	if deps.Audit == nil {
		deps.Audit = zap.NewNop()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxChars == 0 {
		opts.MaxChars = extract.DefaultMaxChars
	}

	return &Pipeline{deps: deps, opts: opts, now: time.Now}, nil
}

// Run streams src through the stages and returns the run summary. A
// record's stage failure never stops the run. Cancelling ctx stops
// dispatching new records; records already in flight finish and are sunk,
// and the summary is marked interrupted. Run only returns an error when the
// run could not start.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*model.RunSummary, error) {
	if src == nil {
		return nil, resilience.Classifiedf(model.ClassConfigurationError, "pipeline: no source")
	}

	st := newRunState(uuid.NewString(), src.Name(), p.now().UTC())
	log := zap.L().With(zap.String("run_id", st.summary.ID), zap.String("source", src.Name()))
	log.Info("pipeline: run starting",
		zap.Int("workers", p.opts.Workers),
		zap.Bool("documents", p.opts.Documents),
		zap.Bool("codes", p.opts.Codes),
		zap.Bool("scoring", p.opts.Scoring),
		zap.Bool("force", p.opts.Force),
	)

	// In-flight records keep going after an interrupt.
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	rows, errs := src.Stream(ctx)
	interrupted := false
	for rows != nil || errs != nil {
		select {
		case raw, ok := <-rows:
			if !ok {
				rows = nil
				continue
			}
			if ctx.Err() != nil {
				interrupted = true
				continue
			}
			if p.opts.Workers == 1 {
				p.process(work, st, raw)
				continue
			}
			g.Go(func() error {
				p.process(work, st, raw)
				return nil
			})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.sourceError(log, st, err)
		}
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		interrupted = true
	}
	if msg, ok := st.dateCheck(); ok {
		log.Error("pipeline: "+msg, zap.String("class", string(model.ClassSourceFormatChange)))
	}

	summary := st.finish(p.now().UTC(), interrupted)
	p.record(work, log, summary)
	return summary, nil
}

func (p *Pipeline) sourceError(log *zap.Logger, st *runState, err error) {
	class := resilience.Classify(err)
	if class == model.ClassSourceFormatChange {
		log.Error("pipeline: source format changed", zap.Error(err))
	} else {
		log.Warn("pipeline: source error", zap.String("class", string(class)), zap.Error(err))
	}
	st.warn(class, err.Error())
}

// record persists and reports the finished summary.
func (p *Pipeline) record(ctx context.Context, log *zap.Logger, summary *model.RunSummary) {
	if rr, ok := p.deps.Sink.(store.RunRecorder); ok {
		if err := rr.SaveRun(ctx, summary); err != nil {
			log.Warn("pipeline: save run summary", zap.Error(eris.Wrap(err, "pipeline: save run")))
		}
	}
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveRun(summary)
	}

	log.Info("pipeline: run complete",
		zap.Int("fetched", summary.Counts.Fetched),
		zap.Int("document_enriched", summary.Counts.DocumentEnriched),
		zap.Int("extracted", summary.Counts.Extracted),
		zap.Int("validated", summary.Counts.Validated),
		zap.Int("scored", summary.Counts.Scored),
		zap.Int("sinked", summary.Counts.Sinked),
		zap.Int("skipped", summary.Skipped()),
		zap.Int("warnings", len(summary.Warnings)),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("duration", summary.Duration()),
	)
}
