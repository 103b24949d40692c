package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/coerce"
	"github.com/sells-group/tender-cli/internal/cpv"
	"github.com/sells-group/tender-cli/internal/extract"
	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/ocr"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/internal/scorer"
	"github.com/sells-group/tender-cli/internal/store"
)

// process takes one raw row to the sink. It never returns early on a stage
// failure.
func (p *Pipeline) process(ctx context.Context, st *runState, raw model.RawRecord) {
	rec := &model.EnrichedRecord{}

	p.track(st, rec, model.StageCoerce, func() (model.StageStatus, error) {
		rec.Tender = coerce.Coerce(raw)
		return model.StageDone, nil
	})
	st.fetched(rec.Tender)

	prior := p.prior(ctx, rec.ResourceID())

	p.track(st, rec, model.StageDocument, func() (model.StageStatus, error) {
		return p.document(ctx, st, rec, prior)
	})
	p.track(st, rec, model.StageExtract, func() (model.StageStatus, error) {
		return p.extract(ctx, st, rec)
	})
	p.track(st, rec, model.StageValidate, func() (model.StageStatus, error) {
		return p.validate(rec)
	})
	p.track(st, rec, model.StageScore, func() (model.StageStatus, error) {
		return p.score(ctx, st, rec, prior)
	})
	p.track(st, rec, model.StageSink, func() (model.StageStatus, error) {
		return p.sink(ctx, rec)
	})
}

// track runs one stage, annotates the record and reports the outcome.
func (p *Pipeline) track(st *runState, rec *model.EnrichedRecord, stage model.Stage, fn func() (model.StageStatus, error)) {
	start := time.Now()
	status, err := fn()
	d := time.Since(start)

	var class model.ErrorClass
	if err != nil {
		f := resilience.Failure(rec.ResourceID(), stage, err)
		class = f.Class
		status = model.StageSkipped
		rec.Fail(f)
		st.fail(f)

		p.deps.Audit.Info("stage failure",
			zap.String("resource_id", f.ResourceID),
			zap.String("stage", string(f.Stage)),
			zap.String("class", string(f.Class)),
			zap.Int("retries", f.Retries),
			zap.String("detail", f.Detail),
			zap.Time("at", f.At),
		)
		zap.L().Warn("pipeline: stage skipped",
			zap.String("resource_id", f.ResourceID),
			zap.String("stage", string(stage)),
			zap.String("class", string(class)),
			zap.Int("retries", f.Retries),
			zap.Error(err),
		)
	} else {
		rec.MarkStage(stage, status)
		zap.L().Debug("pipeline: stage complete",
			zap.String("resource_id", rec.ResourceID()),
			zap.String("stage", string(stage)),
			zap.String("status", string(status)),
			zap.Int64("duration_ms", d.Milliseconds()),
		)
	}

	st.stage(stage, status, class)
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveStage(stage, status, class, d)
	}
}

// prior loads what the sink already holds for id, unless the run is forced
// or the sink cannot answer.
func (p *Pipeline) prior(ctx context.Context, id string) *model.EnrichedRecord {
	lookup, ok := p.deps.Sink.(store.Lookup)
	if !ok || p.opts.Force {
		return nil
	}
	rec, err := lookup.Get(ctx, id)
	if err != nil {
		zap.L().Warn("pipeline: lookup prior record", zap.String("resource_id", id), zap.Error(err))
		return nil
	}
	return rec
}

func (p *Pipeline) policy(stage model.Stage, id string) resilience.RetryConfig {
	cfg := p.opts.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger(string(stage), id)
	}
	return cfg
}

// document fetches, validates and converts the notice document. A tender
// without a document URL is a skip with no failure attached.
func (p *Pipeline) document(ctx context.Context, st *runState, rec *model.EnrichedRecord, prior *model.EnrichedRecord) (model.StageStatus, error) {
	if !p.opts.Documents {
		return model.StageDisabled, nil
	}
	url := strings.TrimSpace(rec.Tender.NoticePDFURL)
	if url == "" {
		return model.StageSkipped, nil
	}
	id := rec.ResourceID()

	if prior != nil && prior.Document != nil && prior.Document.PDFURL == url && prior.Document.Text != nil {
		doc := *prior.Document
		rec.Document = &doc
		return model.StageReused, nil
	}

	key := "document:" + url
	if f, ok := st.skip.Lookup(key); ok {
		return model.StageSkipped, resilience.Classifiedf(f.Class,
			"pipeline: document %s previously failed for %s: %s", url, f.ResourceID, f.Detail)
	}

	doc, err := resilience.DoVal(ctx, p.policy(model.StageDocument, id), func(ctx context.Context) (*fetcher.Document, error) {
		return p.deps.Documents.Fetch(ctx, url)
	})
	if err != nil {
		st.skip.Add(key, resilience.Failure(id, model.StageDocument, err))
		return model.StageSkipped, eris.Wrap(err, "pipeline: fetch document")
	}

	text, err := p.deps.Text.ExtractText(ctx, doc.Body)
	if err != nil {
		st.skip.Add(key, resilience.Failure(id, model.StageDocument, err))
		return model.StageSkipped, eris.Wrap(err, "pipeline: extract document text")
	}
	_, truncated := ocr.Truncate(text, p.opts.MaxChars)

	rec.Document = &model.DocumentRecord{
		ResourceID:  id,
		PDFURL:      url,
		Text:        &text,
		Truncated:   truncated,
		ContentHash: doc.Hash,
		FetchedAt:   p.now().UTC(),
	}

	// Unchanged bytes keep their earlier extraction.
	if prior != nil && prior.Document != nil && prior.Document.ContentHash == doc.Hash && prior.Document.Fields != nil {
		rec.Document.Fields = prior.Document.Fields
		rec.Document.PDFParsed = prior.Document.PDFParsed
	}
	return model.StageDone, nil
}

func (p *Pipeline) extract(ctx context.Context, st *runState, rec *model.EnrichedRecord) (model.StageStatus, error) {
	if !p.opts.Documents || !p.opts.ExtractFields {
		return model.StageDisabled, nil
	}
	text := rec.DocumentText()
	if text == nil {
		return model.StageNoInput, nil
	}
	if rec.Document.Fields != nil {
		return model.StageReused, nil
	}

	resp, err := p.deps.Extractor.Extract(ctx, extract.Request{
		ResourceID: rec.ResourceID(),
		Stage:      model.StageExtract,
		Text:       *text,
		Schema:     p.deps.Schema,
		Skip:       st.skip,
	})
	if err != nil {
		return model.StageSkipped, err
	}

	rec.Document.Fields = resp.Fields
	rec.Document.PDFParsed = true
	rec.Document.Truncated = resp.Truncated
	return model.StageDone, nil
}

// validate is pure and always recomputed.
func (p *Pipeline) validate(rec *model.EnrichedRecord) (model.StageStatus, error) {
	if !p.opts.Codes {
		return model.StageDisabled, nil
	}
	rec.Validation = p.deps.Codes.Validate(rec.ResourceID(), cpv.TenderTexts(rec)...)
	return model.StageDone, nil
}

func (p *Pipeline) score(ctx context.Context, st *runState, rec *model.EnrichedRecord, prior *model.EnrichedRecord) (model.StageStatus, error) {
	if !p.opts.Scoring {
		return model.StageDisabled, nil
	}
	if prior != nil && prior.Recommendation != nil {
		r := *prior.Recommendation
		rec.Recommendation = &r
		return model.StageReused, nil
	}

	var fields map[string]any
	if rec.Document != nil {
		fields = rec.Document.Fields
	}
	r, err := p.deps.Scorer.Score(ctx, scorer.Input{
		Tender:     rec.Tender,
		Fields:     fields,
		Text:       rec.DocumentText(),
		Validation: rec.Validation,
		Skip:       st.skip,
	})
	if err != nil {
		return model.StageSkipped, err
	}
	rec.Recommendation = r
	return model.StageDone, nil
}

// sink writes the record under the retry policy. The record's own stage
// map records the sink as done before the write so the stored copy says so.
func (p *Pipeline) sink(ctx context.Context, rec *model.EnrichedRecord) (model.StageStatus, error) {
	rec.MarkStage(model.StageSink, model.StageDone)
	err := resilience.Do(ctx, p.policy(model.StageSink, rec.ResourceID()), func(ctx context.Context) error {
		return p.deps.Sink.Upsert(ctx, rec)
	})
	if err != nil {
		return model.StageSkipped, eris.Wrap(err, "pipeline: sink record")
	}
	return model.StageDone, nil
}
