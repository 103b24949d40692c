package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/tender-cli/internal/completion"
	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/cpv"
	"github.com/sells-group/tender-cli/internal/extract"
	"github.com/sells-group/tender-cli/internal/fetcher"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/ocr"
	"github.com/sells-group/tender-cli/internal/pipeline"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/internal/scorer"
	"github.com/sells-group/tender-cli/internal/store"
)

// pipelineEnv holds the sink and pipeline used by the run and serve
// commands.
type pipelineEnv struct {
	Sink     store.Sink
	Pipeline *pipeline.Pipeline
	audit    *zap.Logger
}

// Close flushes the failure log and closes the sink. File sinks write
// their output here.
func (pe *pipelineEnv) Close() error {
	if pe.audit != nil {
		_ = pe.audit.Sync()
	}
	if pe.Sink == nil {
		return nil
	}
	return eris.Wrap(pe.Sink.Close(), "close sink")
}

// initPipeline opens the configured sink and builds a Pipeline around it.
// Callers should defer env.Close().
func initPipeline(ctx context.Context, c *config.Config, obs pipeline.Observer) (*pipelineEnv, error) {
	sink, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}

	p, audit, err := buildPipeline(c, sink, obs)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	return &pipelineEnv{Sink: sink, Pipeline: p, audit: audit}, nil
}

// buildPipeline wires the collaborators each enabled stage needs.
func buildPipeline(c *config.Config, sink store.Sink, obs pipeline.Observer) (*pipeline.Pipeline, *zap.Logger, error) {
	retry := c.Retry.Policy()
	deps := pipeline.Deps{Sink: sink, Observer: obs}

	if c.Pipeline.Documents {
		var limiter *rate.Limiter
		if c.Document.RateLimitMs > 0 {
			limiter = rate.NewLimiter(rate.Every(time.Duration(c.Document.RateLimitMs)*time.Millisecond), 1)
		}
		deps.Documents = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:    c.Document.UserAgent,
			Timeout:      time.Duration(c.Document.TimeoutSecs) * time.Second,
			MaxBytes:     c.Document.MaxBytes,
			ContentTypes: c.Document.ContentTypes,
			Limiter:      limiter,
		})

		text, err := ocr.NewExtractor(c.Document)
		if err != nil {
			return nil, nil, err
		}
		deps.Text = text
	}

	extracting := c.Pipeline.Documents && c.Pipeline.ExtractFields
	if extracting || c.Pipeline.Scoring {
		completer, err := completion.New(c.Completion, c.Anthropic.Key)
		if err != nil {
			return nil, nil, err
		}
		client := extract.NewClient(completer, c.Completion.Model,
			extract.WithRetry(retry),
			extract.WithMaxChars(c.Document.MaxChars),
			extract.WithMaxTokens(c.Completion.MaxTokens),
		)
		if extracting {
			deps.Extractor = client
		}
		if c.Pipeline.Scoring {
			deps.Scorer = scorer.New(client, c.Completion.ScoringModelOrDefault(), c.Scoring.Profile)
		}
		zap.L().Info("completion service configured",
			zap.String("provider", completer.Name()),
			zap.String("model", c.Completion.Model),
		)
	}

	if extracting && c.Extract.SchemaPath != "" {
		schema, err := extract.LoadSchema(c.Extract.SchemaPath)
		if err != nil {
			return nil, nil, err
		}
		deps.Schema = schema
	}

	if c.Pipeline.Codes {
		ref, err := cpv.LoadReference(c.Codes.ReferencePath)
		if err != nil {
			return nil, nil, err
		}
		deps.Codes = ref
	}

	audit, err := pipeline.NewAuditLogger(c.Pipeline.FailureLog)
	if err != nil {
		return nil, nil, resilience.NewClassified(model.ClassConfigurationError,
			eris.Wrap(err, "open failure log"))
	}
	deps.Audit = audit

	p, err := pipeline.New(deps, pipeline.Options{
		Documents:     c.Pipeline.Documents,
		ExtractFields: c.Pipeline.ExtractFields,
		Codes:         c.Pipeline.Codes,
		Scoring:       c.Pipeline.Scoring,
		Force:         c.Pipeline.ForceRefresh,
		Workers:       c.Pipeline.Workers,
		MaxChars:      c.Document.MaxChars,
		Retry:         retry,
	})
	if err != nil {
		return nil, nil, err
	}
	return p, audit, nil
}
