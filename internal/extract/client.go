package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/completion"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/ocr"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// DefaultMaxChars bounds the text embedded in an extraction prompt.
const DefaultMaxChars = 4000

const instruction = `Extract the following fields from this tender notice text and return ONLY valid JSON.
Return exactly one complete JSON object with exactly these fields. Every required field must be present:
use "" for a required text value the notice does not state. Use null only for optional fields.
Do not add commentary, markdown or extra fields.

%s

Text:
%s`

// Client calls a completion service and validates its output.
type Client struct {
	completer completion.Completer
	model     string
	retry     resilience.RetryConfig
	maxChars  int
	maxTokens int
}

// Option configures a Client.
type Option func(*Client)

// WithRetry overrides the retry policy applied to completion calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithMaxChars overrides the prompt text bound.
func WithMaxChars(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(c *Client) { c.maxTokens = n }
}

// NewClient creates an extraction client using model by default.
func NewClient(completer completion.Completer, model string, opts ...Option) *Client {
	c := &Client{
		completer: completer,
		model:     model,
		retry:     resilience.DefaultRetryConfig(),
		maxChars:  DefaultMaxChars,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request is one extraction call. Prompt, when set, replaces the default
// instruction built from Text; Text is still bounded and appended.
type Request struct {
	ResourceID string
	Stage      model.Stage
	Text       string
	Prompt     string
	System     string
	Schema     Schema
	Model      string
	Skip       *resilience.SkipList
}

// Response is a validated extraction plus call metadata.
type Response struct {
	*Result
	Model     string
	Truncated bool
	Attempts  int
	Duration  time.Duration
}

// Extract builds the prompt, calls the completion service under the retry
// policy and validates the reply. Only the completion call is retried;
// malformed output is returned as a permanent failure and remembered in
// req.Skip so the same prompt is not sent again during the run.
func (c *Client) Extract(ctx context.Context, req Request) (*Response, error) {
	if c.completer == nil {
		return nil, resilience.Classifiedf(model.ClassConfigurationError, "extract: no completion service configured")
	}
	stage := req.Stage
	if stage == "" {
		stage = model.StageExtract
	}
	modelName := req.Model
	if modelName == "" {
		modelName = c.model
	}

	text, truncated := ocr.Truncate(req.Text, c.maxChars)
	prompt := c.buildPrompt(req, text)
	key := promptKey(modelName, req.Schema.Name, prompt)

	if prior, ok := req.Skip.Lookup(key); ok {
		return nil, resilience.Classifiedf(prior.Class,
			"extract: input previously failed for %s: %s", prior.ResourceID, prior.Detail)
	}

	policy := c.retry
	if policy.OnRetry == nil {
		policy.OnRetry = resilience.RetryLogger(string(stage), req.ResourceID)
	}

	start := time.Now()
	attempts := 0
	raw, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (string, error) {
		attempts++
		return c.completer.Complete(ctx, completion.Request{
			Model:     modelName,
			System:    req.System,
			Prompt:    prompt,
			Format:    req.Schema.JSONSchema(),
			MaxTokens: c.maxTokens,
		})
	})
	if err != nil {
		req.Skip.Add(key, resilience.Failure(req.ResourceID, stage, err))
		return nil, eris.Wrapf(err, "extract: complete %s", req.Schema.Name)
	}

	res, err := Parse(raw, req.Schema)
	if err != nil {
		req.Skip.Add(key, resilience.Failure(req.ResourceID, stage, err))
		return nil, err
	}

	if len(res.Dropped) > 0 || res.Repaired {
		zap.L().Debug("extraction adjusted",
			zap.String("resource_id", req.ResourceID),
			zap.String("stage", string(stage)),
			zap.Strings("dropped", res.Dropped),
			zap.Bool("repaired", res.Repaired),
		)
	}

	return &Response{
		Result:    res,
		Model:     modelName,
		Truncated: truncated,
		Attempts:  attempts,
		Duration:  time.Since(start),
	}, nil
}

func (c *Client) buildPrompt(req Request, text string) string {
	if req.Prompt != "" {
		if text == "" {
			return req.Prompt
		}
		return req.Prompt + "\n\n" + text
	}
	return fmt.Sprintf(instruction, req.Schema.Template(), strings.TrimSpace(text))
}

func promptKey(parts ...string) string {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.WriteString("\x00")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
