package completion

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/pkg/anthropic"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic completes prompts with the Messages API. The requested schema
// is appended to the system prompt since the API has no format parameter.
type Anthropic struct {
	client anthropic.Client
}

// NewAnthropic wraps an Anthropic client.
func NewAnthropic(client anthropic.Client) *Anthropic {
	return &Anthropic{client: client}
}

// Name identifies the provider.
func (a *Anthropic) Name() string { return "anthropic" }

// Complete sends one user message and returns the text reply.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temp := 0.0

	system := req.System
	if req.Format != nil {
		schema, err := formatSchema(req.Format)
		if err != nil {
			return "", err
		}
		system += "\n\nJSON schema:\n" + schema
	}

	msgReq := anthropic.MessageRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: &temp,
	}
	if system != "" {
		msgReq.System = anthropic.BuildCachedSystemBlocks(system)
	}

	resp, err := a.client.CreateMessage(ctx, msgReq)
	if err != nil {
		if code := anthropic.StatusCode(err); code != 0 {
			return "", resilience.HTTPStatusError(code, err)
		}
		return "", resilience.NewTransientError(err, 0)
	}
	resp.Usage.LogUsage(resp.Model, "completion")
	if resp.Truncated() {
		zap.L().Warn("anthropic: reply hit max_tokens", zap.String("model", resp.Model), zap.Int64("max_tokens", maxTokens))
	}

	text := resp.Text()
	if text == "" {
		return "", resilience.Classifiedf(model.ClassMalformedOutput,
			"anthropic: empty response (stop_reason %s)", resp.StopReason)
	}
	return text, nil
}

func formatSchema(schema map[string]any) (string, error) {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "anthropic: marshal schema")
	}
	return string(b), nil
}
