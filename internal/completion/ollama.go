package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

const defaultOllamaEndpoint = "http://localhost:11434"

// Ollama calls a local Ollama server's generate endpoint.
type Ollama struct {
	endpoint string
	client   *http.Client
}

// NewOllama creates an Ollama provider. Empty endpoint means localhost.
func NewOllama(endpoint string, timeout time.Duration) *Ollama {
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Ollama{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  any            `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Name identifies the provider.
func (o *Ollama) Name() string { return "ollama" }

// Complete posts a non-streaming generate request.
func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	body := ollamaRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	if req.Format != nil {
		body.Format = req.Format
	} else {
		body.Format = "json"
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "ollama: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", resilience.NewClassified(model.ClassConfigurationError, eris.Wrap(err, "ollama: create request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "ollama: generate"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "ollama: read response"), 0)
	}

	if resp.StatusCode != http.StatusOK {
		return "", resilience.HTTPStatusError(resp.StatusCode,
			eris.Errorf("ollama: status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}

	var out ollamaResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", resilience.NewClassified(model.ClassMalformedOutput, eris.Wrap(err, "ollama: decode envelope"))
	}
	if out.Error != "" {
		return "", resilience.Classifiedf(model.ClassUpstreamRejected, "ollama: %s", out.Error)
	}
	return out.Response, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
