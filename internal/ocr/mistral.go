package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
	maxMistralResponse  = 50 << 20
)

// MistralOCR extracts text from PDFs using the Mistral OCR API.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewMistralOCR creates a MistralOCR extractor. If model is empty, the default is used.
func NewMistralOCR(apiKey, model string) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	return &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type mistralOCRRequest struct {
	Model    string             `json:"model"`
	Document mistralOCRDocument `json:"document"`
}

type mistralOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralOCRResponse struct {
	Pages []mistralOCRPage `json:"pages"`
}

type mistralOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractText sends pdf inline as a data URL and joins the page markdown in
// page order. A document with no recognizable text on any page is
// INVALID_DOCUMENT.
func (m *MistralOCR) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	payload, err := json.Marshal(mistralOCRRequest{
		Model: m.model,
		Document: mistralOCRDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal mistral request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", resilience.NewClassified(model.ClassConfigurationError, eris.Wrap(err, "ocr: build mistral request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "ocr: mistral request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMistralResponse))
	if err != nil {
		return "", resilience.NewTransientError(eris.Wrap(err, "ocr: read mistral response"), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return "", resilience.Classifiedf(model.ClassInvalidDocument,
			"ocr: mistral rejected document: %s", clip(body))
	case resp.StatusCode != http.StatusOK:
		return "", resilience.HTTPStatusError(resp.StatusCode,
			eris.Errorf("ocr: mistral returned %d: %s", resp.StatusCode, clip(body)))
	}

	var out mistralOCRResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", resilience.NewClassified(model.ClassMalformedOutput,
			eris.Wrap(err, "ocr: decode mistral response"))
	}

	sort.SliceStable(out.Pages, func(i, j int) bool { return out.Pages[i].Index < out.Pages[j].Index })
	pages := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		if text := strings.TrimSpace(p.Markdown); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", resilience.Classifiedf(model.ClassInvalidDocument,
			"ocr: mistral found no text in %d page(s)", len(out.Pages))
	}
	return strings.Join(pages, "\n\n"), nil
}

// clip bounds an error body quoted in a message.
func clip(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
