// Package ocr turns validated notice documents into plain text.
package ocr

import (
	"context"
	"os/exec"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Extractor extracts text content from PDF bytes.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// NewExtractor creates an Extractor based on config. A missing local binary
// or API key is a CONFIGURATION_ERROR.
func NewExtractor(cfg config.DocumentConfig) (Extractor, error) {
	switch cfg.Extractor {
	case "pdftotext", "local", "":
		p := NewPdfToText(cfg.PdfToTextPath)
		if _, err := exec.LookPath(p.binPath); err != nil {
			return nil, resilience.NewClassified(model.ClassConfigurationError,
				eris.Wrapf(err, "ocr: pdftotext binary %q not found", p.binPath))
		}
		return p, nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, resilience.Classifiedf(model.ClassConfigurationError,
				"ocr: mistral extractor requires document.mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, resilience.Classifiedf(model.ClassConfigurationError,
			"ocr: unknown extractor %q", cfg.Extractor)
	}
}

// Truncate bounds text to maxChars runes. It reports whether anything was
// cut. A non-positive maxChars disables the bound.
func Truncate(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	n := 0
	for i := range text {
		if n == maxChars {
			return text[:i], true
		}
		n++
	}
	return text, false
}
