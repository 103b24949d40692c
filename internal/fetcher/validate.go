package fetcher

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// PDFContentType is the media type notice documents are published as.
const PDFContentType = "application/pdf"

// ValidateDocument checks a response twice: the declared Content-Type must
// be one of expected, and the body's magic bytes must match it too. Either
// check failing yields INVALID_DOCUMENT. It returns the detected type.
func ValidateDocument(contentType string, body []byte, expected []string) (string, error) {
	detected := mimetype.Detect(body)

	declared, _, err := mime.ParseMediaType(contentType)
	if err != nil || !contains(expected, declared) {
		return detected.String(), resilience.Classifiedf(model.ClassInvalidDocument,
			"document: declared content type %q not in %v (detected %s)", contentType, expected, detected.String())
	}

	if !detected.Is(declared) {
		return detected.String(), resilience.Classifiedf(model.ClassInvalidDocument,
			"document: body signature is %s, declared %s", detected.String(), declared)
	}

	return detected.String(), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
