// Package cpv finds Common Procurement Vocabulary codes in tender text and
// checks them against a reference list.
package cpv

import (
	"encoding/json"
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Source labels recorded on each CodeDetail.
const (
	SourceMainClassification = "document_main_classification"
	SourceListing            = "listing_text"
	SourceDocument           = "document_text"
)

// codePattern matches an 8-digit code with an optional check digit suffix.
var codePattern = regexp.MustCompile(`\b(\d{8})(?:-\d)?\b`)

// Entry is one row of the reference list.
type Entry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Reference is a read-only code list, safe to share across workers.
type Reference struct {
	codes map[string]string
}

// NewReference builds a reference from entries.
func NewReference(entries []Entry) *Reference {
	r := &Reference{codes: make(map[string]string, len(entries))}
	for _, e := range entries {
		if m := codePattern.FindStringSubmatch(e.Code); m != nil {
			r.codes[m[1]] = e.Description
		}
	}
	return r
}

// LoadReference reads a JSON array of {"code", "description"} objects.
func LoadReference(path string) (*Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, resilience.NewClassified(model.ClassConfigurationError,
			eris.Wrapf(err, "cpv: read reference %s", path))
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, resilience.NewClassified(model.ClassConfigurationError,
			eris.Wrapf(err, "cpv: parse reference %s", path))
	}
	ref := NewReference(entries)
	zap.L().Info("loaded cpv reference", zap.String("path", path), zap.Int("codes", ref.Len()))
	return ref, nil
}

// Len returns the number of reference codes.
func (r *Reference) Len() int {
	if r == nil {
		return 0
	}
	return len(r.codes)
}

// Lookup returns the description for code.
func (r *Reference) Lookup(code string) (string, bool) {
	if r == nil {
		return "", false
	}
	d, ok := r.codes[code]
	return d, ok
}

// Text is one piece of text to scan, labelled with where it came from.
type Text struct {
	Source string
	Body   string
}

// Validate scans texts in order and returns every distinct code found.
// Codes missing from the reference are kept with Valid false. It never
// fails; no candidates yields a zero-count record.
func (r *Reference) Validate(resourceID string, texts ...Text) *model.ValidationRecord {
	rec := &model.ValidationRecord{
		ResourceID: resourceID,
		CPVCodes:   []string{},
		CPVDetails: []model.CodeDetail{},
	}
	seen := make(map[string]bool)

	for _, t := range texts {
		for _, m := range codePattern.FindAllStringSubmatch(t.Body, -1) {
			code := m[1]
			if seen[code] {
				continue
			}
			seen[code] = true

			desc, ok := r.Lookup(code)
			rec.CPVCodes = append(rec.CPVCodes, code)
			rec.CPVDetails = append(rec.CPVDetails, model.CodeDetail{
				Code:        code,
				Description: desc,
				Source:      t.Source,
				Valid:       ok,
			})
			if ok {
				rec.HasValidatedCPV = true
			}
		}
	}

	rec.CPVCount = len(rec.CPVCodes)
	return rec
}

// TenderTexts collects the texts the pipeline scans for a record: the
// extracted main classification, the listing fields and the document text.
func TenderTexts(rec *model.EnrichedRecord) []Text {
	var texts []Text
	if rec.Document != nil {
		if mc, ok := rec.Document.Fields["main_classification"].(string); ok && mc != "" {
			texts = append(texts, Text{Source: SourceMainClassification, Body: mc})
		}
	}
	t := rec.Tender
	texts = append(texts, Text{
		Source: SourceListing,
		Body:   t.Title + " " + t.Info + " " + t.ContractingAuthority,
	})
	if txt := rec.DocumentText(); txt != nil {
		texts = append(texts, Text{Source: SourceDocument, Body: *txt})
	}
	return texts
}
