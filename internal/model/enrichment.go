package model

import "time"

// DocumentRecord holds the notice document fetched for a tender. At most
// one exists per tender, and only when the tender has a document URL.
type DocumentRecord struct {
	ResourceID  string         `json:"resource_id"`
	PDFURL      string         `json:"pdf_url"`
	PDFParsed   bool           `json:"pdf_parsed"`
	Text        *string        `json:"text"`
	Truncated   bool           `json:"truncated"`
	ContentHash string         `json:"content_hash,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	FetchedAt   time.Time      `json:"fetched_at"`
}

// CodeDetail describes one classification code found for a tender.
type CodeDetail struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	Valid       bool   `json:"valid"`
}

// ValidationRecord summarizes classification codes found for a tender.
type ValidationRecord struct {
	ResourceID      string       `json:"resource_id"`
	CPVCount        int          `json:"cpv_count"`
	CPVCodes        []string     `json:"cpv_codes"`
	CPVDetails      []CodeDetail `json:"cpv_details"`
	HasValidatedCPV bool         `json:"has_validated_cpv"`
}

// ValidCodes returns the codes that matched the reference list.
func (v *ValidationRecord) ValidCodes() []string {
	var out []string
	for _, d := range v.CPVDetails {
		if d.Valid {
			out = append(out, d.Code)
		}
	}
	return out
}

// RecommendationRecord is a bid/no-bid judgment. Recomputing replaces the
// previous value.
type RecommendationRecord struct {
	ResourceID      string    `json:"resource_id"`
	ShouldBid       bool      `json:"should_bid"`
	Confidence      float64   `json:"confidence"`
	EstimatedFit    float64   `json:"estimated_fit"`
	Reasoning       string    `json:"reasoning"`
	RelevantFactors []string  `json:"relevant_factors"`
	Model           string    `json:"model,omitempty"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// StageStatus is the outcome of one stage for one record.
type StageStatus string

const (
	StageDone     StageStatus = "done"
	StageSkipped  StageStatus = "skipped"
	StageReused   StageStatus = "reused"
	StageDisabled StageStatus = "disabled"
	// StageNoInput means the stage had nothing to work on, such as
	// extraction for a tender without document text.
	StageNoInput  StageStatus = "no_input"
)

// EnrichedRecord is the unit handed to a sink. Enrichment parts are nil
// when their stage was disabled or skipped.
type EnrichedRecord struct {
	Tender         CoercedRecord         `json:"tender"`
	Document       *DocumentRecord       `json:"document,omitempty"`
	Validation     *ValidationRecord     `json:"validation,omitempty"`
	Recommendation *RecommendationRecord `json:"recommendation,omitempty"`
	Failures       []FailureRecord       `json:"failures,omitempty"`
	Stages         map[Stage]StageStatus `json:"stages,omitempty"`
}

// ResourceID returns the record's natural key.
func (e *EnrichedRecord) ResourceID() string {
	return e.Tender.ResourceID
}

// DocumentText returns the extracted document text, or nil.
func (e *EnrichedRecord) DocumentText() *string {
	if e.Document == nil {
		return nil
	}
	return e.Document.Text
}

// MarkStage records the outcome of a stage.
func (e *EnrichedRecord) MarkStage(s Stage, st StageStatus) {
	if e.Stages == nil {
		e.Stages = make(map[Stage]StageStatus)
	}
	e.Stages[s] = st
}

// Fail appends a failure annotation and marks the stage skipped.
func (e *EnrichedRecord) Fail(f FailureRecord) {
	e.Failures = append(e.Failures, f)
	e.MarkStage(f.Stage, StageSkipped)
}
