package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is one listing row exactly as the source produced it. Every
// field is the scraped string; ResourceID is the natural key.
type RawRecord struct {
	RowNumber            string `json:"row_number"`
	Title                string `json:"title"`
	DetailURL            string `json:"detail_url"`
	ResourceID           string `json:"resource_id"`
	ContractingAuthority string `json:"contracting_authority"`
	Info                 string `json:"info"`
	DatePublished        string `json:"date_published"`
	SubmissionDeadline   string `json:"submission_deadline"`
	Procedure            string `json:"procedure"`
	Status               string `json:"status"`
	NoticePDFURL         string `json:"notice_pdf_url"`
	AwardDate            string `json:"award_date"`
	EstimatedValue       string `json:"estimated_value"`
	Cycle                string `json:"cycle"`
}

// DateStrings returns the raw date columns in a fixed order.
func (r RawRecord) DateStrings() []string {
	return []string{r.DatePublished, r.SubmissionDeadline, r.AwardDate}
}

// CoercedRecord is a RawRecord with typed projections. A nil pointer means
// the raw string was empty or could not be parsed.
type CoercedRecord struct {
	RawRecord

	DatePublishedParsed      *time.Time       `json:"date_published_parsed"`
	SubmissionDeadlineParsed *time.Time       `json:"submission_deadline_parsed"`
	AwardDateParsed          *time.Time       `json:"award_date_parsed"`
	EstimatedValueNumeric    *decimal.Decimal `json:"estimated_value_numeric"`
	CycleNumeric             *int             `json:"cycle_numeric"`

	HasPDFURL         bool `json:"has_pdf_url"`
	HasEstimatedValue bool `json:"has_estimated_value"`
	IsOpen            bool `json:"is_open"`
}

// ParsedDates counts how many typed date fields are populated.
func (c CoercedRecord) ParsedDates() int {
	n := 0
	for _, t := range []*time.Time{c.DatePublishedParsed, c.SubmissionDeadlineParsed, c.AwardDateParsed} {
		if t != nil {
			n++
		}
	}
	return n
}
