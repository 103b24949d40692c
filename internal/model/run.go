package model

import "time"

// RunCounts tallies records reaching each pipeline state.
type RunCounts struct {
	Fetched          int `json:"fetched"`
	Coerced          int `json:"coerced"`
	DocumentEnriched int `json:"document_enriched"`
	Extracted        int `json:"extracted"`
	Validated        int `json:"validated"`
	Scored           int `json:"scored"`
	Sinked           int `json:"sinked"`
}

// RunSummary is emitted at the end of every run.
type RunSummary struct {
	ID             string                       `json:"id"`
	Source         string                       `json:"source"`
	StartedAt      time.Time                    `json:"started_at"`
	FinishedAt     time.Time                    `json:"finished_at"`
	Counts         RunCounts                    `json:"counts"`
	StageSkips     map[Stage]int                `json:"stage_skips"`
	SkipsByClass   map[Stage]map[ErrorClass]int `json:"skips_by_class"`
	FailureClasses map[ErrorClass]int           `json:"failure_classes"`
	Reused         map[Stage]int                `json:"reused,omitempty"`
	Warnings       []string                     `json:"warnings,omitempty"`
	Failures       []FailureRecord              `json:"failures,omitempty"`
	Interrupted    bool                         `json:"interrupted"`
}

// NewRunSummary returns a summary with initialized maps.
func NewRunSummary(id, source string, started time.Time) *RunSummary {
	return &RunSummary{
		ID:             id,
		Source:         source,
		StartedAt:      started,
		StageSkips:     make(map[Stage]int),
		SkipsByClass:   make(map[Stage]map[ErrorClass]int),
		FailureClasses: make(map[ErrorClass]int),
		Reused:         make(map[Stage]int),
	}
}

// Skipped returns the total number of stage skips across the run.
func (s *RunSummary) Skipped() int {
	n := 0
	for _, c := range s.StageSkips {
		n += c
	}
	return n
}

// Duration returns the wall time of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
