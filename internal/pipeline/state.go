package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// runState is the single mutable object of one run. Every stage reports
// into it; nothing about a run lives outside it.
type runState struct {
	mu      sync.Mutex
	summary *model.RunSummary
	skip    *resilience.SkipList

	// Records that carried date strings, and records where any parsed.
	datesSeen   int
	datesParsed int
}

func newRunState(id, source string, started time.Time) *runState {
	return &runState{
		summary: model.NewRunSummary(id, source, started),
		skip:    resilience.NewSkipList(),
	}
}

func (s *runState) fetched(rec model.CoercedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Counts.Fetched++
	if !hasDates(rec.RawRecord) {
		return
	}
	s.datesSeen++
	if rec.ParsedDates() > 0 {
		s.datesParsed++
	}
}

func hasDates(raw model.RawRecord) bool {
	for _, d := range raw.DateStrings() {
		if strings.TrimSpace(d) != "" {
			return true
		}
	}
	return false
}

func (s *runState) stage(stage model.Stage, status model.StageStatus, class model.ErrorClass) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case model.StageDone, model.StageReused:
		if c := s.counter(stage); c != nil {
			*c++
		}
		if status == model.StageReused {
			s.summary.Reused[stage]++
		}
	case model.StageSkipped:
		s.summary.StageSkips[stage]++
		if class != "" {
			byClass := s.summary.SkipsByClass[stage]
			if byClass == nil {
				byClass = make(map[model.ErrorClass]int)
				s.summary.SkipsByClass[stage] = byClass
			}
			byClass[class]++
		}
	}
}

func (s *runState) counter(stage model.Stage) *int {
	c := &s.summary.Counts
	switch stage {
	case model.StageCoerce:
		return &c.Coerced
	case model.StageDocument:
		return &c.DocumentEnriched
	case model.StageExtract:
		return &c.Extracted
	case model.StageValidate:
		return &c.Validated
	case model.StageScore:
		return &c.Scored
	case model.StageSink:
		return &c.Sinked
	}
	return nil
}

func (s *runState) fail(f model.FailureRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Failures = append(s.summary.Failures, f)
	s.summary.FailureClasses[f.Class]++
}

// warn records a run-level problem that belongs to no single record.
func (s *runState) warn(class model.ErrorClass, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Warnings = append(s.summary.Warnings, fmt.Sprintf("%s: %s", class, msg))
	if class == model.ClassSourceFormatChange {
		s.summary.FailureClasses[class]++
	}
}

// dateCheck flags a run where records carried dates but none parsed, which
// means the listing's date format moved. It records the warning and returns
// its message.
func (s *runState) dateCheck() (string, bool) {
	s.mu.Lock()
	seen, parsed := s.datesSeen, s.datesParsed
	s.mu.Unlock()

	if seen == 0 || parsed > 0 {
		return "", false
	}
	msg := fmt.Sprintf("%d record(s) carried date strings but none parsed", seen)
	s.warn(model.ClassSourceFormatChange, msg)
	return msg, true
}

// finish stamps the summary. The returned value is not touched again.
func (s *runState) finish(at time.Time, interrupted bool) *model.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.FinishedAt = at
	s.summary.Interrupted = interrupted
	return s.summary
}
