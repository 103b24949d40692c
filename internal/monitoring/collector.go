// Package monitoring exposes run metrics to Prometheus and raises webhook
// alerts when recent runs look unhealthy.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
)

// maxRuns bounds how many recorded runs a snapshot considers.
const maxRuns = 1000

// Snapshot holds a point-in-time view of run health.
type Snapshot struct {
	Runs        int `json:"runs"`
	Interrupted int `json:"interrupted"`

	Fetched  int     `json:"fetched"`
	Sinked   int     `json:"sinked"`
	Skips    int     `json:"skips"`
	// SkipRate is stage skips per fetched record.
	SkipRate float64 `json:"skip_rate"`

	// FormatChanges counts SOURCE_FORMAT_CHANGE occurrences across runs.
	FormatChanges  int                      `json:"format_changes"`
	FailureClasses map[model.ErrorClass]int `json:"failure_classes"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers a Snapshot from recorded run summaries.
type Collector struct {
	runs store.RunRecorder
	now  func() time.Time
}

// NewCollector creates a collector over runs.
func NewCollector(runs store.RunRecorder) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect summarizes the runs started within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		FailureClasses: make(map[model.ErrorClass]int),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.Runs++
		if r.Interrupted {
			snap.Interrupted++
		}
		snap.Fetched += r.Counts.Fetched
		snap.Sinked += r.Counts.Sinked
		snap.Skips += r.Skipped()
		for class, n := range r.FailureClasses {
			snap.FailureClasses[class] += n
		}
	}

	snap.FormatChanges = snap.FailureClasses[model.ClassSourceFormatChange]
	if snap.Fetched > 0 {
		snap.SkipRate = float64(snap.Skips) / float64(snap.Fetched)
	}
	return snap, nil
}
