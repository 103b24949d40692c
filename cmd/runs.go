package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
	Long:  "Commands for listing and summarizing runs recorded by a database store.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		src, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{Source: src, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}
		formatRunStats(os.Stdout, computeRunStats(runs, cutoff))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("source", "", "filter by source name (e.g. csv:listing.csv)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// openStore opens the configured database store. File sinks keep no run
// history.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if err := c.Validate("runs"); err != nil {
		return nil, err
	}
	sink, err := store.Open(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	st, ok := sink.(store.Store)
	if !ok {
		_ = sink.Close()
		return nil, eris.Errorf("store driver %q does not record runs", c.Store.Driver)
	}
	return st, nil
}

// runStats holds aggregate statistics computed from a set of runs.
type runStats struct {
	Total          int
	Interrupted    int
	Fetched        int
	Sinked         int
	Skipped        int
	Warnings       int
	FailureClasses map[model.ErrorClass]int
	AvgDurSecs     float64
}

// computeRunStats aggregates runs that started at or after cutoff.
func computeRunStats(runs []model.RunSummary, cutoff time.Time) runStats {
	s := runStats{FailureClasses: make(map[model.ErrorClass]int)}

	var totalDur time.Duration
	for i := range runs {
		r := &runs[i]
		if r.StartedAt.Before(cutoff) {
			continue
		}
		s.Total++
		if r.Interrupted {
			s.Interrupted++
		}
		s.Fetched += r.Counts.Fetched
		s.Sinked += r.Counts.Sinked
		s.Skipped += r.Skipped()
		s.Warnings += len(r.Warnings)
		for class, n := range r.FailureClasses {
			s.FailureClasses[class] += n
		}
		totalDur += r.Duration()
	}

	if s.Total > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(s.Total)
	}
	return s
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tSTARTED\tDURATION\tFETCHED\tSINKED\tSKIPPED\tWARNINGS\tNOTE")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t-------\t------\t-------\t--------\t----")

	for i := range runs {
		r := &runs[i]
		src := r.Source
		if len(src) > 30 {
			src = "..." + src[len(src)-27:]
		}
		note := ""
		if r.Interrupted {
			note = "interrupted"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			truncateID(r.ID),
			src,
			r.StartedAt.Format("2006-01-02 15:04"),
			r.Duration().Round(time.Second).String(),
			r.Counts.Fetched,
			r.Counts.Sinked,
			r.Skipped(),
			len(r.Warnings),
			note,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Interrupted:\t%d\n", s.Interrupted)
	_, _ = fmt.Fprintf(w, "Records fetched:\t%d\n", s.Fetched)
	_, _ = fmt.Fprintf(w, "Records sinked:\t%d\n", s.Sinked)
	_, _ = fmt.Fprintf(w, "Stage skips:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Warnings:\t%d\n", s.Warnings)

	classes := make([]string, 0, len(s.FailureClasses))
	for class := range s.FailureClasses {
		classes = append(classes, string(class))
	}
	sort.Strings(classes)
	for _, class := range classes {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", class, s.FailureClasses[model.ErrorClass(class)])
	}

	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
