package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/source"
)

// runFlags are command-line overrides for a single run.
type runFlags struct {
	Source      string
	Format      string
	Sheet       string
	StartPage   int
	EndPage     int
	NoDocuments bool
	NoCodes     bool
	Score       bool
	Force       bool
	Workers     int
	Output      string
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich tenders from a listing source",
	Long: "Streams rows from a CSV, XLSX or JSON listing file or a paged JSON endpoint, " +
		"enriches each tender and writes it to the configured store. Interrupting the " +
		"command finishes the records in flight and still writes the run summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runOpts.apply(cfg, cmd.Flags().Changed)
		return executeRun(ctx, cfg, os.Stdout)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.Source, "source", "", "listing file path, or URL template with {page} for http sources")
	f.StringVar(&runOpts.Format, "format", "", "source format: csv, xlsx, json or http (default from file extension)")
	f.StringVar(&runOpts.Sheet, "sheet", "", "worksheet name for xlsx sources (default first sheet)")
	f.IntVar(&runOpts.StartPage, "start-page", 1, "first page for http sources")
	f.IntVar(&runOpts.EndPage, "end-page", 1, "last page for http sources")
	f.BoolVar(&runOpts.NoDocuments, "no-documents", false, "skip notice document download and extraction")
	f.BoolVar(&runOpts.NoCodes, "no-codes", false, "skip CPV code validation")
	f.BoolVar(&runOpts.Score, "score", false, "score bid fit for every tender")
	f.BoolVar(&runOpts.Force, "force", false, "recompute stages even when the store already has their output")
	f.IntVar(&runOpts.Workers, "workers", 0, "records processed concurrently (default from config)")
	f.StringVar(&runOpts.Output, "output", "", "output file for json, csv and xlsx stores")
	rootCmd.AddCommand(runCmd)
}

// apply copies the flags the user set onto c. Unset flags leave the
// configured value alone.
func (f runFlags) apply(c *config.Config, changed func(name string) bool) {
	if changed("source") {
		kind := sourceKind(f.Format, f.Source)
		c.Source.Kind = kind
		if kind == "http" {
			c.Source.URL = f.Source
		} else {
			c.Source.Path = f.Source
		}
	} else if changed("format") {
		c.Source.Kind = strings.ToLower(f.Format)
	}
	if changed("sheet") {
		c.Source.Sheet = f.Sheet
	}
	if changed("start-page") {
		c.Source.StartPage = f.StartPage
	}
	if changed("end-page") {
		c.Source.EndPage = f.EndPage
	}
	if f.NoDocuments {
		c.Pipeline.Documents = false
	}
	if f.NoCodes {
		c.Pipeline.Codes = false
	}
	if f.Score {
		c.Pipeline.Scoring = true
	}
	if f.Force {
		c.Pipeline.ForceRefresh = true
	}
	if changed("workers") {
		c.Pipeline.Workers = f.Workers
	}
	if changed("output") {
		c.Store.Output = f.Output
	}
}

// sourceKind picks the source kind from an explicit format or, failing
// that, from the source's shape.
func sourceKind(format, src string) string {
	if format != "" {
		return strings.ToLower(format)
	}
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return "http"
	}
	switch filepath.Ext(lower) {
	case ".xlsx":
		return "xlsx"
	case ".json":
		return "json"
	}
	return "csv"
}

// executeRun validates c, runs the pipeline once and writes the summary to
// out as JSON.
func executeRun(ctx context.Context, c *config.Config, out io.Writer) (err error) {
	if err := c.Validate("run"); err != nil {
		return err
	}

	src, err := source.Open(c.Source, c.Document, c.Retry.Policy())
	if err != nil {
		return err
	}

	env, err := initPipeline(ctx, c, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	summary, err := env.Pipeline.Run(ctx, src)
	if err != nil {
		return eris.Wrap(err, "run pipeline")
	}
	logOutcome(summary)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func logOutcome(s *model.RunSummary) {
	if s.Interrupted {
		zap.L().Warn("run interrupted; records in flight were written",
			zap.String("run_id", s.ID),
			zap.Int("sinked", s.Counts.Sinked),
		)
	}
	for _, w := range s.Warnings {
		zap.L().Warn("run warning", zap.String("run_id", s.ID), zap.String("warning", w))
	}
}
