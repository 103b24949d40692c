// Package store persists enriched tender records. Every sink is idempotent
// on resource_id: sinking the same record twice leaves one row per table.
package store

import (
	"context"
	"strings"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// Sink accepts enriched records.
type Sink interface {
	Upsert(ctx context.Context, rec *model.EnrichedRecord) error
	Close() error
}

// Lookup returns a previously sunk record, or nil when none exists.
type Lookup interface {
	Get(ctx context.Context, resourceID string) (*model.EnrichedRecord, error)
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	SaveRun(ctx context.Context, summary *model.RunSummary) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error)
}

// Store is a database-backed sink.
type Store interface {
	Sink
	Lookup
	RunRecorder
	Migrate(ctx context.Context) error
}

// Open builds the configured sink. Database stores are migrated before
// they are returned.
func Open(ctx context.Context, cfg config.StoreConfig) (Sink, error) {
	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "sqlite", "":
		st, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgres(ctx, cfg.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case FormatJSON, FormatCSV, FormatXLSX:
		return NewFileSink(driver, cfg.Output)
	}
	return nil, resilience.Classifiedf(model.ClassConfigurationError, "store: unknown driver %q", cfg.Driver)
}
