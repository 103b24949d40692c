package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/coerce"
	"github.com/sells-group/tender-cli/internal/db"
	"github.com/sells-group/tender-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresWithPool(pool), nil
}

func newPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	resource_id                TEXT PRIMARY KEY,
	row_number                 TEXT NOT NULL DEFAULT '',
	title                      TEXT NOT NULL DEFAULT '',
	detail_url                 TEXT NOT NULL DEFAULT '',
	contracting_authority      TEXT NOT NULL DEFAULT '',
	info                       TEXT NOT NULL DEFAULT '',
	date_published             TEXT NOT NULL DEFAULT '',
	submission_deadline        TEXT NOT NULL DEFAULT '',
	procedure_type             TEXT NOT NULL DEFAULT '',
	status                     TEXT NOT NULL DEFAULT '',
	notice_pdf_url             TEXT NOT NULL DEFAULT '',
	award_date                 TEXT NOT NULL DEFAULT '',
	estimated_value            TEXT NOT NULL DEFAULT '',
	cycle                      TEXT NOT NULL DEFAULT '',
	date_published_parsed      TIMESTAMPTZ,
	submission_deadline_parsed TIMESTAMPTZ,
	award_date_parsed          TIMESTAMPTZ,
	estimated_value_numeric    NUMERIC(18, 2),
	cycle_numeric              INTEGER,
	has_pdf_url                BOOLEAN NOT NULL DEFAULT false,
	has_estimated_value        BOOLEAN NOT NULL DEFAULT false,
	is_open                    BOOLEAN NOT NULL DEFAULT false,
	stages                     JSONB NOT NULL DEFAULT '{}',
	updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tender_documents (
	resource_id  TEXT PRIMARY KEY REFERENCES tenders(resource_id) ON DELETE CASCADE,
	pdf_url      TEXT NOT NULL,
	pdf_parsed   BOOLEAN NOT NULL DEFAULT false,
	doc_text     TEXT,
	truncated    BOOLEAN NOT NULL DEFAULT false,
	content_hash TEXT NOT NULL DEFAULT '',
	fields       JSONB,
	fetched_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tender_validations (
	resource_id       TEXT PRIMARY KEY REFERENCES tenders(resource_id) ON DELETE CASCADE,
	cpv_count         INTEGER NOT NULL DEFAULT 0,
	cpv_codes         JSONB NOT NULL DEFAULT '[]',
	cpv_details       JSONB NOT NULL DEFAULT '[]',
	has_validated_cpv BOOLEAN NOT NULL DEFAULT false,
	validated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tender_recommendations (
	resource_id      TEXT PRIMARY KEY REFERENCES tenders(resource_id) ON DELETE CASCADE,
	should_bid       BOOLEAN NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL CHECK (confidence BETWEEN 0 AND 1),
	estimated_fit    DOUBLE PRECISION NOT NULL CHECK (estimated_fit BETWEEN 0 AND 1),
	reasoning        TEXT NOT NULL DEFAULT '',
	relevant_factors JSONB NOT NULL DEFAULT '[]',
	model            TEXT NOT NULL DEFAULT '',
	analyzed_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	interrupted BOOLEAN NOT NULL DEFAULT false,
	sinked      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	summary     JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenders_status ON tenders(status);
CREATE INDEX IF NOT EXISTS idx_tenders_deadline ON tenders(submission_deadline_parsed);
CREATE INDEX IF NOT EXISTS idx_recommendations_should_bid ON tender_recommendations(should_bid);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Upsert writes the tender and any enrichment parts in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, rec *model.EnrichedRecord) error {
	stmts, args, err := upsertStatements(db.Postgres, rec, s.now().UTC())
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, args[i]...); err != nil {
			return eris.Wrapf(err, "postgres: upsert %s", rec.ResourceID())
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

// Delete removes a tender; enrichment rows cascade.
func (s *PostgresStore) Delete(ctx context.Context, resourceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenders WHERE resource_id = $1`, resourceID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete %s", resourceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("tender not found: %s", resourceID)
	}
	return nil
}

// Get loads a record with its enrichment parts. It returns nil, nil when the
// tender is unknown.
func (s *PostgresStore) Get(ctx context.Context, resourceID string) (*model.EnrichedRecord, error) {
	var raw model.RawRecord
	var stages []byte
	err := s.pool.QueryRow(ctx, selectTender+"$1", resourceID).Scan(
		&raw.RowNumber, &raw.Title, &raw.DetailURL, &raw.ResourceID, &raw.ContractingAuthority, &raw.Info,
		&raw.DatePublished, &raw.SubmissionDeadline, &raw.Procedure, &raw.Status, &raw.NoticePDFURL, &raw.AwardDate,
		&raw.EstimatedValue, &raw.Cycle, &stages,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tender %s", resourceID)
	}

	rec := &model.EnrichedRecord{Tender: coerce.Coerce(raw)}
	if err := unmarshalJSON(string(stages), &rec.Stages); err != nil {
		return nil, err
	}

	if rec.Document, err = s.getDocument(ctx, resourceID); err != nil {
		return nil, err
	}
	if rec.Validation, err = s.getValidation(ctx, resourceID); err != nil {
		return nil, err
	}
	if rec.Recommendation, err = s.getRecommendation(ctx, resourceID); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) getDocument(ctx context.Context, id string) (*model.DocumentRecord, error) {
	d := model.DocumentRecord{ResourceID: id}
	var fields []byte
	err := s.pool.QueryRow(ctx, selectDocument+"$1", id).Scan(
		&d.PDFURL, &d.PDFParsed, &d.Text, &d.Truncated, &d.ContentHash, &fields, &d.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	if err := unmarshalJSON(string(fields), &d.Fields); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) getValidation(ctx context.Context, id string) (*model.ValidationRecord, error) {
	v := model.ValidationRecord{ResourceID: id}
	var codes, details []byte
	err := s.pool.QueryRow(ctx, selectValidation+"$1", id).Scan(&v.CPVCount, &codes, &details, &v.HasValidatedCPV)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get validation %s", id)
	}
	if err := unmarshalJSON(string(codes), &v.CPVCodes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(string(details), &v.CPVDetails); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) getRecommendation(ctx context.Context, id string) (*model.RecommendationRecord, error) {
	r := model.RecommendationRecord{ResourceID: id}
	var factors []byte
	err := s.pool.QueryRow(ctx, selectRecommendation+"$1", id).Scan(
		&r.ShouldBid, &r.Confidence, &r.EstimatedFit, &r.Reasoning, &factors, &r.Model, &r.AnalyzedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get recommendation %s", id)
	}
	if err := unmarshalJSON(string(factors), &r.RelevantFactors); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	stmt, args, err := runWrite(db.Postgres, summary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, stmt, args...)
	return eris.Wrapf(err, "postgres: save run %s", summary.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT summary FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var summary model.RunSummary
		if err := unmarshalJSON(string(raw), &summary); err != nil {
			return nil, err
		}
		runs = append(runs, summary)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
