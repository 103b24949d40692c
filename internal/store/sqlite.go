package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/tender-cli/internal/coerce"
	"github.com/sells-group/tender-cli/internal/db"
	"github.com/sells-group/tender-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; keep a single one.
	conn.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, now: time.Now}, nil
}

const sqliteMigration = `
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
	date_published_parsed      DATETIME,
	submission_deadline_parsed DATETIME,
	award_date_parsed          DATETIME,
	estimated_value_numeric    TEXT,
	cycle_numeric              INTEGER,
	has_pdf_url                BOOLEAN NOT NULL DEFAULT 0,
	has_estimated_value        BOOLEAN NOT NULL DEFAULT 0,
	is_open                    BOOLEAN NOT NULL DEFAULT 0,
	stages                     TEXT NOT NULL DEFAULT '{}',
	updated_at                 DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tender_documents (
	resource_id  TEXT PRIMARY KEY REFERENCES tenders(resource_id) ON DELETE CASCADE,
	pdf_url      TEXT NOT NULL,
	pdf_parsed   BOOLEAN NOT NULL DEFAULT 0,
	doc_text     TEXT,
	truncated    BOOLEAN NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	fields       TEXT,
	fetched_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tender_validations (
	resource_id       TEXT PRIMARY KEY REFERENCES tenders(resource_id) ON DELETE CASCADE,
	cpv_count         INTEGER NOT NULL DEFAULT 0,
	cpv_codes         TEXT NOT NULL DEFAULT '[]',
	cpv_details       TEXT NOT NULL DEFAULT '[]',
	has_validated_cpv BOOLEAN NOT NULL DEFAULT 0,
	validated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tender_recommendations (
	resource_id      TEXT PRIMARY KEY REFERENCES tenders(resource_id) ON DELETE CASCADE,
	should_bid       BOOLEAN NOT NULL,
	confidence       REAL NOT NULL CHECK (confidence BETWEEN 0 AND 1),
	estimated_fit    REAL NOT NULL CHECK (estimated_fit BETWEEN 0 AND 1),
	reasoning        TEXT NOT NULL DEFAULT '',
	relevant_factors TEXT NOT NULL DEFAULT '[]',
	model            TEXT NOT NULL DEFAULT '',
	analyzed_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	interrupted BOOLEAN NOT NULL DEFAULT 0,
	sinked      INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	summary     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenders_status ON tenders(status);
CREATE INDEX IF NOT EXISTS idx_tenders_deadline ON tenders(submission_deadline_parsed);
CREATE INDEX IF NOT EXISTS idx_recommendations_should_bid ON tender_recommendations(should_bid);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert writes the tender and any enrichment parts in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, rec *model.EnrichedRecord) error {
	stmts, args, err := upsertStatements(db.SQLite, rec, s.now().UTC())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, args[i]...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s", rec.ResourceID())
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// Delete removes a tender; enrichment rows cascade.
func (s *SQLiteStore) Delete(ctx context.Context, resourceID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenders WHERE resource_id = ?`, resourceID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete %s", resourceID)
	}
	return checkRowsAffected(res, "tender", resourceID)
}

// Get loads a record with its enrichment parts. It returns nil, nil when the
// tender is unknown.
func (s *SQLiteStore) Get(ctx context.Context, resourceID string) (*model.EnrichedRecord, error) {
	var raw model.RawRecord
	var stages string
	err := s.db.QueryRowContext(ctx, selectTender+"?", resourceID).Scan(
		&raw.RowNumber, &raw.Title, &raw.DetailURL, &raw.ResourceID, &raw.ContractingAuthority, &raw.Info,
		&raw.DatePublished, &raw.SubmissionDeadline, &raw.Procedure, &raw.Status, &raw.NoticePDFURL, &raw.AwardDate,
		&raw.EstimatedValue, &raw.Cycle, &stages,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tender %s", resourceID)
	}

	rec := &model.EnrichedRecord{Tender: coerce.Coerce(raw)}
	if err := unmarshalJSON(stages, &rec.Stages); err != nil {
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

func (s *SQLiteStore) getDocument(ctx context.Context, id string) (*model.DocumentRecord, error) {
	d := model.DocumentRecord{ResourceID: id}
	var text, fields sql.NullString
	err := s.db.QueryRowContext(ctx, selectDocument+"?", id).Scan(
		&d.PDFURL, &d.PDFParsed, &text, &d.Truncated, &d.ContentHash, &fields, &d.FetchedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	if text.Valid {
		d.Text = &text.String
	}
	if fields.Valid {
		if err := unmarshalJSON(fields.String, &d.Fields); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func (s *SQLiteStore) getValidation(ctx context.Context, id string) (*model.ValidationRecord, error) {
	v := model.ValidationRecord{ResourceID: id}
	var codes, details string
	err := s.db.QueryRowContext(ctx, selectValidation+"?", id).Scan(&v.CPVCount, &codes, &details, &v.HasValidatedCPV)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get validation %s", id)
	}
	if err := unmarshalJSON(codes, &v.CPVCodes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(details, &v.CPVDetails); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) getRecommendation(ctx context.Context, id string) (*model.RecommendationRecord, error) {
	r := model.RecommendationRecord{ResourceID: id}
	var factors string
	err := s.db.QueryRowContext(ctx, selectRecommendation+"?", id).Scan(
		&r.ShouldBid, &r.Confidence, &r.EstimatedFit, &r.Reasoning, &factors, &r.Model, &r.AnalyzedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get recommendation %s", id)
	}
	if err := unmarshalJSON(factors, &r.RelevantFactors); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, summary *model.RunSummary) error {
	stmt, args, err := runWrite(db.SQLite, summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, stmt, args...)
	return eris.Wrapf(err, "sqlite: save run %s", summary.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunSummary, error) {
	query := `SELECT summary FROM runs WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var summary model.RunSummary
		if err := unmarshalJSON(raw, &summary); err != nil {
			return nil, err
		}
		runs = append(runs, summary)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
