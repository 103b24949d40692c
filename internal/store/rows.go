package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/db"
	"github.com/sells-group/tender-cli/internal/model"
)

// Table and column layout shared by the SQL stores. Typed projections are
// written for querying; reads rebuild them from the raw columns.
var (
	tenderColumns = []string{
		"resource_id", "row_number", "title", "detail_url", "contracting_authority", "info",
		"date_published", "submission_deadline", "procedure_type", "status", "notice_pdf_url",
		"award_date", "estimated_value", "cycle",
		"date_published_parsed", "submission_deadline_parsed", "award_date_parsed",
		"estimated_value_numeric", "cycle_numeric",
		"has_pdf_url", "has_estimated_value", "is_open", "stages", "updated_at",
	}
	documentColumns = []string{
		"resource_id", "pdf_url", "pdf_parsed", "doc_text", "truncated", "content_hash", "fields", "fetched_at",
	}
	validationColumns = []string{
		"resource_id", "cpv_count", "cpv_codes", "cpv_details", "has_validated_cpv", "validated_at",
	}
	recommendationColumns = []string{
		"resource_id", "should_bid", "confidence", "estimated_fit", "reasoning", "relevant_factors", "model", "analyzed_at",
	}
)

type tableWrite struct {
	table   string
	columns []string
	values  []any
}

// upsertStatements builds the SQL for rec, parent table first.
func upsertStatements(d db.Dialect, rec *model.EnrichedRecord, now time.Time) ([]string, [][]any, error) {
	writes, err := recordWrites(rec, now)
	if err != nil {
		return nil, nil, err
	}
	stmts := make([]string, len(writes))
	args := make([][]any, len(writes))
	for i, w := range writes {
		sql, err := db.UpsertSQL(d, db.UpsertConfig{
			Table:        w.table,
			Columns:      w.columns,
			ConflictKeys: []string{"resource_id"},
		})
		if err != nil {
			return nil, nil, err
		}
		stmts[i] = sql
		args[i] = w.values
	}
	return stmts, args, nil
}

func recordWrites(rec *model.EnrichedRecord, now time.Time) ([]tableWrite, error) {
	t := rec.Tender
	if t.ResourceID == "" {
		return nil, eris.New("store: record has no resource_id")
	}

	stages, err := marshalJSON(rec.Stages)
	if err != nil {
		return nil, err
	}

	var numeric any
	if t.EstimatedValueNumeric != nil {
		numeric = t.EstimatedValueNumeric.String()
	}
	var cycle any
	if t.CycleNumeric != nil {
		cycle = *t.CycleNumeric
	}

	writes := []tableWrite{{
		table:   "tenders",
		columns: tenderColumns,
		values: []any{
			t.ResourceID, t.RowNumber, t.Title, t.DetailURL, t.ContractingAuthority, t.Info,
			t.DatePublished, t.SubmissionDeadline, t.Procedure, t.Status, t.NoticePDFURL,
			t.AwardDate, t.EstimatedValue, t.Cycle,
			timeArg(t.DatePublishedParsed), timeArg(t.SubmissionDeadlineParsed), timeArg(t.AwardDateParsed),
			numeric, cycle,
			t.HasPDFURL, t.HasEstimatedValue, t.IsOpen, stages, now,
		},
	}}

	if d := rec.Document; d != nil {
		var text any
		if d.Text != nil {
			text = *d.Text
		}
		var fields any
		if d.Fields != nil {
			s, err := marshalJSON(d.Fields)
			if err != nil {
				return nil, err
			}
			fields = s
		}
		writes = append(writes, tableWrite{
			table:   "tender_documents",
			columns: documentColumns,
			values:  []any{t.ResourceID, d.PDFURL, d.PDFParsed, text, d.Truncated, d.ContentHash, fields, d.FetchedAt},
		})
	}

	if v := rec.Validation; v != nil {
		codes, err := marshalJSON(v.CPVCodes)
		if err != nil {
			return nil, err
		}
		details, err := marshalJSON(v.CPVDetails)
		if err != nil {
			return nil, err
		}
		writes = append(writes, tableWrite{
			table:   "tender_validations",
			columns: validationColumns,
			values:  []any{t.ResourceID, v.CPVCount, codes, details, v.HasValidatedCPV, now},
		})
	}

	if r := rec.Recommendation; r != nil {
		factors, err := marshalJSON(r.RelevantFactors)
		if err != nil {
			return nil, err
		}
		writes = append(writes, tableWrite{
			table:   "tender_recommendations",
			columns: recommendationColumns,
			values:  []any{t.ResourceID, r.ShouldBid, r.Confidence, r.EstimatedFit, r.Reasoning, factors, r.Model, r.AnalyzedAt},
		})
	}

	return writes, nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal")
	}
	return string(b), nil
}

func unmarshalJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return eris.Wrap(json.Unmarshal([]byte(s), v), "store: unmarshal")
}

const (
	selectTender = `SELECT row_number, title, detail_url, resource_id, contracting_authority, info,
	date_published, submission_deadline, procedure_type, status, notice_pdf_url, award_date,
	estimated_value, cycle, stages FROM tenders WHERE resource_id = `
	selectDocument       = `SELECT pdf_url, pdf_parsed, doc_text, truncated, content_hash, fields, fetched_at FROM tender_documents WHERE resource_id = `
	selectValidation     = `SELECT cpv_count, cpv_codes, cpv_details, has_validated_cpv FROM tender_validations WHERE resource_id = `
	selectRecommendation = `SELECT should_bid, confidence, estimated_fit, reasoning, relevant_factors, model, analyzed_at FROM tender_recommendations WHERE resource_id = `
)

var runColumns = []string{"id", "source", "started_at", "finished_at", "interrupted", "sinked", "skipped", "summary"}

func runWrite(d db.Dialect, s *model.RunSummary) (string, []any, error) {
	if s.ID == "" {
		return "", nil, eris.New("store: run summary has no id")
	}
	summary, err := marshalJSON(s)
	if err != nil {
		return "", nil, err
	}
	sql, err := db.UpsertSQL(d, db.UpsertConfig{Table: "runs", Columns: runColumns, ConflictKeys: []string{"id"}})
	if err != nil {
		return "", nil, err
	}
	return sql, []any{s.ID, s.Source, s.StartedAt, s.FinishedAt, s.Interrupted, s.Counts.Sinked, s.Skipped(), summary}, nil
}
