package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// File sink formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// FileSink keeps records in memory keyed by resource_id and writes the
// whole set on Flush and Close. Re-sinking a record replaces it in place.
// A JSON sink reloads an existing output file, so repeated runs merge.
type FileSink struct {
	format string
	path   string

	mu      sync.Mutex
	order   []string
	records map[string]*model.EnrichedRecord
	dirty   bool
}

// NewFileSink creates a sink writing format to path.
func NewFileSink(format, path string) (*FileSink, error) {
	if path == "" {
		path = "tenders." + format
	}
	switch format {
	case FormatJSON, FormatCSV, FormatXLSX:
	default:
		return nil, resilience.Classifiedf(model.ClassConfigurationError, "store: unknown file format %q", format)
	}

	s := &FileSink{format: format, path: path, records: make(map[string]*model.EnrichedRecord)}
	if format == FormatJSON {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileSink) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "store: read %s", s.path)
	}
	var recs []*model.EnrichedRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return eris.Wrapf(err, "store: parse %s", s.path)
	}
	for _, r := range recs {
		s.put(r)
	}
	zap.L().Debug("loaded existing output", zap.String("path", s.path), zap.Int("records", len(recs)))
	return nil
}

func (s *FileSink) put(rec *model.EnrichedRecord) {
	id := rec.ResourceID()
	if _, ok := s.records[id]; !ok {
		s.order = append(s.order, id)
	}
	s.records[id] = rec
}

// Upsert stores rec, replacing any record with the same resource_id.
func (s *FileSink) Upsert(_ context.Context, rec *model.EnrichedRecord) error {
	if rec.ResourceID() == "" {
		return eris.New("store: record has no resource_id")
	}
	cp := *rec
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(&cp)
	s.dirty = true
	return nil
}

// Get returns the stored record or nil.
func (s *FileSink) Get(_ context.Context, resourceID string) (*model.EnrichedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[resourceID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Len returns the number of distinct records.
func (s *FileSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Flush writes every record to a temporary file and renames it over the
// output path.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	recs := make([]*model.EnrichedRecord, len(s.order))
	for i, id := range s.order {
		recs[i] = s.records[id]
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "store: create %s", dir)
		}
	}
	tmp := s.path + ".tmp"

	var err error
	switch s.format {
	case FormatJSON:
		err = writeJSON(tmp, recs)
	case FormatCSV:
		err = writeCSV(tmp, recs)
	case FormatXLSX:
		err = writeXLSX(tmp, recs)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return eris.Wrapf(err, "store: replace %s", s.path)
	}
	s.dirty = false
	zap.L().Info("wrote output", zap.String("path", s.path), zap.String("format", s.format), zap.Int("records", len(recs)))
	return nil
}

// Close flushes pending records.
func (s *FileSink) Close() error {
	return s.Flush()
}

func writeJSON(path string, recs []*model.EnrichedRecord) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return eris.Wrap(err, "store: marshal records")
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "store: write %s", path)
}

func writeCSV(path string, recs []*model.EnrichedRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "store: create %s", path)
	}
	w := csv.NewWriter(f)
	if err := w.Write(FlatColumns); err != nil {
		f.Close()
		return eris.Wrap(err, "store: write csv header")
	}
	for _, r := range recs {
		if err := w.Write(Flatten(r)); err != nil {
			f.Close()
			return eris.Wrap(err, "store: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return eris.Wrap(err, "store: flush csv")
	}
	return eris.Wrap(f.Close(), "store: close csv")
}

func writeXLSX(path string, recs []*model.EnrichedRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("tenders")
	if err != nil {
		return eris.Wrap(err, "store: add sheet")
	}
	for _, values := range append([][]string{FlatColumns}, flattenAll(recs)...) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrapf(f.Save(path), "store: save %s", path)
}

// FlatColumns is the header of tabular outputs.
var FlatColumns = []string{
	"resource_id", "title", "contracting_authority", "info", "procedure", "status", "cycle",
	"date_published", "submission_deadline", "award_date", "estimated_value",
	"date_published_parsed", "submission_deadline_parsed", "award_date_parsed",
	"estimated_value_numeric", "has_pdf_url", "is_open", "detail_url", "notice_pdf_url",
	"pdf_parsed", "pdf_truncated", "text_chars", "pdf_fields",
	"cpv_count", "cpv_codes", "has_validated_cpv",
	"should_bid", "confidence", "estimated_fit", "reasoning", "relevant_factors",
	"skipped_stages",
}

func flattenAll(recs []*model.EnrichedRecord) [][]string {
	out := make([][]string, len(recs))
	for i, r := range recs {
		out[i] = Flatten(r)
	}
	return out
}

// Flatten renders rec as one row matching FlatColumns. Missing enrichment
// yields empty cells.
func Flatten(rec *model.EnrichedRecord) []string {
	t := rec.Tender
	row := []string{
		t.ResourceID, t.Title, t.ContractingAuthority, t.Info, t.Procedure, t.Status, t.Cycle,
		t.DatePublished, t.SubmissionDeadline, t.AwardDate, t.EstimatedValue,
		fmtTime(t.DatePublishedParsed), fmtTime(t.SubmissionDeadlineParsed), fmtTime(t.AwardDateParsed),
		"", strconv.FormatBool(t.HasPDFURL), strconv.FormatBool(t.IsOpen), t.DetailURL, t.NoticePDFURL,
	}
	if t.EstimatedValueNumeric != nil {
		row[14] = t.EstimatedValueNumeric.String()
	}

	if d := rec.Document; d != nil {
		chars := ""
		if d.Text != nil {
			chars = strconv.Itoa(len([]rune(*d.Text)))
		}
		fields := ""
		if d.Fields != nil {
			b, _ := json.Marshal(d.Fields)
			fields = string(b)
		}
		row = append(row, strconv.FormatBool(d.PDFParsed), strconv.FormatBool(d.Truncated), chars, fields)
	} else {
		row = append(row, "", "", "", "")
	}

	if v := rec.Validation; v != nil {
		row = append(row, strconv.Itoa(v.CPVCount), strings.Join(v.CPVCodes, ";"), strconv.FormatBool(v.HasValidatedCPV))
	} else {
		row = append(row, "", "", "")
	}

	if r := rec.Recommendation; r != nil {
		row = append(row,
			strconv.FormatBool(r.ShouldBid),
			strconv.FormatFloat(r.Confidence, 'f', -1, 64),
			strconv.FormatFloat(r.EstimatedFit, 'f', -1, 64),
			r.Reasoning,
			strings.Join(r.RelevantFactors, ";"),
		)
	} else {
		row = append(row, "", "", "", "", "")
	}

	var skipped []string
	for _, st := range model.Stages {
		if rec.Stages[st] == model.StageSkipped {
			skipped = append(skipped, string(st))
		}
	}
	return append(row, strings.Join(skipped, ";"))
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
