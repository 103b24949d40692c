package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/tender-cli/internal/model"
)

// requiredColumns must be present in every tabular source.
var requiredColumns = []string{"resource_id", "title"}

var aliases = map[string]string{
	"id":         "resource_id",
	"tender_id":  "resource_id",
	"#":          "row_number",
	"row":        "row_number",
	"url":        "detail_url",
	"authority":  "contracting_authority",
	"published":  "date_published",
	"deadline":   "submission_deadline",
	"notice_pdf": "notice_pdf_url",
	"pdf_url":    "notice_pdf_url",
	"value":      "estimated_value",
}

// normalizeKey maps a header or object key to a RawRecord json name.
func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '.' {
			return '_'
		}
		return r
	}, k)
	if a, ok := aliases[k]; ok {
		return a
	}
	return k
}

// setField assigns v to the RawRecord field named key. Unknown keys are
// ignored and reported false.
func setField(r *model.RawRecord, key, v string) bool {
	v = strings.TrimSpace(v)
	switch key {
	case "row_number":
		r.RowNumber = v
	case "title":
		r.Title = v
	case "detail_url":
		r.DetailURL = v
	case "resource_id":
		r.ResourceID = v
	case "contracting_authority":
		r.ContractingAuthority = v
	case "info":
		r.Info = v
	case "date_published":
		r.DatePublished = v
	case "submission_deadline":
		r.SubmissionDeadline = v
	case "procedure":
		r.Procedure = v
	case "status":
		r.Status = v
	case "notice_pdf_url":
		r.NoticePDFURL = v
	case "award_date":
		r.AwardDate = v
	case "estimated_value":
		r.EstimatedValue = v
	case "cycle":
		r.Cycle = v
	default:
		return false
	}
	return true
}

// columnMap resolves header positions for a tabular source.
type columnMap struct {
	keys  []string
	width int
}

func newColumnMap(header []string) (columnMap, error) {
	m := columnMap{keys: make([]string, len(header)), width: len(header)}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		k := normalizeKey(h)
		if setField(&model.RawRecord{}, k, "") {
			m.keys[i] = k
			seen[k] = true
		}
	}
	var missing []string
	for _, req := range requiredColumns {
		if !seen[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return m, formatChange("source: header %v lacks required columns %v", header, missing)
	}
	return m, nil
}

// record converts row. It reports false for rows that are shorter than the
// header or have no resource_id.
func (m columnMap) record(row []string) (model.RawRecord, bool) {
	var r model.RawRecord
	if len(row) < m.width && !trailingBlank(m, row) {
		return r, false
	}
	for i, k := range m.keys {
		if k == "" || i >= len(row) {
			continue
		}
		setField(&r, k, row[i])
	}
	return r, r.ResourceID != ""
}

// trailingBlank reports whether the cells missing from a short row map to
// no known column, which some exporters drop.
func trailingBlank(m columnMap, row []string) bool {
	for _, k := range m.keys[len(row):] {
		if k != "" {
			return false
		}
	}
	return true
}

// fromObject converts a decoded JSON object.
func fromObject(obj map[string]any) (model.RawRecord, bool) {
	var r model.RawRecord
	for k, v := range obj {
		setField(&r, normalizeKey(k), stringify(v))
	}
	return r, r.ResourceID != ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// rejects counts rows dropped by the structural check.
type rejects struct {
	total, dropped int
}

func (r *rejects) err(source string) error {
	if r.dropped == 0 {
		return nil
	}
	return formatChange("source: %s dropped %d of %d rows that were short or lacked resource_id",
		source, r.dropped, r.total)
}
