// Package coerce converts scraped tender rows into typed records. Every
// function here is pure: bad input yields a nil field, never an error.
package coerce

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/tender-cli/internal/model"
)

// OpenStatus is the source's canonical token for a tender accepting bids.
const OpenStatus = "open"

// Coerce builds a CoercedRecord from raw. It is deterministic, so coercing
// the same raw record twice yields equal results.
func Coerce(raw model.RawRecord) model.CoercedRecord {
	out := model.CoercedRecord{
		RawRecord:                raw,
		DatePublishedParsed:      ParseDate(raw.DatePublished),
		SubmissionDeadlineParsed: ParseDate(raw.SubmissionDeadline),
		AwardDateParsed:          ParseDate(raw.AwardDate),
		EstimatedValueNumeric:    ParseMoney(raw.EstimatedValue),
		CycleNumeric:             ParseInt(raw.Cycle),
	}
	out.HasPDFURL = strings.TrimSpace(raw.NoticePDFURL) != ""
	out.HasEstimatedValue = out.EstimatedValueNumeric != nil
	out.IsOpen = strings.EqualFold(strings.TrimSpace(raw.Status), OpenStatus)
	return out
}

// dateLayouts are tried in order; the first successful parse wins.
var dateLayouts = []string{
	"Mon Jan _2 15:04:05 MST 2006",   // listing timestamps, GMT/UTC
	"Mon Jan _2 15:04:05 -0700 2006", // listing timestamps after zone rewrite
	"02/01/2006 15:04",               // notice dates with time
	"02/01/2006 15:04:05",
	"02/01/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// zoneOffsets maps zone abbreviations Go cannot resolve on its own.
var zoneOffsets = map[string]string{
	" IST ":  " +0100 ",
	" BST ":  " +0100 ",
	" CET ":  " +0100 ",
	" CEST ": " +0200 ",
}

// ParseDate parses a source date string and returns it in UTC, or nil.
func ParseDate(s string) *time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return nil
	}
	for abbr, off := range zoneOffsets {
		if strings.Contains(s, abbr) {
			s = strings.Replace(s, abbr, off, 1)
			break
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

var placeholders = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"n/a":  true,
	"na":   true,
	"tbc":  true,
	"tbd":  true,
	"none": true,
	"nil":  true,
}

var currencyCodes = []string{"EUR", "GBP", "USD"}

// ParseMoney parses a currency amount as a fixed-point decimal. Thousands
// separators and currency symbols are stripped; placeholders yield nil.
func ParseMoney(s string) *decimal.Decimal {
	s = strings.TrimSpace(norm.NFKC.String(s))
	if placeholders[strings.ToLower(s)] {
		return nil
	}
	upper := strings.ToUpper(s)
	for _, code := range currencyCodes {
		upper = strings.ReplaceAll(upper, code, "")
	}

	var b strings.Builder
	for _, r := range upper {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'', unicode.Is(unicode.Sc, r):
			// separators and currency symbols
		default:
			return nil
		}
	}

	num := normalizeSeparators(b.String())
	if num == "" || num == "-" {
		return nil
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return nil
	}
	return &d
}

// normalizeSeparators rewrites a number so that '.' is the only decimal
// separator and no grouping characters remain.
func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 1.234.567,89
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			if frac := len(s) - lastComma - 1; frac > 0 && frac <= 2 {
				return strings.Replace(s, ",", ".", 1)
			}
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ParseInt parses a whole number, or returns nil.
func ParseInt(s string) *int {
	s = strings.TrimSpace(s)
	if placeholders[strings.ToLower(s)] {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
