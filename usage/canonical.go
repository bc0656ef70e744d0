/*
canonical.go - Row Canonicalizer

PURPOSE:
  Converts one raw data row, exactly as a reader pulled it from the sheet,
  into a CanonicalRow. All cleanup rules live here so every report
  generation is normalized the same way.

RULES:
  - Every string is trimmed and stripped of double quotes.
  - Title and publisher are HTML-unescaped twice (sources double-encode).
  - A missing, blank or "???"-containing publisher becomes "Not Defined".
  - Counts: blank -> 0; otherwise parsed as a decimal and truncated toward
    zero ("0.0" -> 0, "12.0" -> 12). Negative or unparseable -> error.
  - R4 rows carry no access or metric columns: Controlled and
    Total_Item_Requests are synthesized.
  - R5 rows without an access column (or with a blank cell) are Controlled.

SEE ALSO:
  - report/: Readers that build RawRow values
*/
package usage

import (
	"html"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// PublisherNotDefined replaces missing or garbled publisher names.
const PublisherNotDefined = "Not Defined"

// RawRow is an uncleaned data row. Counts has one cell per month of the period.
type RawRow struct {
	SourceFile string
	SourceRow  int
	Generation Generation
	ReportID   string
	Kind       ReportKind

	Title         string
	Publisher     string
	PublisherID   string
	Platform      string
	DOI           string
	ProprietaryID string
	ISBN          string
	PrintISSN     string
	OnlineISSN    string
	URI           string
	YOP           string

	// HasAccessType is false for layouts without an Access_Type column.
	HasAccessType bool
	AccessType    string
	MetricType    string

	Counts []string
}

// Canonicalize cleans raw and aligns its counts with the months of period.
func Canonicalize(raw RawRow, period Period) (CanonicalRow, error) {
	row := CanonicalRow{
		SourceFile:    raw.SourceFile,
		SourceRow:     raw.SourceRow,
		Generation:    raw.Generation,
		ReportID:      CleanCell(raw.ReportID),
		Kind:          raw.Kind,
		Title:         CleanTitle(raw.Title),
		Publisher:     CleanPublisher(raw.Publisher),
		PublisherID:   CleanCell(raw.PublisherID),
		Platform:      CleanCell(raw.Platform),
		DOI:           CleanCell(raw.DOI),
		ProprietaryID: CleanCell(raw.ProprietaryID),
		ISBN:          CleanCell(raw.ISBN),
		PrintISSN:     CleanCell(raw.PrintISSN),
		OnlineISSN:    CleanCell(raw.OnlineISSN),
		URI:           CleanCell(raw.URI),
		YOP:           CleanCell(raw.YOP),
	}
	if row.Kind == "" {
		row.Kind = KindJournal
	}

	if raw.Generation == GenerationR4 {
		row.AccessType = AccessControlled
		row.MetricType = MetricTotalItemRequests
	} else {
		access := ""
		if raw.HasAccessType {
			access = CleanCell(raw.AccessType)
		}
		at, ok := ParseAccessType(access)
		if !ok {
			return CanonicalRow{}, &UnknownTypeError{Kind: "access_type", Value: access, Row: raw.SourceRow}
		}
		row.AccessType = at

		metric := CleanCell(raw.MetricType)
		mt, ok := ParseMetricType(metric)
		if !ok {
			return CanonicalRow{}, &UnknownTypeError{Kind: "metric_type", Value: metric, Row: raw.SourceRow}
		}
		row.MetricType = mt
	}

	months := period.Months()
	row.Counts = make([]MonthCount, len(months))
	for i, m := range months {
		cell := ""
		if i < len(raw.Counts) {
			cell = raw.Counts[i]
		}
		n, err := ParseCount(cell)
		if err != nil {
			return CanonicalRow{}, &MalformedCountError{Row: raw.SourceRow, Month: m.Format("2006-01"), Value: cell}
		}
		row.Counts[i] = MonthCount{Month: m.Month(), Count: n}
	}
	return row, nil
}

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n", `"`, "")

// CleanCell trims whitespace, removes double quotes and folds CR and CRLF
// line breaks to LF, the form staging files read back.
func CleanCell(s string) string {
	return strings.TrimSpace(lineEndings.Replace(s))
}

// CleanTitle unescapes HTML entities twice, then applies CleanCell.
func CleanTitle(s string) string {
	return CleanCell(unescape(s))
}

// CleanPublisher is CleanTitle with the "Not Defined" substitution.
func CleanPublisher(s string) string {
	if strings.TrimSpace(s) == "" || strings.Contains(s, "???") {
		return PublisherNotDefined
	}
	p := CleanTitle(s)
	if p == "" {
		return PublisherNotDefined
	}
	return p
}

var maxCount = decimal.NewFromInt(math.MaxInt64)

func unescape(s string) string {
	return html.UnescapeString(html.UnescapeString(s))
}

// ParseCount converts a count cell to a non-negative integer.
func ParseCount(s string) (int64, error) {
	s = CleanCell(s)
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return 0, ErrMalformedCount
	}
	if d.IsNegative() || d.GreaterThan(maxCount) {
		return 0, ErrMalformedCount
	}
	return d.IntPart(), nil
}
