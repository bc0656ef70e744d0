/*
Package staging encodes and decodes the tab-delimited files used by the
bulk load path.

FILE LAYOUT:
  titles:  id, title_type, title, publisher, publisher_id, platform, doi,
           proprietary_id, isbn, print_issn, online_issn, uri, yop,
           source_filename, source_row_number, pending_title_ref
  metrics: id, pending_title_ref, access_type, metric_type, period,
           period_total, source_filename, source_row_number

  The id column is always the placeholder \N; the database assigns ids
  when the files are copied into the staging tables. No header row.

  (source_filename, source_row_number) ties a metric line to its title
  line; the pending reference is carried for tracing only.
*/
package staging

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Placeholder is written in the id column of every line.
const Placeholder = `\N`

// TitleColumns is the column order of the title file and title_report_temp.
var TitleColumns = []string{
	"id", "title_type", "title", "publisher", "publisher_id", "platform", "doi",
	"proprietary_id", "isbn", "print_issn", "online_issn", "uri", "yop",
	"excel_name", "row_num", "pending_ref",
}

// MetricColumns is the column order of the metric file and metric_temp.
var MetricColumns = []string{
	"id", "pending_ref", "access_type", "metric_type", "period", "period_total",
	"excel_name", "row_num",
}

// Title is one line of the title file, or one title_report_temp row once copied.
type Title struct {
	StagingID     int64
	TitleType     string
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
	SourceFile    string
	SourceRow     int
	PendingRef    string

	// TitleID is set by reconciliation; zero while pending.
	TitleID int64
}

// Metric is one line of the metric file, or one metric_temp row once copied.
type Metric struct {
	StagingID   int64
	PendingRef  string
	AccessType  int
	MetricType  int
	Period      string // YYYY-MM-DD
	PeriodTotal int64
	SourceFile  string
	SourceRow   int

	// TitleID is set by propagation; zero while pending.
	TitleID int64
}

// Values returns the title as staging table column values, id excluded.
func (t Title) Values() []any {
	return []any{
		t.TitleType, t.Title, t.Publisher, t.PublisherID, t.Platform, t.DOI,
		t.ProprietaryID, t.ISBN, t.PrintISSN, t.OnlineISSN, t.URI, t.YOP,
		t.SourceFile, t.SourceRow, t.PendingRef,
	}
}

// Values returns the metric as staging table column values, id excluded.
func (m Metric) Values() []any {
	return []any{
		m.PendingRef, m.AccessType, m.MetricType, m.Period, m.PeriodTotal,
		m.SourceFile, m.SourceRow,
	}
}

// =============================================================================
// WRITER
// =============================================================================

// Writer appends records to one staging file.
type Writer struct {
	w *csv.Writer
}

// NewWriter returns a tab-delimited writer.
func NewWriter(w io.Writer) *Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return &Writer{w: cw}
}

// WriteTitle writes one title line.
func (w *Writer) WriteTitle(t Title) error {
	return w.w.Write([]string{
		Placeholder, t.TitleType, t.Title, t.Publisher, t.PublisherID, t.Platform,
		t.DOI, t.ProprietaryID, t.ISBN, t.PrintISSN, t.OnlineISSN, t.URI, t.YOP,
		t.SourceFile, strconv.Itoa(t.SourceRow), t.PendingRef,
	})
}

// WriteMetric writes one metric line.
func (w *Writer) WriteMetric(m Metric) error {
	return w.w.Write([]string{
		Placeholder, m.PendingRef, strconv.Itoa(m.AccessType), strconv.Itoa(m.MetricType),
		m.Period, strconv.FormatInt(m.PeriodTotal, 10), m.SourceFile, strconv.Itoa(m.SourceRow),
	})
}

// Flush writes buffered lines and reports any write error.
func (w *Writer) Flush() error {
	w.w.Flush()
	return w.w.Error()
}

// =============================================================================
// READER
// =============================================================================

// ReadTitles decodes a whole title file.
func ReadTitles(r io.Reader) ([]Title, error) {
	records, err := readAll(r, len(TitleColumns))
	if err != nil {
		return nil, fmt.Errorf("read title staging: %w", err)
	}
	titles := make([]Title, 0, len(records))
	for i, rec := range records {
		row, err := strconv.Atoi(rec[14])
		if err != nil {
			return nil, fmt.Errorf("title staging line %d: bad row number %q", i+1, rec[14])
		}
		titles = append(titles, Title{
			TitleType:     rec[1],
			Title:         rec[2],
			Publisher:     rec[3],
			PublisherID:   rec[4],
			Platform:      rec[5],
			DOI:           rec[6],
			ProprietaryID: rec[7],
			ISBN:          rec[8],
			PrintISSN:     rec[9],
			OnlineISSN:    rec[10],
			URI:           rec[11],
			YOP:           rec[12],
			SourceFile:    rec[13],
			SourceRow:     row,
			PendingRef:    rec[15],
		})
	}
	return titles, nil
}

// ReadMetrics decodes a whole metric file.
func ReadMetrics(r io.Reader) ([]Metric, error) {
	records, err := readAll(r, len(MetricColumns))
	if err != nil {
		return nil, fmt.Errorf("read metric staging: %w", err)
	}
	metrics := make([]Metric, 0, len(records))
	for i, rec := range records {
		var m Metric
		var perr error
		m.PendingRef = rec[1]
		if m.AccessType, perr = strconv.Atoi(rec[2]); perr != nil {
			return nil, fmt.Errorf("metric staging line %d: bad access type %q", i+1, rec[2])
		}
		if m.MetricType, perr = strconv.Atoi(rec[3]); perr != nil {
			return nil, fmt.Errorf("metric staging line %d: bad metric type %q", i+1, rec[3])
		}
		m.Period = rec[4]
		if m.PeriodTotal, perr = strconv.ParseInt(rec[5], 10, 64); perr != nil {
			return nil, fmt.Errorf("metric staging line %d: bad period total %q", i+1, rec[5])
		}
		m.SourceFile = rec[6]
		if m.SourceRow, perr = strconv.Atoi(rec[7]); perr != nil {
			return nil, fmt.Errorf("metric staging line %d: bad row number %q", i+1, rec[7])
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func readAll(r io.Reader, fields int) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = fields
	cr.LazyQuotes = true
	return cr.ReadAll()
}
