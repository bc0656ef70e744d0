package report

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/cubl/counter-loader/usage"
)

// Title Master header cells (column B unless noted).
const (
	trReportIDRow  = 2
	trPeriodRow    = 10
	trCreatedRow   = 11
	trColumnRow    = 14
	trFirstDataRow = 15
	trPlatformCol  = 4
)

// trLayout gives the 1-based column of each field; 0 means absent.
type trLayout struct {
	kind       usage.ReportKind
	isbn       int
	printISSN  int
	onlineISSN int
	uri        int
	yop        int
	access     int
	metric     int
	firstMonth int
}

// Columns 1-6 are the same in every variant: Title, Publisher,
// Publisher_ID, Platform, DOI, Proprietary_ID. Reporting_Period_Total sits
// between Metric_Type and the first month and is not read.
var trLayouts = map[string]trLayout{
	"TR_J1": {kind: usage.KindJournal, printISSN: 7, onlineISSN: 8, uri: 9, metric: 10, firstMonth: 12},
	"TR_J3": {kind: usage.KindJournal, printISSN: 7, onlineISSN: 8, uri: 9, access: 10, metric: 11, firstMonth: 13},
	"TR_B1": {kind: usage.KindBook, isbn: 7, printISSN: 8, onlineISSN: 9, uri: 10, yop: 11, metric: 12, firstMonth: 14},
	"TR_B3": {kind: usage.KindBook, isbn: 7, printISSN: 8, onlineISSN: 9, uri: 10, yop: 11, access: 12, metric: 13, firstMonth: 15},
}

// TitleMaster reads an R5 Title Master Report variant.
type TitleMaster struct {
	filename string
	sheet    Sheet
	reportID string
	layout   trLayout
	period   usage.Period
	runDate  *time.Time
	platform string
}

func newTitleMaster(filename string, s Sheet) (*TitleMaster, error) {
	reportID := usage.CleanCell(s.Cell(trReportIDRow, 2))
	if reportID == "" {
		return nil, &usage.MissingHeaderError{Field: "Report_ID", Cell: cellName(trReportIDRow, 2)}
	}
	layout, ok := trLayouts[reportID]
	if !ok {
		return nil, fmt.Errorf("%s: %w: Report_ID %q", filename, usage.ErrUnrecognizedFormat, reportID)
	}
	if h := usage.CleanCell(s.Cell(trColumnRow, layout.metric)); h != "Metric_Type" {
		return nil, &usage.MissingHeaderError{Field: "Metric_Type", Cell: cellName(trColumnRow, layout.metric)}
	}

	periodCell := usage.CleanCell(s.Cell(trPeriodRow, 2))
	if periodCell == "" {
		return nil, &usage.MissingHeaderError{Field: "Reporting_Period", Cell: cellName(trPeriodRow, 2)}
	}
	period, err := parseReportingPeriod(periodCell)
	if err != nil {
		return nil, err
	}

	r := &TitleMaster{
		filename: filename,
		sheet:    s,
		reportID: reportID,
		layout:   layout,
		period:   period,
		platform: usage.CleanCell(s.Cell(trFirstDataRow, trPlatformCol)),
	}
	if rd, ok := parseRunDate(s.Cell(trCreatedRow, 2)); ok {
		r.runDate = &rd
	}
	return r, nil
}

// parseReportingPeriod parses "Begin_Date=2020-01-01; End_Date=2020-12-31".
func parseReportingPeriod(cell string) (usage.Period, error) {
	var begin, end string
	for _, part := range strings.Split(cell, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "begin_date":
			begin = strings.TrimSpace(v)
		case "end_date":
			end = strings.TrimSpace(v)
		}
	}
	if begin == "" || end == "" {
		return usage.Period{}, &usage.PeriodError{Value: cell, Reason: "expected Begin_Date=...; End_Date=..."}
	}
	return usage.ParsePeriod(begin, end)
}

func (r *TitleMaster) Format() Format { return FormatTR }
func (r *TitleMaster) Filename() string { return r.filename }
func (r *TitleMaster) Generation() usage.Generation { return usage.GenerationR5 }
func (r *TitleMaster) ReportID() string { return r.reportID }
func (r *TitleMaster) Platform() string { return r.platform }
func (r *TitleMaster) Period() usage.Period { return r.period }

// Kind is J for journal variants and B for book variants.
func (r *TitleMaster) Kind() usage.ReportKind { return r.layout.kind }

// RunDate returns the Created header value.
func (r *TitleMaster) RunDate() (time.Time, bool) {
	if r.runDate == nil {
		return time.Time{}, false
	}
	return *r.runDate, true
}

// DataRows yields rows from 15 until the first blank column A.
func (r *TitleMaster) DataRows() iter.Seq[int] {
	return dataRows(r.sheet, trFirstDataRow, nil)
}

// Raw returns row n as read from the sheet. Journal variants have no ISBN
// or YOP column; those fields come back empty.
func (r *TitleMaster) Raw(n int) usage.RawRow {
	s, l := r.sheet, r.layout
	col := func(c int) string {
		if c == 0 {
			return ""
		}
		return s.Cell(n, c)
	}
	return usage.RawRow{
		SourceFile:    r.filename,
		SourceRow:     n,
		Generation:    usage.GenerationR5,
		ReportID:      r.reportID,
		Kind:          l.kind,
		Title:         s.Cell(n, 1),
		Publisher:     s.Cell(n, 2),
		PublisherID:   s.Cell(n, 3),
		Platform:      s.Cell(n, 4),
		DOI:           s.Cell(n, 5),
		ProprietaryID: s.Cell(n, 6),
		ISBN:          col(l.isbn),
		PrintISSN:     col(l.printISSN),
		OnlineISSN:    col(l.onlineISSN),
		URI:           col(l.uri),
		YOP:           col(l.yop),
		HasAccessType: l.access != 0,
		AccessType:    col(l.access),
		MetricType:    col(l.metric),
		Counts:        monthCells(s, n, l.firstMonth, r.period.MonthCount()),
	}
}

// Row returns row n in canonical form.
func (r *TitleMaster) Row(n int) (usage.CanonicalRow, error) {
	return usage.Canonicalize(r.Raw(n), r.period)
}
