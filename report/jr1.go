package report

import (
	"iter"
	"strings"
	"time"

	"github.com/cubl/counter-loader/usage"
)

// JR1 layout (COUNTER R4 Journal Report 1).
const (
	jr1PeriodRow    = 5
	jr1FirstDataRow = 10
	jr1PlatformCol  = 3
	jr1FirstMonth   = 11 // K: after the three reporting-period total columns
)

// JR1 reads an R4 Journal Report 1. It carries no run date.
type JR1 struct {
	filename string
	sheet    Sheet
	period   usage.Period
	platform string
}

func newJR1(filename string, s Sheet) (*JR1, error) {
	cell := strings.TrimSpace(s.Cell(jr1PeriodRow, 1))
	if cell == "" {
		return nil, &usage.MissingHeaderError{Field: "Period covered by Report", Cell: cellName(jr1PeriodRow, 1)}
	}
	if len(cell) < 20 {
		return nil, &usage.PeriodError{Value: cell, Reason: "expected YYYY-MM-DD to YYYY-MM-DD"}
	}
	period, err := usage.ParsePeriod(cell[:10], cell[len(cell)-10:])
	if err != nil {
		return nil, err
	}
	r := &JR1{
		filename: filename,
		sheet:    s,
		period:   period,
		platform: usage.CleanCell(s.Cell(jr1FirstDataRow, jr1PlatformCol)),
	}
	if r.platform == "" {
		for n := range r.DataRows() {
			r.platform = usage.CleanCell(s.Cell(n, jr1PlatformCol))
			break
		}
	}
	return r, nil
}

func (r *JR1) Format() Format { return FormatJR1 }
func (r *JR1) Filename() string { return r.filename }
func (r *JR1) Generation() usage.Generation { return usage.GenerationR4 }
func (r *JR1) ReportID() string { return "JR1" }
func (r *JR1) Platform() string { return r.platform }
func (r *JR1) Period() usage.Period { return r.period }
func (r *JR1) RunDate() (time.Time, bool) { return time.Time{}, false }

// DataRows yields rows from 10 until the first blank column A. A
// "Total for all journals" summary row is not a title and is skipped.
func (r *JR1) DataRows() iter.Seq[int] {
	return dataRows(r.sheet, jr1FirstDataRow, func(row int) bool {
		return strings.HasPrefix(strings.TrimSpace(r.sheet.Cell(row, 1)), "Total for all")
	})
}

// Raw returns row n as read from the sheet.
func (r *JR1) Raw(n int) usage.RawRow {
	s := r.sheet
	return usage.RawRow{
		SourceFile:    r.filename,
		SourceRow:     n,
		Generation:    usage.GenerationR4,
		ReportID:      "JR1",
		Kind:          usage.KindJournal,
		Title:         s.Cell(n, 1),
		Publisher:     s.Cell(n, 2),
		Platform:      s.Cell(n, 3),
		DOI:           s.Cell(n, 4),
		ProprietaryID: s.Cell(n, 5),
		PrintISSN:     s.Cell(n, 6),
		OnlineISSN:    s.Cell(n, 7),
		Counts:        monthCells(s, n, jr1FirstMonth, r.period.MonthCount()),
	}
}

// Row returns row n in canonical form.
func (r *JR1) Row(n int) (usage.CanonicalRow, error) {
	return usage.Canonicalize(r.Raw(n), r.period)
}
