package usage

import (
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Inclusive reporting range, always within one calendar year
// =============================================================================

// Period is the reporting range of one report. Begin and End are dates (UTC midnight).
type Period struct {
	Begin time.Time
	End   time.Time
}

// NewPeriod validates the range. Cross-year periods are rejected because the
// month columns of a sheet are addressed by month number only.
func NewPeriod(begin, end time.Time) (Period, error) {
	p := Period{Begin: dateOnly(begin), End: dateOnly(end)}
	if p.End.Before(p.Begin) {
		return Period{}, &PeriodError{Value: p.String(), Reason: "end before begin"}
	}
	if p.Begin.Year() != p.End.Year() {
		return Period{}, &PeriodError{Value: p.String(), Reason: "spans more than one calendar year"}
	}
	return p, nil
}

// ParsePeriod parses two ISO dates. A bare year-month is accepted: the first
// day of the month for begin, the last day for end.
func ParsePeriod(begin, end string) (Period, error) {
	b, err := parseDate(begin, false)
	if err != nil {
		return Period{}, err
	}
	e, err := parseDate(end, true)
	if err != nil {
		return Period{}, err
	}
	return NewPeriod(b, e)
}

// Year returns the calendar year of the period.
func (p Period) Year() int {
	return p.Begin.Year()
}

// Months returns the first day of every month in the period, in order.
func (p Period) Months() []time.Time {
	var months []time.Time
	for m := MonthStart(p.Begin); !m.After(p.End); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

// MonthCount returns the number of month columns a report for p carries.
func (p Period) MonthCount() int {
	return int(p.End.Month()-p.Begin.Month()) + 1
}

func (p Period) String() string {
	return p.Begin.Format(DateLayout) + " to " + p.End.Format(DateLayout)
}

// DateLayout is the storage and wire format of dates.
const DateLayout = "2006-01-02"

func parseDate(s string, endOfMonth bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		if endOfMonth {
			return t.AddDate(0, 1, -1), nil
		}
		return t, nil
	}
	return time.Time{}, &PeriodError{Value: s, Reason: "expected YYYY-MM-DD"}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
