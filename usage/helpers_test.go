package usage_test

import (
	"iter"
	"time"

	"github.com/cubl/counter-loader/usage"
	"github.com/cubl/counter-loader/usage/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const firstDataRow = 15

// fakeSource is an in-memory report. Rows are numbered from firstDataRow.
type fakeSource struct {
	name     string
	gen      usage.Generation
	platform string
	period   usage.Period
	runDate  *time.Time
	raws     []usage.RawRow
}

func (f *fakeSource) Filename() string { return f.name }
func (f *fakeSource) Generation() usage.Generation { return f.gen }
func (f *fakeSource) ReportID() string { return "TR_B3" }
func (f *fakeSource) Platform() string { return f.platform }
func (f *fakeSource) Period() usage.Period { return f.period }

func (f *fakeSource) RunDate() (time.Time, bool) {
	if f.runDate == nil {
		return time.Time{}, false
	}
	return *f.runDate, true
}

func (f *fakeSource) DataRows() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := range f.raws {
			if !yield(firstDataRow + i) {
				return
			}
		}
	}
}

func (f *fakeSource) Row(n int) (usage.CanonicalRow, error) {
	raw := f.raws[n-firstDataRow]
	raw.SourceFile = f.name
	raw.SourceRow = n
	raw.Generation = f.gen
	if raw.Platform == "" {
		raw.Platform = f.platform
	}
	return usage.Canonicalize(raw, f.period)
}

func quarter(year int) usage.Period {
	p, err := usage.NewPeriod(
		time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.March, 31, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		panic(err)
	}
	return p
}

func bookRow(title, isbn string, counts ...string) usage.RawRow {
	return usage.RawRow{
		Kind:          usage.KindBook,
		Title:         title,
		Publisher:     "Manning",
		ISBN:          isbn,
		YOP:           "2019",
		HasAccessType: true,
		AccessType:    "Controlled",
		MetricType:    "Total_Item_Requests",
		Counts:        counts,
	}
}

func newSource(name string, runDate time.Time, rows ...usage.RawRow) *fakeSource {
	return &fakeSource{
		name:     name,
		gen:      usage.GenerationR5,
		platform: "Ebook Central",
		period:   quarter(2020),
		runDate:  &runDate,
		raws:     rows,
	}
}

func newMemoryStore() *store.Memory {
	m := store.NewMemory()
	m.AddPlatform("Ebook Central", "ProQuest Ebook Central")
	return m
}

func fixedClock() func() time.Time {
	t := time.Date(2021, time.May, 4, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return t }
}
