package usage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubl/counter-loader/usage"
)

func year2020() usage.Period {
	p, err := usage.ParsePeriod("2020-01-01", "2020-12-31")
	if err != nil {
		panic(err)
	}
	return p
}

func TestCleanPublisher(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", usage.PublisherNotDefined},
		{"   ", usage.PublisherNotDefined},
		{"???", usage.PublisherNotDefined},
		{"Wiley ??? Sons", usage.PublisherNotDefined},
		{"Elsevier &amp;amp; Co", "Elsevier & Co"},
		{`  "Springer"  `, "Springer"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, usage.CleanPublisher(tc.in), "input %q", tc.in)
	}
}

func TestCleanTitle_DoubleUnescape(t *testing.T) {
	assert.Equal(t, "Tom & Jerry's <Journal>", usage.CleanTitle("Tom &amp;amp; Jerry&#39;s &amp;lt;Journal&amp;gt;"))
	assert.Equal(t, "Nature", usage.CleanTitle(` "Nature" `))
}

func TestCleanCell_FoldsLineEndings(t *testing.T) {
	assert.Equal(t, "Line one\nLine two", usage.CleanCell("Line one\r\nLine two"))
	assert.Equal(t, "Line one\nLine two", usage.CleanCell("Line one\rLine two"))
	assert.Equal(t, "Line one\n\nLine two", usage.CleanCell("Line one\r\n\r\nLine two\r\n"))
}

func TestParseCount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"0.0", 0},
		{"12", 12},
		{"12.0", 12},
		{"12.9", 12},
		{"1,234", 1234},
		{" 7 ", 7},
		{"9223372036854775807", 9223372036854775807},
	}
	for _, tc := range cases {
		got, err := usage.ParseCount(tc.in)
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}

	for _, bad := range []string{"abc", "-1", "1e", "9223372036854775808", "18446744073709551617", "1e20"} {
		_, err := usage.ParseCount(bad)
		assert.ErrorIs(t, err, usage.ErrMalformedCount, "input %q", bad)
	}
}

func TestCanonicalize_R4SynthesizesTypes(t *testing.T) {
	raw := usage.RawRow{
		SourceRow:  10,
		Generation: usage.GenerationR4,
		Title:      "Journal of Tests",
		Publisher:  "",
		Platform:   "ACM Digital Library",
		Counts:     []string{"1", "0.0", ""},
	}
	p, err := usage.ParsePeriod("2015-01-01", "2015-03-31")
	require.NoError(t, err)

	row, err := usage.Canonicalize(raw, p)
	require.NoError(t, err)

	assert.Equal(t, usage.AccessControlled, row.AccessType)
	assert.Equal(t, usage.MetricTotalItemRequests, row.MetricType)
	assert.Equal(t, usage.KindJournal, row.Kind)
	assert.Equal(t, usage.PublisherNotDefined, row.Publisher)
	assert.Equal(t, []usage.MonthCount{
		{Month: time.January, Count: 1},
		{Month: time.February, Count: 0},
		{Month: time.March, Count: 0},
	}, row.Counts)
}

func TestCanonicalize_R5Types(t *testing.T) {
	raw := usage.RawRow{
		SourceRow:     15,
		Generation:    usage.GenerationR5,
		Kind:          usage.KindBook,
		Title:         "Go in Practice",
		Publisher:     "Manning",
		Platform:      "Ebook Central",
		HasAccessType: true,
		AccessType:    "OA_Gold",
		MetricType:    "Unique_Title_Requests",
		Counts:        make([]string, 12),
	}

	row, err := usage.Canonicalize(raw, year2020())
	require.NoError(t, err)
	assert.Equal(t, usage.AccessOAGold, row.AccessType)
	assert.Equal(t, usage.MetricUniqueTitleRequests, row.MetricType)
	assert.Len(t, row.Counts, 12)

	// Layouts without an access column are Controlled.
	raw.HasAccessType = false
	row, err = usage.Canonicalize(raw, year2020())
	require.NoError(t, err)
	assert.Equal(t, usage.AccessControlled, row.AccessType)

	// Blank access cell is Controlled.
	raw.HasAccessType = true
	raw.AccessType = " "
	row, err = usage.Canonicalize(raw, year2020())
	require.NoError(t, err)
	assert.Equal(t, usage.AccessControlled, row.AccessType)
}

func TestCanonicalize_Errors(t *testing.T) {
	base := usage.RawRow{
		SourceRow:  20,
		Generation: usage.GenerationR5,
		Title:      "T",
		Platform:   "P",
		MetricType: "Total_Item_Requests",
		Counts:     []string{"3", "x"},
	}

	_, err := usage.Canonicalize(base, year2020())
	var countErr *usage.MalformedCountError
	require.ErrorAs(t, err, &countErr)
	assert.Equal(t, 20, countErr.Row)
	assert.Equal(t, "2020-02", countErr.Month)
	assert.True(t, usage.IsFileFatal(err))

	base.Counts = nil
	base.MetricType = "Searches_Platform"
	_, err = usage.Canonicalize(base, year2020())
	var typeErr *usage.UnknownTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "metric_type", typeErr.Kind)
	assert.True(t, errors.Is(err, usage.ErrUnknownType))
}

func TestCodeTablesAreStable(t *testing.T) {
	assert.Equal(t, 1, int(usage.AccessControlled))
	assert.Equal(t, 3, int(usage.AccessOtherFreeToRead))
	for name, code := range map[string]int{
		"Total_Item_Investigations":   1,
		"Total_Item_Requests":         2,
		"Unique_Item_Investigations":  3,
		"Unique_Item_Requests":        4,
		"Unique_Title_Investigations": 5,
		"Unique_Title_Requests":       6,
		"Limit_Exceeded":              7,
		"No_License":                  8,
	} {
		mt, ok := usage.ParseMetricType(name)
		require.True(t, ok, name)
		assert.Equal(t, code, int(mt), name)
		assert.Equal(t, name, mt.String())
	}
}
