package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubl/counter-loader/report"
	"github.com/cubl/counter-loader/store/sqlite"
	"github.com/cubl/counter-loader/store/sqlstore"
	"github.com/cubl/counter-loader/usage"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlstore.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.AddPlatform(context.Background(), "Ebook Central", "ProQuest Ebook Central")
	require.NoError(t, err)
	return store
}

func fixedClock() func() time.Time {
	t := time.Date(2021, time.May, 4, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// trReport builds an in-memory TR_B3 report; each data row is
// title, publisher, isbn, access type, metric type, then Jan..Mar counts.
func trReport(t *testing.T, name, created string, data ...[]string) report.Report {
	t.Helper()
	grid := report.Grid{
		{"Report_Name", "Title Master Report"},
		{"Report_ID", "TR_B3"},
		{"Release", "5"},
		{}, {}, {}, {}, {}, {},
		{"Reporting_Period", "Begin_Date=2020-01-01; End_Date=2020-03-31"},
		{"Created", created},
		{}, {},
		{"Title", "Publisher", "Publisher_ID", "Platform", "DOI", "Proprietary_ID", "ISBN", "Print_ISSN", "Online_ISSN", "URI", "YOP", "Access_Type", "Metric_Type", "Reporting_Period_Total", "Jan-2020", "Feb-2020", "Mar-2020"},
	}
	for _, d := range data {
		grid = append(grid, []string{
			d[0], d[1], "", "Ebook Central", "", "", d[2], "", "", "", "2019", d[3], d[4], "", d[5], d[6], d[7],
		})
	}
	r, err := report.FromSheet(name, grid)
	require.NoError(t, err)
	return r
}

func sampleReports(t *testing.T) []usage.Source {
	a := trReport(t, "a.xlsx", "2020-04-02",
		[]string{"Go in Practice", "Manning", "111", "Controlled", "Total_Item_Requests", "1", "2", "3"},
		[]string{"Go in Practice", "Manning", "111", "Controlled", "Unique_Title_Requests", "1", "1", "1"},
		[]string{"Concurrency in Go", "O'Reilly", "222", "OA_Gold", "Total_Item_Requests", "0.0", "", "4"},
	)
	b := trReport(t, "b.xlsx", "2020-04-09",
		[]string{"Go in Practice", "Manning", "111", "Controlled", "Total_Item_Requests", "5", "6", "7"},
		[]string{"Go in Practice", "???", "111", "Controlled", "Total_Item_Requests", "9", "9", "9"},
	)
	return []usage.Source{a, b}
}

// =============================================================================
// PLATFORMS
// =============================================================================

func TestStore_PlatformAlias(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	byName, found, err := store.PlatformID(ctx, "Ebook Central")
	require.NoError(t, err)
	require.True(t, found)

	byAlias, found, err := store.PlatformID(ctx, "ProQuest Ebook Central")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, byName, byAlias)

	_, found, err = store.PlatformID(ctx, "JSTOR")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_AddPlatformUpdatesAlias(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AddPlatform(ctx, "JSTOR", "")
	require.NoError(t, err)
	second, err := store.AddPlatform(ctx, "JSTOR", "JSTOR Books")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	platforms, err := store.ListPlatforms(ctx)
	require.NoError(t, err)
	require.Len(t, platforms, 2)
	assert.Equal(t, "JSTOR", platforms[1].Name)
	assert.Equal(t, "JSTOR Books", platforms[1].Alias)

	_, err = store.AddPlatform(ctx, "  ", "x")
	assert.Error(t, err)
}

// =============================================================================
// LOAD PATHS
// =============================================================================

func TestStore_RowByRowLoad(t *testing.T) {
	// GIVEN: An empty database with the report's platform
	// WHEN: Two reports are loaded, then the first one again
	// THEN: Later totals overwrite earlier ones and the repeat is skipped
	store := newTestStore(t)
	ctx := context.Background()
	loader := usage.NewLoader(store, usage.DefaultIdentityKeys(), true, usage.WithClock(fixedClock()))

	srcs := sampleReports(t)
	for _, src := range srcs {
		res, err := loader.Load(ctx, src)
		require.NoError(t, err)
		assert.Equal(t, usage.OutcomeLoaded, res.Outcome)
	}
	res, err := loader.Load(ctx, srcs[0])
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeSkipped, res.Outcome)

	titles, err := store.SearchTitles(ctx, sqlstore.TitleFilter{Query: "go in"})
	require.NoError(t, err)
	require.Len(t, titles, 2, "publisher 'Not Defined' is a distinct title")
	assert.Equal(t, "Manning", titles[0].Publisher)
	assert.Equal(t, usage.PublisherNotDefined, titles[1].Publisher)

	facts, err := store.MetricsForTitle(ctx, titles[0].ID)
	require.NoError(t, err)
	require.Len(t, facts, 6)
	assert.Equal(t, usage.MetricTotalItemRequests, facts[0].MetricType)
	assert.Equal(t, int64(5), facts[0].PeriodTotal)
	assert.Equal(t, time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC), facts[0].CreatedAt)
	assert.Equal(t, time.Date(2020, 4, 9, 0, 0, 0, 0, time.UTC), facts[0].UpdatedAt)

	inventory, err := store.ListInventory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, inventory, 2)
	assert.Equal(t, "b.xlsx", inventory[0].Filename)
	assert.Equal(t, 2, inventory[0].RowCount)
	require.NotNil(t, inventory[0].RunDate)
	assert.Equal(t, time.Date(2020, 4, 9, 0, 0, 0, 0, time.UTC), *inventory[0].RunDate)
}

func TestStore_BulkMatchesRowByRow(t *testing.T) {
	ctx := context.Background()

	rowStore := newTestStore(t)
	loader := usage.NewLoader(rowStore, usage.DefaultIdentityKeys(), true, usage.WithClock(fixedClock()))
	for _, src := range sampleReports(t) {
		_, err := loader.Load(ctx, src)
		require.NoError(t, err)
	}

	bulkStore := newTestStore(t)
	bulk := usage.NewBulkLoader(bulkStore, usage.DefaultIdentityKeys(), true, t.TempDir(), usage.WithClock(fixedClock()))
	res, err := bulk.Load(ctx, sampleReports(t))
	require.NoError(t, err)
	require.Empty(t, res.Failures)

	rowTitles, err := rowStore.SearchTitles(ctx, sqlstore.TitleFilter{})
	require.NoError(t, err)
	bulkTitles, err := bulkStore.SearchTitles(ctx, sqlstore.TitleFilter{})
	require.NoError(t, err)
	assert.Equal(t, rowTitles, bulkTitles)

	for _, title := range rowTitles {
		want, err := rowStore.MetricsForTitle(ctx, title.ID)
		require.NoError(t, err)
		got, err := bulkStore.MetricsForTitle(ctx, title.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got, title.Title)
	}

	staged, err := bulkStore.StagedMetrics(ctx)
	require.NoError(t, err)
	for _, m := range staged {
		assert.NotZero(t, m.TitleID, "staged metric %s row %d has no title", m.SourceFile, m.SourceRow)
	}
}

func TestStore_UnknownPlatformWritesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	grid := report.Grid{
		{"Report_Name"}, {"Report_ID", "TR_B3"},
		{}, {}, {}, {}, {}, {}, {},
		{"Reporting_Period", "Begin_Date=2020-01-01; End_Date=2020-01-31"},
		{"Created", "2020-02-01"},
		{}, {},
		{"Title", "Publisher", "Publisher_ID", "Platform", "DOI", "Proprietary_ID", "ISBN", "Print_ISSN", "Online_ISSN", "URI", "YOP", "Access_Type", "Metric_Type", "Reporting_Period_Total", "Jan-2020"},
		{"Go", "Manning", "", "JSTOR", "", "", "1", "", "", "", "2019", "Controlled", "Total_Item_Requests", "1", "1"},
	}
	src, err := report.FromSheet("jstor.xlsx", grid)
	require.NoError(t, err)

	_, err = usage.NewLoader(store, usage.DefaultIdentityKeys(), true).Load(ctx, src)

	assert.ErrorIs(t, err, usage.ErrUnresolvedPlatform)
	titles, err := store.SearchTitles(ctx, sqlstore.TitleFilter{})
	require.NoError(t, err)
	assert.Empty(t, titles)
	inventory, err := store.ListInventory(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, inventory)
}

// =============================================================================
// TRANSACTIONS AND QUERIES
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	platformID, _, err := store.PlatformID(ctx, "Ebook Central")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, func(s usage.Store) error {
		_, err := s.InsertTitle(ctx, usage.TitleEntity{
			Kind: usage.KindBook, Title: "Go", PlatformID: platformID,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		})
		require.NoError(t, err)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	titles, err := store.SearchTitles(ctx, sqlstore.TitleFilter{})
	require.NoError(t, err)
	assert.Empty(t, titles)
}

func TestStore_GetTitleNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetTitle(context.Background(), 42)

	assert.True(t, usage.IsNotFound(err))
}

func TestStore_UpdateMissingMetric(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateMetricTotal(context.Background(), 99, 1, time.Now())

	assert.ErrorIs(t, err, usage.ErrNotFound)
}

func TestStore_TitleUsageSumsPublishers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	loader := usage.NewLoader(store, usage.DefaultIdentityKeys(), true)
	for _, src := range sampleReports(t) {
		_, err := loader.Load(ctx, src)
		require.NoError(t, err)
	}

	rows, err := store.TitleUsage(ctx, sqlstore.UsageFilter{
		Title:      "Go in Practice",
		Year:       2020,
		MetricType: usage.MetricTotalItemRequests,
	})

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2020-01-01", rows[0].Period)
	assert.Equal(t, int64(5+9), rows[0].Total)
	assert.Equal(t, 2, rows[0].Publishers)
}
