package usage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubl/counter-loader/usage"
	"github.com/cubl/counter-loader/usage/store"
)

func TestLoader_LoadsTitlesAndMetrics(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true, usage.WithClock(fixedClock()))
	runDate := time.Date(2020, time.April, 2, 0, 0, 0, 0, time.UTC)

	src := newSource("tr-b3.xlsx", runDate,
		bookRow("Go in Practice", "111", "1", "2", "3"),
		bookRow("Go in Practice", "222", "4", "0.0", ""),
	)

	res, err := loader.Load(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeLoaded, res.Outcome)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 2, res.TitlesCreated, "different ISBNs are different editions")
	assert.Equal(t, usage.UpsertStats{Inserted: 6}, res.Metrics)

	titles := st.Titles()
	require.Len(t, titles, 2)
	assert.Equal(t, runDate, titles[0].CreatedAt, "run date stamps new titles")

	metrics := st.Metrics()
	require.Len(t, metrics, 6, "zero months are still written")
	assert.Equal(t, int64(0), metrics[4].PeriodTotal)
	assert.Equal(t, time.Date(2020, time.February, 1, 0, 0, 0, 0, time.UTC), metrics[4].Period)

	ledger := st.Ledger()
	require.Len(t, ledger, 1)
	assert.Equal(t, "Ebook Central", ledger[0].Platform)
	assert.Equal(t, 2, ledger[0].RowCount)
	assert.Equal(t, fixedClock()(), ledger[0].LoadStart)
}

func TestLoader_SecondLoadIsSkipped(t *testing.T) {
	// GIVEN: A report that has been loaded
	// WHEN: The same report is loaded again
	// THEN: It is skipped and nothing changes
	ctx := context.Background()
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true)
	src := newSource("a.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC), bookRow("T", "1", "5", "5", "5"))

	_, err := loader.Load(ctx, src)
	require.NoError(t, err)

	res, err := loader.Load(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeSkipped, res.Outcome)
	assert.Len(t, st.Metrics(), 3)
	assert.Len(t, st.Ledger(), 1)
}

func TestLoader_RunDateMatching(t *testing.T) {
	ctx := context.Background()
	first := newSource("a.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC), bookRow("T", "1", "5", "5", "5"))
	reissued := newSource("b.xlsx", time.Date(2020, 5, 9, 0, 0, 0, 0, time.UTC), bookRow("T", "1", "6", "6", "6"))

	// Run date is part of the key: the re-issued report loads and overwrites totals.
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true)
	_, err := loader.Load(ctx, first)
	require.NoError(t, err)
	res, err := loader.Load(ctx, reissued)
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeLoaded, res.Outcome)
	assert.Equal(t, usage.UpsertStats{Updated: 3}, res.Metrics)
	assert.Equal(t, int64(6), st.Metrics()[0].PeriodTotal, "last write wins")
	assert.Len(t, st.Titles(), 1)

	// Run date ignored: the re-issued report is a duplicate.
	st = newMemoryStore()
	loader = usage.NewLoader(st, usage.DefaultIdentityKeys(), false)
	_, err = loader.Load(ctx, first)
	require.NoError(t, err)
	res, err = loader.Load(ctx, reissued)
	require.NoError(t, err)
	assert.Equal(t, usage.OutcomeSkipped, res.Outcome)
}

func TestLoader_TitleMatchedAcrossReports(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true)

	a := newSource("a.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC), bookRow("Shared Title", "9", "1", "1", "1"))
	b := newSource("b.xlsx", time.Date(2020, 4, 3, 0, 0, 0, 0, time.UTC), bookRow("Shared Title", "9", "2", "2", "2"), bookRow("Other", "8"))
	b.raws[0].MetricType = "Unique_Title_Requests"

	_, err := loader.Load(ctx, a)
	require.NoError(t, err)
	res, err := loader.Load(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TitlesMatched)
	assert.Equal(t, 1, res.TitlesCreated)
	titles := st.Titles()
	require.Len(t, titles, 2)
	assert.Equal(t, time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC), titles[0].CreatedAt, "existing title untouched")
	assert.Len(t, st.Metrics(), 9)
}

func TestLoader_UnresolvedPlatformFailsFile(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true)

	src := newSource("x.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC), bookRow("T", "1", "1"))
	src.platform = "Unknown Platform"

	_, err := loader.Load(ctx, src)
	var perr *usage.UnresolvedPlatformError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Unknown Platform", perr.Platform)
	assert.Empty(t, st.Titles())
	assert.Empty(t, st.Ledger(), "failed files are not marked loaded")
}

func TestLoader_MalformedRowWritesNothing(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true)

	src := newSource("bad.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC),
		bookRow("Good", "1", "1", "1", "1"),
		bookRow("Bad", "2", "1", "n/a", "1"),
	)

	_, err := loader.Load(ctx, src)
	assert.ErrorIs(t, err, usage.ErrMalformedCount)
	assert.Empty(t, st.Titles())
	assert.Empty(t, st.Metrics())
	assert.Empty(t, st.Ledger())
}

func TestLoader_NoRunDateUsesClock(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true, usage.WithClock(fixedClock()))

	src := newSource("jr1.xlsx", time.Time{}, usage.RawRow{Title: "Journal A", Publisher: "P", Counts: []string{"1", "2", "3"}})
	src.gen = usage.GenerationR4
	src.runDate = nil

	_, err := loader.Load(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, fixedClock()(), st.Titles()[0].CreatedAt)
	assert.Nil(t, st.Ledger()[0].RunDate)
	assert.Equal(t, usage.MetricTotalItemRequests, st.Metrics()[0].MetricType)
}

var errInsertFailed = errors.New("insert failed")

// flakyStore fails every InsertMetric after the first okInserts.
type flakyStore struct {
	*store.Memory
	okInserts int
	inserts   int
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(usage.Store) error) error {
	return f.Memory.WithTx(ctx, func(s usage.Store) error {
		return fn(&flakyTx{Store: s, parent: f})
	})
}

type flakyTx struct {
	usage.Store
	parent *flakyStore
}

func (tx *flakyTx) InsertMetric(ctx context.Context, m usage.MetricFact) (int64, error) {
	tx.parent.inserts++
	if tx.parent.inserts > tx.parent.okInserts {
		return 0, errInsertFailed
	}
	return tx.Store.InsertMetric(ctx, m)
}

func TestLoader_RolledBackRowIsNotCounted(t *testing.T) {
	// GIVEN: A store that fails the second row's second metric insert
	// WHEN: The file is loaded
	// THEN: The result counts only the committed first row
	ctx := context.Background()
	st := &flakyStore{Memory: newMemoryStore(), okInserts: 4}
	loader := usage.NewLoader(st, usage.DefaultIdentityKeys(), true)

	src := newSource("x.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC),
		bookRow("First", "111", "1", "2", "3"),
		bookRow("Second", "222", "4", "5", "6"),
	)

	res, err := loader.Load(ctx, src)
	require.ErrorIs(t, err, errInsertFailed)
	assert.Equal(t, 1, res.TitlesCreated)
	assert.Equal(t, 0, res.TitlesMatched)
	assert.Equal(t, usage.UpsertStats{Inserted: 3}, res.Metrics)

	assert.Len(t, st.Titles(), 1, "second row rolled back")
	assert.Len(t, st.Metrics(), 3)
	assert.Empty(t, st.Ledger())
}
