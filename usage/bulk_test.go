package usage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubl/counter-loader/staging"
	"github.com/cubl/counter-loader/usage"
)

func batchSources() []usage.Source {
	a := newSource("a.xlsx", time.Date(2020, 4, 2, 0, 0, 0, 0, time.UTC),
		bookRow("Go in Practice", "111", "1", "2", "3"),
		bookRow("Go in Practice", "222", "4", "5", "6"),
	)
	b := newSource("b.xlsx", time.Date(2020, 4, 9, 0, 0, 0, 0, time.UTC),
		bookRow("Go in Practice", "111", "7", "8", "9"),
		bookRow("Concurrency in Go", "333", "0.0", "", "1"),
	)
	b.raws = append(b.raws, bookRow("Go in Practice", "111", "1"))
	b.raws[2].AccessType = "OA_Gold"
	return []usage.Source{a, b}
}

func TestBulkLoader_MatchesRowByRow(t *testing.T) {
	// GIVEN: The same batch of reports
	// WHEN: Loaded through the row-by-row path and the bulk path
	// THEN: Titles and metric facts are identical
	ctx := context.Background()

	rowStore := newMemoryStore()
	loader := usage.NewLoader(rowStore, usage.DefaultIdentityKeys(), true, usage.WithClock(fixedClock()))
	for _, src := range batchSources() {
		_, err := loader.Load(ctx, src)
		require.NoError(t, err)
	}

	bulkStore := newMemoryStore()
	bulk := usage.NewBulkLoader(bulkStore, usage.DefaultIdentityKeys(), true, t.TempDir(), usage.WithClock(fixedClock()))
	res, err := bulk.Load(ctx, batchSources())
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Results, 2)

	assert.Equal(t, rowStore.Titles(), bulkStore.Titles())
	assert.Equal(t, rowStore.Metrics(), bulkStore.Metrics())
	assert.Len(t, bulkStore.Ledger(), 2)
	assert.Equal(t, 3, res.TitlesCreated)
	assert.Equal(t, 2, res.TitlesMatched)
}

func TestBulkLoader_MatchesRowByRowWithLineBreaks(t *testing.T) {
	// GIVEN: A title cell holding a CRLF line break
	// WHEN: Loaded through each path, then reloaded through the other
	// THEN: Both paths store the same title and the second load matches it
	ctx := context.Background()
	runDate := time.Date(2020, time.April, 2, 0, 0, 0, 0, time.UTC)
	first := func() usage.Source {
		return newSource("a.xlsx", runDate, bookRow("Line one\r\nLine two", "111", "1", "2", "3"))
	}
	second := func() usage.Source {
		return newSource("b.xlsx", runDate.AddDate(0, 0, 7),
			bookRow("Line one\r\nLine two", "111", "4", "5", "6"),
			bookRow("Other", "222", "1", "1", "1"),
		)
	}

	rowStore := newMemoryStore()
	loader := usage.NewLoader(rowStore, usage.DefaultIdentityKeys(), true, usage.WithClock(fixedClock()))
	_, err := loader.Load(ctx, first())
	require.NoError(t, err)

	bulkStore := newMemoryStore()
	bulk := usage.NewBulkLoader(bulkStore, usage.DefaultIdentityKeys(), true, t.TempDir(), usage.WithClock(fixedClock()))
	_, err = bulk.Load(ctx, []usage.Source{first()})
	require.NoError(t, err)

	assert.Equal(t, rowStore.Titles(), bulkStore.Titles())
	assert.Equal(t, "Line one\nLine two", bulkStore.Titles()[0].Title)

	mixed := usage.NewBulkLoader(rowStore, usage.DefaultIdentityKeys(), true, t.TempDir(), usage.WithClock(fixedClock()))
	res, err := mixed.Load(ctx, []usage.Source{second()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TitlesMatched, "bulk load finds the row-loaded title")
	assert.Len(t, rowStore.Titles(), 2)
}

func TestBulkLoader_WritesStagingFiles(t *testing.T) {
	ctx := context.Background()
	bulk := usage.NewBulkLoader(newMemoryStore(), usage.DefaultIdentityKeys(), true, t.TempDir())

	res, err := bulk.Load(ctx, batchSources()[:1])
	require.NoError(t, err)

	tf, err := os.Open(res.TitleFile)
	require.NoError(t, err)
	defer tf.Close()
	titles, err := staging.ReadTitles(tf)
	require.NoError(t, err)
	require.Len(t, titles, 2)
	assert.Equal(t, "B", titles[0].TitleType)
	assert.Equal(t, "a.xlsx", titles[0].SourceFile)
	assert.Equal(t, 15, titles[0].SourceRow)
	assert.NotEmpty(t, titles[0].PendingRef)

	mf, err := os.Open(res.MetricFile)
	require.NoError(t, err)
	defer mf.Close()
	metrics, err := staging.ReadMetrics(mf)
	require.NoError(t, err)
	require.Len(t, metrics, 6)
	assert.Equal(t, titles[1].PendingRef, metrics[3].PendingRef)
	assert.Equal(t, "2020-01-01", metrics[3].Period)
	assert.Equal(t, int64(4), metrics[3].PeriodTotal)
}

func TestBulkLoader_SkipsLoadedAndDuplicateReports(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	srcs := batchSources()

	_, err := usage.NewLoader(st, usage.DefaultIdentityKeys(), true).Load(ctx, srcs[0])
	require.NoError(t, err)

	bulk := usage.NewBulkLoader(st, usage.DefaultIdentityKeys(), true, t.TempDir())
	res, err := bulk.Load(ctx, []usage.Source{srcs[0], srcs[1], srcs[1]})
	require.NoError(t, err)

	var outcomes []usage.Outcome
	for _, r := range res.Results {
		outcomes = append(outcomes, r.Outcome)
	}
	assert.ElementsMatch(t, []usage.Outcome{usage.OutcomeSkipped, usage.OutcomeSkipped, usage.OutcomeLoaded}, outcomes)
	assert.Len(t, st.Ledger(), 2)
}

func TestBulkLoader_IsolatesBadFiles(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore()
	srcs := batchSources()
	bad := newSource("bad.xlsx", time.Date(2020, 4, 20, 0, 0, 0, 0, time.UTC), bookRow("T", "1"))
	bad.platform = "Nowhere"

	bulk := usage.NewBulkLoader(st, usage.DefaultIdentityKeys(), true, t.TempDir())
	res, err := bulk.Load(ctx, []usage.Source{srcs[0], bad, srcs[1]})
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "bad.xlsx", res.Failures[0].Filename)
	assert.ErrorIs(t, res.Failures[0].Err, usage.ErrUnresolvedPlatform)
	assert.Len(t, res.Results, 2)
	assert.Len(t, st.Ledger(), 2)
}

func TestBulkLoader_EmptyBatch(t *testing.T) {
	bulk := usage.NewBulkLoader(newMemoryStore(), usage.DefaultIdentityKeys(), true, t.TempDir())
	res, err := bulk.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Empty(t, res.TitleFile)
}
