/*
bulk.go - Bulk Reconciliation Path

PURPOSE:
  Loads a whole batch of reports through staging tables instead of row by
  row. Produces exactly the TitleEntity and MetricFact contents the
  row-by-row path would produce for the same files in the same order.

FLOW:
  1. Gate every report on the ledger; drop already-loaded reports and
     later duplicates of a ledger key within the batch
  2. Canonicalize rows and check platforms; a bad file is dropped alone
  3. Export titles and metrics to tab-delimited staging files, linking
     each metric line to its title line by (source file, source row)
  4. Bulk-copy both files into the staging tables (atomic replace);
     failure aborts the batch with nothing loaded
  5. In one transaction: resolve every staged title in staging order and
     write its id back, propagate ids to staged metrics, upsert every
     staged metric in staging order
  6. After commit, record one ledger entry per loaded report

SEE ALSO:
  - loader.go: Row-by-row path
  - staging/: File codec
*/
package usage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cubl/counter-loader/staging"
)

// BulkStore is a transactional store that can also bulk-copy staging data.
type BulkStore interface {
	TxStore
	BulkCopier
}

// FileFailure is a report dropped from a bulk batch.
type FileFailure struct {
	Filename string
	Err      error
}

// BulkResult summarizes one bulk batch.
type BulkResult struct {
	Results       []Result
	Failures      []FileFailure
	TitlesCreated int
	TitlesMatched int
	Metrics       UpsertStats
	TitleFile     string
	MetricFile    string
}

// BulkLoader runs the bulk path.
type BulkLoader struct {
	store      BulkStore
	keys       IdentityKeys
	inventory  *Inventory
	stagingDir string
	now        func() time.Time
}

// NewBulkLoader returns a bulk loader writing staging files into stagingDir.
func NewBulkLoader(s BulkStore, keys IdentityKeys, matchRunDate bool, stagingDir string, opts ...Option) *BulkLoader {
	cfg := newSettings(opts)
	return &BulkLoader{
		store:      s,
		keys:       keys,
		inventory:  NewInventory(s, matchRunDate),
		stagingDir: stagingDir,
		now:        cfg.now,
	}
}

type stagedReport struct {
	src   Source
	entry LedgerEntry
	rows  []CanonicalRow
	stamp time.Time
}

// Load runs one batch over srcs, in order.
func (b *BulkLoader) Load(ctx context.Context, srcs []Source) (BulkResult, error) {
	var res BulkResult
	start := b.now()

	reports, err := b.prepare(ctx, srcs, start, &res)
	if err != nil {
		return res, err
	}
	if len(reports) == 0 {
		return res, nil
	}

	titleFile, metricFile, err := b.export(reports)
	if err != nil {
		return res, err
	}
	res.TitleFile, res.MetricFile = titleFile, metricFile

	if err := b.copy(ctx, titleFile, metricFile); err != nil {
		return res, err
	}

	byFile := make(map[string]*stagedReport, len(reports))
	for _, r := range reports {
		byFile[r.src.Filename()] = r
	}
	if err := b.reconcile(ctx, byFile, &res); err != nil {
		return res, err
	}

	end := b.now()
	for _, r := range reports {
		e := r.entry
		e.LoadStart = start
		e.LoadEnd = end
		e.LoadDate = dateOnly(end)
		if err := b.inventory.Record(ctx, e); err != nil {
			return res, fmt.Errorf("record inventory for %s: %w", e.Filename, err)
		}
		res.Results = append(res.Results, Result{
			Filename: e.Filename,
			Outcome:  OutcomeLoaded,
			Rows:     e.RowCount,
			Entry:    e,
		})
	}
	return res, nil
}

// prepare applies the ledger gate and validates each report on its own.
func (b *BulkLoader) prepare(ctx context.Context, srcs []Source, start time.Time, res *BulkResult) ([]*stagedReport, error) {
	var reports []*stagedReport
	platforms := make(map[string]bool)

	for _, src := range srcs {
		entry := NewLedgerEntry(src)
		loaded, err := b.inventory.IsLoaded(ctx, entry)
		if err != nil {
			return nil, fmt.Errorf("check inventory for %s: %w", src.Filename(), err)
		}
		for _, r := range reports {
			if b.inventory.SameKey(r.entry, entry) {
				loaded = true
				break
			}
		}
		if loaded {
			res.Results = append(res.Results, Result{Filename: src.Filename(), Outcome: OutcomeSkipped, Rows: entry.RowCount, Entry: entry})
			continue
		}

		rows, err := ReadRows(src)
		if err == nil {
			err = b.checkPlatforms(ctx, rows, platforms)
		}
		if err != nil {
			res.Failures = append(res.Failures, FileFailure{Filename: src.Filename(), Err: err})
			continue
		}
		reports = append(reports, &stagedReport{src: src, entry: entry, rows: rows, stamp: Stamp(src, start)})
	}
	return reports, nil
}

func (b *BulkLoader) checkPlatforms(ctx context.Context, rows []CanonicalRow, known map[string]bool) error {
	for _, row := range rows {
		if known[row.Platform] {
			continue
		}
		_, found, err := b.store.PlatformID(ctx, row.Platform)
		if err != nil {
			return fmt.Errorf("lookup platform %q: %w", row.Platform, err)
		}
		if !found {
			return &UnresolvedPlatformError{Platform: row.Platform, Row: row.SourceRow}
		}
		known[row.Platform] = true
	}
	return nil
}

// export writes the two staging files and returns their paths.
func (b *BulkLoader) export(reports []*stagedReport) (string, string, error) {
	if err := os.MkdirAll(b.stagingDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create staging dir: %w", err)
	}
	titlePath := filepath.Join(b.stagingDir, "title_report_temp.tsv")
	metricPath := filepath.Join(b.stagingDir, "metric_temp.tsv")

	tf, err := os.Create(titlePath)
	if err != nil {
		return "", "", fmt.Errorf("create title staging file: %w", err)
	}
	defer tf.Close()
	mf, err := os.Create(metricPath)
	if err != nil {
		return "", "", fmt.Errorf("create metric staging file: %w", err)
	}
	defer mf.Close()

	tw, mw := staging.NewWriter(tf), staging.NewWriter(mf)
	for _, r := range reports {
		year := r.src.Period().Year()
		for _, row := range r.rows {
			ref := uuid.NewString()
			if err := tw.WriteTitle(StagedTitleFromRow(row, ref)); err != nil {
				return "", "", fmt.Errorf("write title staging: %w", err)
			}
			for _, mc := range row.Counts {
				m := staging.Metric{
					PendingRef:  ref,
					AccessType:  int(row.AccessType),
					MetricType:  int(row.MetricType),
					Period:      time.Date(year, mc.Month, 1, 0, 0, 0, 0, time.UTC).Format(DateLayout),
					PeriodTotal: mc.Count,
					SourceFile:  row.SourceFile,
					SourceRow:   row.SourceRow,
				}
				if err := mw.WriteMetric(m); err != nil {
					return "", "", fmt.Errorf("write metric staging: %w", err)
				}
			}
		}
	}
	if err := errors.Join(tw.Flush(), mw.Flush()); err != nil {
		return "", "", fmt.Errorf("flush staging files: %w", err)
	}
	return titlePath, metricPath, nil
}

func (b *BulkLoader) copy(ctx context.Context, titlePath, metricPath string) error {
	titles, err := readStagingFile(titlePath, staging.ReadTitles)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBulkCopy, err)
	}
	metrics, err := readStagingFile(metricPath, staging.ReadMetrics)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBulkCopy, err)
	}
	if err := b.store.BulkCopy(ctx, titles, metrics); err != nil {
		return fmt.Errorf("%w: %v", ErrBulkCopy, err)
	}
	return nil
}

func readStagingFile[T any](path string, decode func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

// reconcile resolves staged titles and upserts staged metrics in one transaction.
func (b *BulkLoader) reconcile(ctx context.Context, byFile map[string]*stagedReport, res *BulkResult) error {
	resolver := NewResolver(b.keys)
	var created, matched int
	var stats UpsertStats

	err := b.store.WithTx(ctx, func(s Store) error {
		titles, err := s.StagedTitles(ctx)
		if err != nil {
			return fmt.Errorf("read staged titles: %w", err)
		}
		for _, t := range titles {
			r, ok := byFile[t.SourceFile]
			if !ok {
				return fmt.Errorf("staged title from unknown file %q", t.SourceFile)
			}
			resolution, err := resolver.Resolve(ctx, s, RowFromStagedTitle(t, r.src.Generation()), r.stamp)
			if err != nil {
				return fmt.Errorf("%s: %w", t.SourceFile, err)
			}
			if resolution.Created {
				created++
			} else {
				matched++
			}
			if err := s.SetStagedTitleID(ctx, t.StagingID, resolution.TitleID); err != nil {
				return fmt.Errorf("set staged title id: %w", err)
			}
		}

		if _, err := s.PropagateTitleIDs(ctx); err != nil {
			return fmt.Errorf("propagate title ids: %w", err)
		}

		metrics, err := s.StagedMetrics(ctx)
		if err != nil {
			return fmt.Errorf("read staged metrics: %w", err)
		}
		for _, m := range metrics {
			if m.TitleID == 0 {
				return &OrphanMetricError{SourceFile: m.SourceFile, SourceRow: m.SourceRow}
			}
			period, err := time.Parse(DateLayout, m.Period)
			if err != nil {
				return fmt.Errorf("staged metric period %q: %w", m.Period, err)
			}
			stamp := byFile[m.SourceFile].stamp
			fact := MetricFact{
				MetricKey: MetricKey{
					TitleID:    m.TitleID,
					AccessType: AccessType(m.AccessType),
					MetricType: MetricType(m.MetricType),
					Period:     period,
				},
				PeriodTotal: m.PeriodTotal,
				CreatedAt:   stamp,
				UpdatedAt:   stamp,
			}
			inserted, err := UpsertMetric(ctx, s, fact)
			if err != nil {
				return fmt.Errorf("%s row %d: %w", m.SourceFile, m.SourceRow, err)
			}
			if inserted {
				stats.Inserted++
			} else {
				stats.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	res.TitlesCreated += created
	res.TitlesMatched += matched
	res.Metrics = res.Metrics.Add(stats)
	return nil
}

// StagedTitleFromRow converts a canonical row to a title staging line.
func StagedTitleFromRow(row CanonicalRow, pendingRef string) staging.Title {
	return staging.Title{
		TitleType:     string(row.Kind),
		Title:         row.Title,
		Publisher:     row.Publisher,
		PublisherID:   row.PublisherID,
		Platform:      row.Platform,
		DOI:           row.DOI,
		ProprietaryID: row.ProprietaryID,
		ISBN:          row.ISBN,
		PrintISSN:     row.PrintISSN,
		OnlineISSN:    row.OnlineISSN,
		URI:           row.URI,
		YOP:           row.YOP,
		SourceFile:    row.SourceFile,
		SourceRow:     row.SourceRow,
		PendingRef:    pendingRef,
	}
}

// RowFromStagedTitle rebuilds the title part of a canonical row.
func RowFromStagedTitle(t staging.Title, gen Generation) CanonicalRow {
	return CanonicalRow{
		SourceFile:    t.SourceFile,
		SourceRow:     t.SourceRow,
		Generation:    gen,
		Kind:          ReportKind(t.TitleType),
		Title:         t.Title,
		Publisher:     t.Publisher,
		PublisherID:   t.PublisherID,
		Platform:      t.Platform,
		DOI:           t.DOI,
		ProprietaryID: t.ProprietaryID,
		ISBN:          t.ISBN,
		PrintISSN:     t.PrintISSN,
		OnlineISSN:    t.OnlineISSN,
		URI:           t.URI,
		YOP:           t.YOP,
	}
}
