/*
Package batch runs the loader over a directory of report workbooks.

PURPOSE:
  The only place a per-file failure is caught. A bad workbook, an unknown
  platform, a database error or a panic while handling one file is
  written to the error log and the run moves on to the next file.

FLOW (row-by-row):
  for each <dir>/*.xlsx in name order:
    open -> year filter -> ledger gate -> load -> archive

FLOW (bulk):
  open every file -> year filter -> one BulkLoader batch -> archive loaded

  Files that fail to open are isolated in both modes. In bulk mode a
  failure of the shared copy or reconciliation step fails every file that
  was part of the batch.

SEE ALSO:
  - usage/loader.go, usage/bulk.go: Load paths
  - archive/: Post-load disposal
*/
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cubl/counter-loader/archive"
	"github.com/cubl/counter-loader/report"
	"github.com/cubl/counter-loader/usage"
)

// FailureLog receives per-file failures.
type FailureLog interface {
	Record(file string, err error, stack string)
	RecordRows(file string, rows []int)
}

// OpenFunc opens a report workbook.
type OpenFunc func(path string) (report.Report, error)

// Runner processes report directories.
type Runner struct {
	loader   *usage.Loader
	bulk     *usage.BulkLoader
	archiver archive.Archiver
	failures FailureLog
	logger   *zap.Logger
	open     OpenFunc
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithBulk switches the runner to the bulk path.
func WithBulk(b *usage.BulkLoader) Option {
	return func(r *Runner) { r.bulk = b }
}

// WithArchiver sets what happens to a file after it loads.
func WithArchiver(a archive.Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

// WithOpener replaces report.Open.
func WithOpener(open OpenFunc) Option {
	return func(r *Runner) { r.open = open }
}

// NewRunner returns a row-by-row runner unless WithBulk is given.
func NewRunner(loader *usage.Loader, failures FailureLog, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		loader:   loader,
		archiver: archive.Nop{},
		failures: failures,
		logger:   logger,
		open:     report.Open,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary is the outcome of one run.
type Summary struct {
	RunID    string
	Files    int
	Loaded   []string
	Skipped  []string
	Filtered []string
	Failed   []string
	Rows     int
	Metrics  usage.UpsertStats
	Elapsed  time.Duration
}

// Err returns usage.ErrBatchFailures when any file failed.
func (s Summary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d reports failed: %w", len(s.Failed), s.Files, usage.ErrBatchFailures)
}

// ReportFiles lists <dir>/*.xlsx in name order.
func ReportFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("report directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("report directory: %s is not a directory", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.xlsx"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// RunDir loads every report in dir. year 0 loads every year; otherwise
// reports covering another year are left untouched. The returned error is
// only for problems that stop the whole run; per-file failures are in the
// Summary (see Summary.Err).
func (r *Runner) RunDir(ctx context.Context, dir string, year int) (Summary, error) {
	start := r.now()
	sum := Summary{RunID: uuid.NewString()}
	log := r.logger.With(zap.String("run_id", sum.RunID), zap.String("dir", dir))

	files, err := ReportFiles(dir)
	if err != nil {
		return sum, err
	}
	sum.Files = len(files)
	log.Info("starting run", zap.Int("files", len(files)), zap.Int("year", year), zap.Bool("bulk", r.bulk != nil))

	if r.bulk != nil {
		r.runBulk(ctx, log, files, year, &sum)
	} else {
		for _, path := range files {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			r.runOne(ctx, log, path, year, &sum)
		}
	}

	sum.Elapsed = r.now().Sub(start)
	log.Info("run finished",
		zap.Int("loaded", len(sum.Loaded)),
		zap.Int("skipped", len(sum.Skipped)),
		zap.Int("filtered", len(sum.Filtered)),
		zap.Int("failed", len(sum.Failed)),
		zap.Int("metrics_inserted", sum.Metrics.Inserted),
		zap.Int("metrics_updated", sum.Metrics.Updated),
		zap.Duration("elapsed", sum.Elapsed))
	return sum, nil
}

func (r *Runner) runOne(ctx context.Context, log *zap.Logger, path string, year int, sum *Summary) {
	name := filepath.Base(path)
	err := guard(func() error {
		rep, err := r.open(path)
		if err != nil {
			return err
		}
		if year != 0 && rep.Period().Year() != year {
			log.Debug("report outside year filter", zap.String("file", name), zap.Int("report_year", rep.Period().Year()))
			sum.Filtered = append(sum.Filtered, name)
			return nil
		}

		res, err := r.loader.Load(ctx, rep)
		if err != nil {
			return err
		}
		if res.Outcome == usage.OutcomeSkipped {
			log.Debug("report already loaded", zap.String("file", name))
			sum.Skipped = append(sum.Skipped, name)
			return nil
		}
		log.Info("processing report", zap.String("file", name), zap.Int("rows", res.Rows),
			zap.Int("titles_created", res.TitlesCreated), zap.Int("metrics", res.Metrics.Inserted+res.Metrics.Updated))
		sum.Loaded = append(sum.Loaded, name)
		sum.Rows += res.Rows
		sum.Metrics = sum.Metrics.Add(res.Metrics)
		r.archive(ctx, log, path)
		return nil
	})
	if err != nil {
		r.fail(log, name, err, sum)
	}
}

func (r *Runner) runBulk(ctx context.Context, log *zap.Logger, files []string, year int, sum *Summary) {
	var srcs []usage.Source
	paths := make(map[string]string)
	for _, path := range files {
		name := filepath.Base(path)
		var rep report.Report
		err := guard(func() error {
			var err error
			rep, err = r.open(path)
			return err
		})
		if err != nil {
			r.fail(log, name, err, sum)
			continue
		}
		if year != 0 && rep.Period().Year() != year {
			sum.Filtered = append(sum.Filtered, name)
			continue
		}
		srcs = append(srcs, rep)
		paths[rep.Filename()] = path
	}

	var res usage.BulkResult
	err := guard(func() error {
		var err error
		res, err = r.bulk.Load(ctx, srcs)
		return err
	})

	failed := make(map[string]bool)
	for _, f := range res.Failures {
		failed[f.Filename] = true
		r.fail(log, f.Filename, f.Err, sum)
	}
	done := make(map[string]bool)
	for _, result := range res.Results {
		done[result.Filename] = true
		switch result.Outcome {
		case usage.OutcomeSkipped:
			log.Debug("report already loaded", zap.String("file", result.Filename))
			sum.Skipped = append(sum.Skipped, result.Filename)
		case usage.OutcomeLoaded:
			log.Info("processing report", zap.String("file", result.Filename), zap.Int("rows", result.Rows))
			sum.Loaded = append(sum.Loaded, result.Filename)
			sum.Rows += result.Rows
		}
	}
	if err != nil {
		// The shared copy or reconcile step failed: every staged file failed with it.
		for _, src := range srcs {
			if !failed[src.Filename()] && !done[src.Filename()] {
				r.fail(log, src.Filename(), err, sum)
			}
		}
		return
	}
	sum.Metrics = sum.Metrics.Add(res.Metrics)

	for _, result := range res.Results {
		if result.Outcome == usage.OutcomeLoaded {
			r.archive(ctx, log, paths[result.Filename])
		}
	}
}

// archive failures are logged but leave the file counted as loaded.
func (r *Runner) archive(ctx context.Context, log *zap.Logger, path string) {
	dst, err := r.archiver.Archive(ctx, path)
	if err != nil {
		log.Warn("archive failed", zap.String("file", filepath.Base(path)), zap.Error(err))
		r.failures.Record(filepath.Base(path), fmt.Errorf("archive: %w", err), "")
		return
	}
	if dst != path {
		log.Debug("report archived", zap.String("file", filepath.Base(path)), zap.String("to", dst))
	}
}

func (r *Runner) fail(log *zap.Logger, name string, err error, sum *Summary) {
	stack := ""
	var p *panicError
	if errors.As(err, &p) {
		stack = p.stack
	}
	log.Error("report failed", zap.String("file", name), zap.Error(err))
	r.failures.Record(name, err, stack)
	sum.Failed = append(sum.Failed, name)
}

// =============================================================================
// RENAME PASS
// =============================================================================

// RenameSummary is the outcome of RenameDir.
type RenameSummary struct {
	Renamed   map[string]string // old name -> new name
	Unchanged []string
	Failed    []string
}

// Err returns usage.ErrBatchFailures when any file could not be renamed.
func (s RenameSummary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d reports not renamed: %w", len(s.Failed), usage.ErrBatchFailures)
}

// RenameDir gives every report in dir its canonical name. Reports with rows
// missing a title, publisher or platform are left alone and their row
// numbers go to the failure log.
func (r *Runner) RenameDir(ctx context.Context, dir string) (RenameSummary, error) {
	sum := RenameSummary{Renamed: make(map[string]string)}
	files, err := ReportFiles(dir)
	if err != nil {
		return sum, err
	}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		name := filepath.Base(path)
		var target string
		err := guard(func() error {
			rep, err := r.open(path)
			if err != nil {
				return err
			}
			if invalid := report.InvalidRows(rep); len(invalid) > 0 {
				r.failures.RecordRows(name, invalid)
				return fmt.Errorf("%d rows missing title, publisher or platform", len(invalid))
			}
			target = report.CanonicalName(rep)
			return nil
		})
		if err != nil {
			r.logger.Error("rename failed", zap.String("file", name), zap.Error(err))
			r.failures.Record(name, err, "")
			sum.Failed = append(sum.Failed, name)
			continue
		}

		if strings.EqualFold(target, name) {
			sum.Unchanged = append(sum.Unchanged, name)
			continue
		}
		dst := filepath.Join(filepath.Dir(path), target)
		if _, err := os.Stat(dst); err == nil {
			err := fmt.Errorf("rename to %s: file exists", target)
			r.logger.Error("rename failed", zap.String("file", name), zap.Error(err))
			r.failures.Record(name, err, "")
			sum.Failed = append(sum.Failed, name)
			continue
		}
		if err := os.Rename(path, dst); err != nil {
			r.failures.Record(name, err, "")
			sum.Failed = append(sum.Failed, name)
			continue
		}
		r.logger.Info("report renamed", zap.String("file", name), zap.String("to", target))
		sum.Renamed[name] = target
	}
	return sum, nil
}

// =============================================================================
// PANIC ISOLATION
// =============================================================================

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// guard runs fn and turns a panic into an error carrying the stack.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: string(debug.Stack())}
		}
	}()
	return fn()
}
