/*
loader.go - Row-by-row load path

PURPOSE:
  Loads one Source: gate on the inventory ledger, canonicalize every data
  row, then for each row resolve the title and upsert its monthly metrics
  inside one transaction, and finally record the ledger entry.

FLOW:
  1. Build the ledger key (platform, period, row count, run date)
  2. Already loaded -> OutcomeSkipped, nothing written
  3. Read all rows; any row error fails the file before any write
  4. Per row: WithTx(resolve title -> upsert each month)
  5. Record ledger entry with load start/end

SEE ALSO:
  - bulk.go: Batch path with identical results
*/
package usage

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result class of one file.
type Outcome string

const (
	OutcomeLoaded  Outcome = "loaded"
	OutcomeSkipped Outcome = "skipped"
)

// Result summarizes one file load.
type Result struct {
	Filename      string
	Outcome       Outcome
	Rows          int
	TitlesCreated int
	TitlesMatched int
	Metrics       UpsertStats
	Entry         LedgerEntry
}

// Option configures the row-by-row and bulk loaders.
type Option func(*settings)

type settings struct {
	now func() time.Time
}

// WithClock sets the clock used for load timing and for rows without a run date.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func newSettings(opts []Option) settings {
	s := settings{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Loader runs the row-by-row path.
type Loader struct {
	store     TxStore
	resolver  *Resolver
	inventory *Inventory
	now       func() time.Time
}

// NewLoader returns a loader over s.
func NewLoader(s TxStore, keys IdentityKeys, matchRunDate bool, opts ...Option) *Loader {
	cfg := newSettings(opts)
	return &Loader{
		store:     s,
		resolver:  NewResolver(keys),
		inventory: NewInventory(s, matchRunDate),
		now:       cfg.now,
	}
}

// Inventory returns the ledger gate used by l.
func (l *Loader) Inventory() *Inventory {
	return l.inventory
}

// Load loads src unless it is already in the ledger.
func (l *Loader) Load(ctx context.Context, src Source) (Result, error) {
	entry := NewLedgerEntry(src)
	res := Result{Filename: src.Filename(), Rows: entry.RowCount, Entry: entry}

	loaded, err := l.inventory.IsLoaded(ctx, entry)
	if err != nil {
		return res, fmt.Errorf("check inventory: %w", err)
	}
	if loaded {
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	rows, err := ReadRows(src)
	if err != nil {
		return res, err
	}

	entry.LoadStart = l.now()
	stamp := Stamp(src, entry.LoadStart)
	year := src.Period().Year()

	for _, row := range rows {
		var (
			created bool
			stats   UpsertStats
		)
		err := l.store.WithTx(ctx, func(s Store) error {
			r, err := l.resolver.Resolve(ctx, s, row, stamp)
			if err != nil {
				return err
			}
			created = r.Created
			stats, err = UpsertRow(ctx, s, r.TitleID, row, year, stamp)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("%s: %w", src.Filename(), err)
		}
		// Counted only once the row's transaction has committed.
		if created {
			res.TitlesCreated++
		} else {
			res.TitlesMatched++
		}
		res.Metrics = res.Metrics.Add(stats)
	}

	entry.LoadEnd = l.now()
	entry.LoadDate = dateOnly(entry.LoadEnd)
	if err := l.inventory.Record(ctx, entry); err != nil {
		return res, fmt.Errorf("record inventory: %w", err)
	}
	res.Entry = entry
	res.Outcome = OutcomeLoaded
	return res, nil
}

// ReadRows canonicalizes every data row of src in order.
func ReadRows(src Source) ([]CanonicalRow, error) {
	var rows []CanonicalRow
	for n := range src.DataRows() {
		row, err := src.Row(n)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", src.Filename(), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
