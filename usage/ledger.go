/*
ledger.go - Report source abstraction and the Inventory Ledger gate

PURPOSE:
  Source is what a reader hands to the loaders: header metadata plus a
  lazy sequence of data rows. Inventory wraps the InventoryStore with the
  gate rule: a file whose (platform, begin, end, row count[, run date])
  already appears in the ledger is skipped without touching any table.

ORDERING:
  The ledger entry is written only after all data for the file has been
  committed. A crash mid-file leaves no entry, so the file is retried on
  the next run; the resolver and upsert engine make the retry harmless.

SEE ALSO:
  - loader.go: Row-by-row path
  - bulk.go: Bulk path
*/
package usage

import (
	"context"
	"iter"
	"time"
)

// Source is one opened report.
type Source interface {
	// Filename is the base name of the source file.
	Filename() string
	Generation() Generation
	ReportID() string
	Platform() string
	Period() Period
	// RunDate returns the report's creation date when the format carries one.
	RunDate() (time.Time, bool)
	// DataRows yields data row numbers in sheet order. Each call restarts.
	DataRows() iter.Seq[int]
	// Row returns the canonical record for data row n.
	Row(n int) (CanonicalRow, error)
}

// CountRows returns the number of data rows of src.
func CountRows(src Source) int {
	n := 0
	for range src.DataRows() {
		n++
	}
	return n
}

// NewLedgerEntry builds the ledger key of src. Load timing fields are left zero.
func NewLedgerEntry(src Source) LedgerEntry {
	p := src.Period()
	e := LedgerEntry{
		Filename: src.Filename(),
		Platform: src.Platform(),
		Begin:    p.Begin,
		End:      p.End,
		RowCount: CountRows(src),
	}
	if rd, ok := src.RunDate(); ok {
		e.RunDate = &rd
	}
	return e
}

// Stamp is the timestamp written on rows loaded from src.
func Stamp(src Source, now time.Time) time.Time {
	if rd, ok := src.RunDate(); ok {
		return rd
	}
	return now
}

// =============================================================================
// INVENTORY GATE
// =============================================================================

// Inventory decides whether a report was already loaded and records loads.
type Inventory struct {
	store        InventoryStore
	matchRunDate bool
}

// NewInventory returns a gate over s. When matchRunDate is false, run dates
// are ignored so a re-issued report with the same content is still skipped.
func NewInventory(s InventoryStore, matchRunDate bool) *Inventory {
	return &Inventory{store: s, matchRunDate: matchRunDate}
}

// IsLoaded reports whether e's key is already in the ledger.
func (i *Inventory) IsLoaded(ctx context.Context, e LedgerEntry) (bool, error) {
	return i.store.IsLoaded(ctx, e, i.matchRunDate)
}

// Record appends e to the ledger.
func (i *Inventory) Record(ctx context.Context, e LedgerEntry) error {
	return i.store.RecordLoad(ctx, e)
}

// SameKey reports whether a and b would match each other in the ledger.
func (i *Inventory) SameKey(a, b LedgerEntry) bool {
	if a.Platform != b.Platform || !a.Begin.Equal(b.Begin) || !a.End.Equal(b.End) || a.RowCount != b.RowCount {
		return false
	}
	if !i.matchRunDate {
		return true
	}
	if a.RunDate == nil || b.RunDate == nil {
		return a.RunDate == nil && b.RunDate == nil
	}
	return a.RunDate.Equal(*b.RunDate)
}
