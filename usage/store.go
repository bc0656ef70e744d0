/*
store.go - Persistence interfaces for titles, metrics and the inventory ledger

PURPOSE:
  Defines the boundary between loading logic and the database. The
  resolver, upsert engine, ledger gate and bulk reconciler only talk to
  these interfaces; SQL lives in store/sqlstore, test doubles in
  usage/store.

KEY INTERFACES:
  PlatformStore:  Platform reference lookup (name or alias)
  TitleStore:     Find-by-identity and insert of TitleEntity
  MetricStore:    Find-by-key, insert and total overwrite of MetricFact
  InventoryStore: Ledger gate and ledger append
  StagingStore:   Staging table access for bulk reconciliation
  Store:          All of the above
  TxStore:        Store with atomic units of work
  BulkCopier:     Atomic replace of staging tables from staging files

NOT FOUND:
  Lookups return (value, found, err). A miss is never an error.

SEE ALSO:
  - store/sqlstore: database/sql implementation
  - usage/store/memory.go: In-memory implementation for tests
*/
package usage

import (
	"context"
	"time"

	"github.com/cubl/counter-loader/staging"
)

// PlatformStore resolves platform names against the reference table.
type PlatformStore interface {
	// PlatformID matches name against platform name or alias.
	PlatformID(ctx context.Context, name string) (int64, bool, error)
}

// TitleStore persists deduplicated titles. Titles are never updated.
type TitleStore interface {
	FindTitle(ctx context.Context, lookup TitleLookup) (int64, bool, error)
	InsertTitle(ctx context.Context, t TitleEntity) (int64, error)
}

// MetricStore persists monthly metric facts.
type MetricStore interface {
	FindMetric(ctx context.Context, key MetricKey) (int64, bool, error)
	InsertMetric(ctx context.Context, m MetricFact) (int64, error)
	// UpdateMetricTotal overwrites period_total of an existing fact.
	UpdateMetricTotal(ctx context.Context, id, total int64, updatedAt time.Time) error
}

// InventoryStore is the ledger of loaded files.
type InventoryStore interface {
	// IsLoaded matches platform, begin, end and row count, plus run date when matchRunDate is set.
	IsLoaded(ctx context.Context, e LedgerEntry, matchRunDate bool) (bool, error)
	RecordLoad(ctx context.Context, e LedgerEntry) error
}

// StagingStore reads and annotates the staging tables.
type StagingStore interface {
	StagedTitles(ctx context.Context) ([]staging.Title, error)
	SetStagedTitleID(ctx context.Context, stagingID, titleID int64) error
	// PropagateTitleIDs copies resolved title ids from staged titles to staged
	// metrics sharing (source file, source row). Returns rows updated.
	PropagateTitleIDs(ctx context.Context) (int64, error)
	StagedMetrics(ctx context.Context) ([]staging.Metric, error)
}

// Store is the full persistence surface used during a load.
type Store interface {
	PlatformStore
	TitleStore
	MetricStore
	InventoryStore
	StagingStore
}

// TxStore runs fn atomically. If fn returns an error nothing it wrote is kept.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}

// BulkCopier replaces the staging tables with decoded staging file content,
// atomically. On failure the previous staging content is kept.
type BulkCopier interface {
	BulkCopy(ctx context.Context, titles []staging.Title, metrics []staging.Metric) error
}
