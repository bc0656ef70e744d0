/*
Package sqlstore implements the usage store interfaces on database/sql.

PURPOSE:
  One implementation of every query, shared by the SQLite and PostgreSQL
  backends. A Dialect supplies what differs: placeholder syntax, DDL and
  the bulk copy into the staging tables.

INTERFACES IMPLEMENTED:
  usage.TxStore:    Titles, metrics, ledger, staging (with WithTx)
  usage.BulkCopier: Atomic staging replace

KEY TABLES:
  platform_ref:      Platform names and aliases (maintained by hand)
  title_report:      Deduplicated titles, never updated after insert
  metric:            Monthly facts, UNIQUE(title_report_id, access_type, metric_type, period)
  report_inventory:  One row per loaded source file
  title_report_temp: Title staging, replaced on every bulk batch
  metric_temp:       Metric staging, replaced on every bulk batch

ABSENT VALUES:
  Optional title attributes are stored as '' (never NULL) so identity
  matching is plain equality on every key column.

DATES:
  Dates are TEXT 'YYYY-MM-DD'; timestamps are TEXT RFC3339, as in both
  backends' schemas.

CONCURRENCY:
  Writes are serialized with a mutex. Inside WithTx every call goes
  through the *sql.Tx.

SEE ALSO:
  - store/sqlite: SQLite dialect and constructor
  - store/postgres: PostgreSQL dialect and constructor
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/cubl/counter-loader/staging"
	"github.com/cubl/counter-loader/usage"
)

// Dialect isolates backend differences.
type Dialect interface {
	Name() string
	// Rebind converts ? placeholders to the backend's syntax.
	Rebind(query string) string
	Schema() string
	// CopyStaging empties both staging tables and fills them, inside tx.
	CopyStaging(ctx context.Context, tx *sql.Tx, titles []staging.Title, metrics []staging.Metric) error
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements all storage interfaces on one database.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// New wraps db and migrates the schema.
func New(db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{queries: queries{conn: db, d: d}, db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate %s database: %w", d.Name(), err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(s.d.Schema())
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the backend name.
func (s *Store) Dialect() string {
	return s.d.Name()
}

// =============================================================================
// TRANSACTIONAL STORE (usage.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(usage.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{conn: sqlTx, d: s.d}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// BulkCopy replaces the staging tables in one transaction.
func (s *Store) BulkCopy(ctx context.Context, titles []staging.Title, metrics []staging.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.d.CopyStaging(ctx, sqlTx, titles, metrics); err != nil {
		return err
	}
	return sqlTx.Commit()
}
