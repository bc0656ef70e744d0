/*
Package sqlite provides the SQLite backend of the usage stores.

PURPOSE:
  Opens a SQLite database with mattn/go-sqlite3 and returns a
  sqlstore.Store configured with the SQLite dialect. The schema is
  auto-migrated on New().

BULK COPY:
  SQLite has no COPY statement. The staging tables are emptied and refilled
  with one prepared INSERT per line, inside the bulk-copy transaction, so
  a failure leaves the previous staging content in place.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers (the query API) don't block the loader
  - Single writer at a time
  - Better crash recovery

  The pool is limited to one connection so ":memory:" databases are
  shared by every statement.

USAGE:
  store, err := sqlite.New("./data/counter.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlstore: Queries
  - store/postgres: PostgreSQL backend
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cubl/counter-loader/staging"
	"github.com/cubl/counter-loader/store/sqlstore"
)

// New opens the database at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store, err := sqlstore.New(db, Dialect{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

// Rebind is the identity: SQLite understands ? placeholders.
func (Dialect) Rebind(query string) string { return query }

func (Dialect) Schema() string {
	return `
	-- Platform reference (maintained by hand, never by the loader)
	CREATE TABLE IF NOT EXISTS platform_ref (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		alias TEXT NOT NULL DEFAULT ''
	);

	-- Deduplicated titles; rows are never updated
	CREATE TABLE IF NOT EXISTS title_report (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title_type TEXT NOT NULL,
		title TEXT NOT NULL,
		publisher TEXT NOT NULL DEFAULT '',
		publisher_id TEXT NOT NULL DEFAULT '',
		platform_id INTEGER NOT NULL REFERENCES platform_ref(id),
		doi TEXT NOT NULL DEFAULT '',
		proprietary_id TEXT NOT NULL DEFAULT '',
		isbn TEXT NOT NULL DEFAULT '',
		print_issn TEXT NOT NULL DEFAULT '',
		online_issn TEXT NOT NULL DEFAULT '',
		uri TEXT NOT NULL DEFAULT '',
		yop TEXT NOT NULL DEFAULT '',
		create_date TEXT NOT NULL,
		update_date TEXT NOT NULL
	);

	-- Identity lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_title_report_identity
		ON title_report(title, publisher, platform_id);

	-- Monthly facts; one row per (title, access type, metric type, month)
	CREATE TABLE IF NOT EXISTS metric (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title_report_id INTEGER NOT NULL REFERENCES title_report(id),
		access_type INTEGER NOT NULL,
		metric_type INTEGER NOT NULL,
		period TEXT NOT NULL,
		period_total INTEGER NOT NULL DEFAULT 0,
		create_date TEXT NOT NULL,
		update_date TEXT NOT NULL,
		UNIQUE(title_report_id, access_type, metric_type, period)
	);

	CREATE INDEX IF NOT EXISTS idx_metric_period
		ON metric(period, metric_type);

	-- Inventory ledger of loaded source files
	CREATE TABLE IF NOT EXISTS report_inventory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		excel_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		run_date TEXT,
		begin_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		row_cnt INTEGER NOT NULL,
		load_start TEXT NOT NULL,
		load_end TEXT NOT NULL,
		load_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_report_inventory_key
		ON report_inventory(platform, begin_date, end_date, row_cnt);

	-- Staging for the bulk path
	CREATE TABLE IF NOT EXISTS title_report_temp (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title_type TEXT NOT NULL,
		title TEXT NOT NULL,
		publisher TEXT NOT NULL,
		publisher_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		doi TEXT NOT NULL,
		proprietary_id TEXT NOT NULL,
		isbn TEXT NOT NULL,
		print_issn TEXT NOT NULL,
		online_issn TEXT NOT NULL,
		uri TEXT NOT NULL,
		yop TEXT NOT NULL,
		excel_name TEXT NOT NULL,
		row_num INTEGER NOT NULL,
		pending_ref TEXT NOT NULL,
		title_report_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_title_report_temp_origin
		ON title_report_temp(excel_name, row_num);

	CREATE TABLE IF NOT EXISTS metric_temp (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pending_ref TEXT NOT NULL,
		access_type INTEGER NOT NULL,
		metric_type INTEGER NOT NULL,
		period TEXT NOT NULL,
		period_total INTEGER NOT NULL,
		excel_name TEXT NOT NULL,
		row_num INTEGER NOT NULL,
		title_report_id INTEGER
	);
	`
}

// CopyStaging empties and refills both staging tables within tx.
func (Dialect) CopyStaging(ctx context.Context, tx *sql.Tx, titles []staging.Title, metrics []staging.Metric) error {
	for _, table := range []string{"metric_temp", "title_report_temp"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	titleStmt, err := tx.PrepareContext(ctx, insertStatement("title_report_temp", staging.TitleColumns[1:]))
	if err != nil {
		return fmt.Errorf("failed to prepare title staging insert: %w", err)
	}
	defer titleStmt.Close()
	for _, t := range titles {
		if _, err := titleStmt.ExecContext(ctx, t.Values()...); err != nil {
			return fmt.Errorf("failed to stage title %s:%d: %w", t.SourceFile, t.SourceRow, err)
		}
	}

	metricStmt, err := tx.PrepareContext(ctx, insertStatement("metric_temp", staging.MetricColumns[1:]))
	if err != nil {
		return fmt.Errorf("failed to prepare metric staging insert: %w", err)
	}
	defer metricStmt.Close()
	for _, m := range metrics {
		if _, err := metricStmt.ExecContext(ctx, m.Values()...); err != nil {
			return fmt.Errorf("failed to stage metric %s:%d: %w", m.SourceFile, m.SourceRow, err)
		}
	}
	return nil
}

func insertStatement(table string, columns []string) string {
	q := "INSERT INTO " + table + " ("
	v := ") VALUES ("
	for i, c := range columns {
		if i > 0 {
			q += ", "
			v += ", "
		}
		q += c
		v += "?"
	}
	return q + v + ")"
}
