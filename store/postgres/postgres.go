/*
Package postgres provides the PostgreSQL backend of the usage stores.

PURPOSE:
  Opens a PostgreSQL pool with lib/pq and returns a sqlstore.Store
  configured with the PostgreSQL dialect. The schema is auto-migrated on
  Open().

BULK COPY:
  Staging tables are truncated and refilled with COPY FROM STDIN
  (pq.CopyIn) inside the bulk-copy transaction; TRUNCATE is
  transactional in PostgreSQL, so a failed copy keeps the old content.

SEE ALSO:
  - store/sqlstore: Queries
  - store/sqlite: SQLite backend
*/
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/cubl/counter-loader/staging"
	"github.com/cubl/counter-loader/store/sqlstore"
)

// Open connects with dsn, checks the connection and migrates the schema.
func Open(ctx context.Context, dsn string, maxConns int) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := sqlstore.New(db, Dialect{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the PostgreSQL sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

// Rebind rewrites ? placeholders as $1, $2, ...
func (Dialect) Rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (Dialect) Schema() string {
	return `
	CREATE TABLE IF NOT EXISTS platform_ref (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		alias TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS title_report (
		id BIGSERIAL PRIMARY KEY,
		title_type TEXT NOT NULL,
		title TEXT NOT NULL,
		publisher TEXT NOT NULL DEFAULT '',
		publisher_id TEXT NOT NULL DEFAULT '',
		platform_id BIGINT NOT NULL REFERENCES platform_ref(id),
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

	CREATE INDEX IF NOT EXISTS idx_title_report_identity
		ON title_report(title, publisher, platform_id);

	CREATE TABLE IF NOT EXISTS metric (
		id BIGSERIAL PRIMARY KEY,
		title_report_id BIGINT NOT NULL REFERENCES title_report(id),
		access_type INTEGER NOT NULL,
		metric_type INTEGER NOT NULL,
		period TEXT NOT NULL,
		period_total BIGINT NOT NULL DEFAULT 0,
		create_date TEXT NOT NULL,
		update_date TEXT NOT NULL,
		UNIQUE(title_report_id, access_type, metric_type, period)
	);

	CREATE INDEX IF NOT EXISTS idx_metric_period
		ON metric(period, metric_type);

	CREATE TABLE IF NOT EXISTS report_inventory (
		id BIGSERIAL PRIMARY KEY,
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

	CREATE TABLE IF NOT EXISTS title_report_temp (
		id BIGSERIAL PRIMARY KEY,
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
		title_report_id BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_title_report_temp_origin
		ON title_report_temp(excel_name, row_num);

	CREATE TABLE IF NOT EXISTS metric_temp (
		id BIGSERIAL PRIMARY KEY,
		pending_ref TEXT NOT NULL,
		access_type INTEGER NOT NULL,
		metric_type INTEGER NOT NULL,
		period TEXT NOT NULL,
		period_total BIGINT NOT NULL,
		excel_name TEXT NOT NULL,
		row_num INTEGER NOT NULL,
		title_report_id BIGINT
	);
	`
}

// CopyStaging truncates both staging tables and streams the new rows with COPY.
func (Dialect) CopyStaging(ctx context.Context, tx *sql.Tx, titles []staging.Title, metrics []staging.Metric) error {
	if _, err := tx.ExecContext(ctx, "TRUNCATE title_report_temp, metric_temp RESTART IDENTITY"); err != nil {
		return fmt.Errorf("failed to truncate staging tables: %w", err)
	}

	titleRows := make([][]any, len(titles))
	for i, t := range titles {
		titleRows[i] = t.Values()
	}
	if err := copyIn(ctx, tx, "title_report_temp", staging.TitleColumns[1:], titleRows); err != nil {
		return err
	}

	metricRows := make([][]any, len(metrics))
	for i, m := range metrics {
		metricRows[i] = m.Values()
	}
	return copyIn(ctx, tx, "metric_temp", staging.MetricColumns[1:], metricRows)
}

func copyIn(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return fmt.Errorf("failed to prepare copy into %s: %w", table, err)
	}
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return fmt.Errorf("failed to copy into %s: %w", table, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy into %s: %w", table, err)
	}
	return stmt.Close()
}
