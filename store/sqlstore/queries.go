package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cubl/counter-loader/staging"
	"github.com/cubl/counter-loader/usage"
)

// queries runs every usage.Store operation on one connection or transaction.
type queries struct {
	conn dbtx
	d    Dialect
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.conn.ExecContext(ctx, q.d.Rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.conn.QueryContext(ctx, q.d.Rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.conn.QueryRowContext(ctx, q.d.Rebind(query), args...)
}

// lookupID scans a single id; sql.ErrNoRows is reported as not found.
func (q *queries) lookupID(ctx context.Context, query string, args ...any) (int64, bool, error) {
	var id int64
	err := q.queryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// =============================================================================
// PLATFORMS (usage.PlatformStore)
// =============================================================================

// PlatformID matches name against platform name, then alias.
func (q *queries) PlatformID(ctx context.Context, name string) (int64, bool, error) {
	return q.lookupID(ctx, `
		SELECT id FROM platform_ref
		WHERE name = ? OR (alias <> '' AND alias = ?)
		ORDER BY CASE WHEN name = ? THEN 0 ELSE 1 END, id
		LIMIT 1`, name, name, name)
}

// =============================================================================
// TITLES (usage.TitleStore)
// =============================================================================

func (q *queries) FindTitle(ctx context.Context, lookup usage.TitleLookup) (int64, bool, error) {
	if len(lookup.Key) == 0 {
		return 0, false, fmt.Errorf("empty identity key")
	}
	conds := make([]string, len(lookup.Key))
	args := make([]any, len(lookup.Key))
	for i, f := range lookup.Key {
		conds[i] = f.Column() + " = ?"
		args[i] = lookup.Candidate.Value(f)
	}
	query := "SELECT id FROM title_report WHERE " + strings.Join(conds, " AND ") + " ORDER BY id LIMIT 1"
	id, found, err := q.lookupID(ctx, query, args...)
	if err != nil {
		return 0, false, fmt.Errorf("failed to find title: %w", err)
	}
	return id, found, nil
}

func (q *queries) InsertTitle(ctx context.Context, t usage.TitleEntity) (int64, error) {
	var id int64
	err := q.queryRow(ctx, `
		INSERT INTO title_report
		(title_type, title, publisher, publisher_id, platform_id, doi, proprietary_id,
		 isbn, print_issn, online_issn, uri, yop, create_date, update_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		string(t.Kind), t.Title, t.Publisher, t.PublisherID, t.PlatformID, t.DOI, t.ProprietaryID,
		t.ISBN, t.PrintISSN, t.OnlineISSN, t.URI, t.YOP,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert title: %w", err)
	}
	return id, nil
}

// =============================================================================
// METRICS (usage.MetricStore)
// =============================================================================

func (q *queries) FindMetric(ctx context.Context, key usage.MetricKey) (int64, bool, error) {
	id, found, err := q.lookupID(ctx, `
		SELECT id FROM metric
		WHERE title_report_id = ? AND access_type = ? AND metric_type = ? AND period = ?`,
		key.TitleID, int(key.AccessType), int(key.MetricType), key.Period.Format(usage.DateLayout))
	if err != nil {
		return 0, false, fmt.Errorf("failed to find metric: %w", err)
	}
	return id, found, nil
}

func (q *queries) InsertMetric(ctx context.Context, m usage.MetricFact) (int64, error) {
	var id int64
	err := q.queryRow(ctx, `
		INSERT INTO metric
		(title_report_id, access_type, metric_type, period, period_total, create_date, update_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		m.TitleID, int(m.AccessType), int(m.MetricType), m.Period.Format(usage.DateLayout),
		m.PeriodTotal, formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert metric: %w", err)
	}
	return id, nil
}

func (q *queries) UpdateMetricTotal(ctx context.Context, id, total int64, updatedAt time.Time) error {
	res, err := q.exec(ctx, `UPDATE metric SET period_total = ?, update_date = ? WHERE id = ?`,
		total, formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("failed to update metric: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("metric %d: %w", id, usage.ErrNotFound)
	}
	return nil
}

// =============================================================================
// INVENTORY LEDGER (usage.InventoryStore)
// =============================================================================

func (q *queries) IsLoaded(ctx context.Context, e usage.LedgerEntry, matchRunDate bool) (bool, error) {
	query := `
		SELECT COUNT(*) FROM report_inventory
		WHERE platform = ? AND begin_date = ? AND end_date = ? AND row_cnt = ?`
	args := []any{e.Platform, e.Begin.Format(usage.DateLayout), e.End.Format(usage.DateLayout), e.RowCount}
	if matchRunDate {
		if e.RunDate == nil {
			query += " AND run_date IS NULL"
		} else {
			query += " AND run_date = ?"
			args = append(args, formatTime(*e.RunDate))
		}
	}

	var count int
	if err := q.queryRow(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check inventory: %w", err)
	}
	return count > 0, nil
}

func (q *queries) RecordLoad(ctx context.Context, e usage.LedgerEntry) error {
	var runDate sql.NullString
	if e.RunDate != nil {
		runDate = sql.NullString{String: formatTime(*e.RunDate), Valid: true}
	}
	_, err := q.exec(ctx, `
		INSERT INTO report_inventory
		(excel_name, platform, run_date, begin_date, end_date, row_cnt, load_start, load_end, load_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Filename, e.Platform, runDate,
		e.Begin.Format(usage.DateLayout), e.End.Format(usage.DateLayout), e.RowCount,
		formatTime(e.LoadStart), formatTime(e.LoadEnd), e.LoadDate.Format(usage.DateLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record load: %w", err)
	}
	return nil
}

// =============================================================================
// STAGING (usage.StagingStore)
// =============================================================================

func (q *queries) StagedTitles(ctx context.Context) ([]staging.Title, error) {
	rows, err := q.query(ctx, `
		SELECT id, title_type, title, publisher, publisher_id, platform, doi, proprietary_id,
		       isbn, print_issn, online_issn, uri, yop, excel_name, row_num, pending_ref,
		       title_report_id
		FROM title_report_temp ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged titles: %w", err)
	}
	defer rows.Close()

	var titles []staging.Title
	for rows.Next() {
		var t staging.Title
		var titleID sql.NullInt64
		if err := rows.Scan(&t.StagingID, &t.TitleType, &t.Title, &t.Publisher, &t.PublisherID,
			&t.Platform, &t.DOI, &t.ProprietaryID, &t.ISBN, &t.PrintISSN, &t.OnlineISSN, &t.URI,
			&t.YOP, &t.SourceFile, &t.SourceRow, &t.PendingRef, &titleID); err != nil {
			return nil, fmt.Errorf("failed to scan staged title: %w", err)
		}
		t.TitleID = titleID.Int64
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (q *queries) SetStagedTitleID(ctx context.Context, stagingID, titleID int64) error {
	_, err := q.exec(ctx, `UPDATE title_report_temp SET title_report_id = ? WHERE id = ?`, titleID, stagingID)
	if err != nil {
		return fmt.Errorf("failed to set staged title id: %w", err)
	}
	return nil
}

func (q *queries) PropagateTitleIDs(ctx context.Context) (int64, error) {
	res, err := q.exec(ctx, `
		UPDATE metric_temp SET title_report_id = (
			SELECT t.title_report_id FROM title_report_temp t
			WHERE t.excel_name = metric_temp.excel_name AND t.row_num = metric_temp.row_num
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to propagate title ids: %w", err)
	}
	return res.RowsAffected()
}

func (q *queries) StagedMetrics(ctx context.Context) ([]staging.Metric, error) {
	rows, err := q.query(ctx, `
		SELECT id, pending_ref, access_type, metric_type, period, period_total,
		       excel_name, row_num, title_report_id
		FROM metric_temp ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged metrics: %w", err)
	}
	defer rows.Close()

	var metrics []staging.Metric
	for rows.Next() {
		var m staging.Metric
		var titleID sql.NullInt64
		if err := rows.Scan(&m.StagingID, &m.PendingRef, &m.AccessType, &m.MetricType, &m.Period,
			&m.PeriodTotal, &m.SourceFile, &m.SourceRow, &titleID); err != nil {
			return nil, fmt.Errorf("failed to scan staged metric: %w", err)
		}
		m.TitleID = titleID.Int64
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(usage.DateLayout, s)
	return t
}
