package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cubl/counter-loader/usage"
)

// =============================================================================
// PLATFORM REFERENCE MAINTENANCE
// =============================================================================

// AddPlatform inserts a platform reference entry, or updates the alias of an
// existing entry with the same name. Returns the platform id.
func (s *Store) AddPlatform(ctx context.Context, name, alias string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, alias = strings.TrimSpace(name), strings.TrimSpace(alias)
	if name == "" {
		return 0, fmt.Errorf("platform name is required")
	}
	var id int64
	err := s.queryRow(ctx, `
		INSERT INTO platform_ref (name, alias) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET alias = excluded.alias
		RETURNING id`, name, alias).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save platform: %w", err)
	}
	return id, nil
}

// ListPlatforms returns every platform ordered by name.
func (s *Store) ListPlatforms(ctx context.Context) ([]usage.Platform, error) {
	rows, err := s.query(ctx, `SELECT id, name, alias FROM platform_ref ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list platforms: %w", err)
	}
	defer rows.Close()

	var platforms []usage.Platform
	for rows.Next() {
		var p usage.Platform
		if err := rows.Scan(&p.ID, &p.Name, &p.Alias); err != nil {
			return nil, err
		}
		platforms = append(platforms, p)
	}
	return platforms, rows.Err()
}

// =============================================================================
// INVENTORY
// =============================================================================

// ListInventory returns ledger entries, most recent load first.
func (s *Store) ListInventory(ctx context.Context, limit int) ([]usage.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `
		SELECT id, excel_name, platform, run_date, begin_date, end_date, row_cnt,
		       load_start, load_end, load_date
		FROM report_inventory ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var entries []usage.LedgerEntry
	for rows.Next() {
		var (
			e                                 usage.LedgerEntry
			runDate                           sql.NullString
			begin, end, start, stop, loadDate string
		)
		if err := rows.Scan(&e.ID, &e.Filename, &e.Platform, &runDate, &begin, &end, &e.RowCount,
			&start, &stop, &loadDate); err != nil {
			return nil, err
		}
		if runDate.Valid {
			rd := parseTime(runDate.String)
			e.RunDate = &rd
		}
		e.Begin, e.End = parseDate(begin), parseDate(end)
		e.LoadStart, e.LoadEnd = parseTime(start), parseTime(stop)
		e.LoadDate = parseDate(loadDate)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TITLES AND METRICS
// =============================================================================

// TitleFilter narrows SearchTitles. Zero values match everything.
type TitleFilter struct {
	Query      string // case-insensitive substring of the title
	PlatformID int64
	Limit      int
}

// SearchTitles returns titles ordered by title then id.
func (s *Store) SearchTitles(ctx context.Context, f TitleFilter) ([]usage.TitleEntity, error) {
	query := titleColumns + ` FROM title_report WHERE 1 = 1`
	var args []any
	if f.Query != "" {
		query += ` AND LOWER(title) LIKE ?`
		args = append(args, "%"+strings.ToLower(f.Query)+"%")
	}
	if f.PlatformID != 0 {
		query += ` AND platform_id = ?`
		args = append(args, f.PlatformID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY title, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search titles: %w", err)
	}
	defer rows.Close()

	var titles []usage.TitleEntity
	for rows.Next() {
		t, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// GetTitle returns one title or usage.ErrNotFound.
func (s *Store) GetTitle(ctx context.Context, id int64) (usage.TitleEntity, error) {
	rows, err := s.query(ctx, titleColumns+` FROM title_report WHERE id = ?`, id)
	if err != nil {
		return usage.TitleEntity{}, fmt.Errorf("failed to get title: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return usage.TitleEntity{}, err
		}
		return usage.TitleEntity{}, fmt.Errorf("title %d: %w", id, usage.ErrNotFound)
	}
	return scanTitle(rows)
}

const titleColumns = `
	SELECT id, title_type, title, publisher, publisher_id, platform_id, doi, proprietary_id,
	       isbn, print_issn, online_issn, uri, yop, create_date, update_date`

func scanTitle(rows *sql.Rows) (usage.TitleEntity, error) {
	var (
		t                usage.TitleEntity
		kind             string
		created, updated string
	)
	if err := rows.Scan(&t.ID, &kind, &t.Title, &t.Publisher, &t.PublisherID, &t.PlatformID,
		&t.DOI, &t.ProprietaryID, &t.ISBN, &t.PrintISSN, &t.OnlineISSN, &t.URI, &t.YOP,
		&created, &updated); err != nil {
		return t, fmt.Errorf("failed to scan title: %w", err)
	}
	t.Kind = usage.ReportKind(kind)
	t.CreatedAt, t.UpdatedAt = parseTime(created), parseTime(updated)
	return t, nil
}

// MetricsForTitle returns all facts of one title ordered by period, metric and access type.
func (s *Store) MetricsForTitle(ctx context.Context, titleID int64) ([]usage.MetricFact, error) {
	rows, err := s.query(ctx, `
		SELECT id, title_report_id, access_type, metric_type, period, period_total, create_date, update_date
		FROM metric WHERE title_report_id = ?
		ORDER BY period, metric_type, access_type`, titleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	var facts []usage.MetricFact
	for rows.Next() {
		var (
			m                        usage.MetricFact
			access, metric           int
			period, created, updated string
		)
		if err := rows.Scan(&m.ID, &m.TitleID, &access, &metric, &period, &m.PeriodTotal, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		m.AccessType, m.MetricType = usage.AccessType(access), usage.MetricType(metric)
		m.Period = parseDate(period)
		m.CreatedAt, m.UpdatedAt = parseTime(created), parseTime(updated)
		facts = append(facts, m)
	}
	return facts, rows.Err()
}

// UsageFilter selects the facts aggregated by TitleUsage.
type UsageFilter struct {
	Title      string // exact title; empty matches all
	Year       int
	MetricType usage.MetricType
}

// UsageRow is a monthly total for one title, summed across publishers and access types.
type UsageRow struct {
	Title      string
	MetricType usage.MetricType
	Period     string
	Total      int64
	Publishers int
}

// TitleUsage aggregates facts by title alone. Titles deduplicated apart
// because of publisher spelling are summed together here.
func (s *Store) TitleUsage(ctx context.Context, f UsageFilter) ([]UsageRow, error) {
	query := `
		SELECT t.title, m.metric_type, m.period, SUM(m.period_total), COUNT(DISTINCT t.publisher)
		FROM metric m JOIN title_report t ON t.id = m.title_report_id
		WHERE 1 = 1`
	var args []any
	if f.Title != "" {
		query += ` AND t.title = ?`
		args = append(args, f.Title)
	}
	if f.Year != 0 {
		query += ` AND m.period >= ? AND m.period <= ?`
		args = append(args, fmt.Sprintf("%04d-01-01", f.Year), fmt.Sprintf("%04d-12-31", f.Year))
	}
	if f.MetricType != 0 {
		query += ` AND m.metric_type = ?`
		args = append(args, int(f.MetricType))
	}
	query += ` GROUP BY t.title, m.metric_type, m.period ORDER BY t.title, m.metric_type, m.period`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var r UsageRow
		var metric int
		if err := rows.Scan(&r.Title, &metric, &r.Period, &r.Total, &r.Publishers); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		r.MetricType = usage.MetricType(metric)
		out = append(out, r)
	}
	return out, rows.Err()
}
