package usage

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// METRIC UPSERT ENGINE
// =============================================================================

// UpsertStats counts what an upsert did.
type UpsertStats struct {
	Inserted int
	Updated  int
}

// Add returns the sum of s and o.
func (s UpsertStats) Add(o UpsertStats) UpsertStats {
	return UpsertStats{Inserted: s.Inserted + o.Inserted, Updated: s.Updated + o.Updated}
}

// UpsertRow writes one MetricFact per month of row. Months of the period
// belong to year; every month column is written, zeros included.
func UpsertRow(ctx context.Context, s MetricStore, titleID int64, row CanonicalRow, year int, stamp time.Time) (UpsertStats, error) {
	var stats UpsertStats
	for _, mc := range row.Counts {
		fact := MetricFact{
			MetricKey: MetricKey{
				TitleID:    titleID,
				AccessType: row.AccessType,
				MetricType: row.MetricType,
				Period:     time.Date(year, mc.Month, 1, 0, 0, 0, 0, time.UTC),
			},
			PeriodTotal: mc.Count,
			CreatedAt:   stamp,
			UpdatedAt:   stamp,
		}
		inserted, err := UpsertMetric(ctx, s, fact)
		if err != nil {
			return stats, fmt.Errorf("row %d %s: %w", row.SourceRow, fact.Period.Format("2006-01"), err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	return stats, nil
}

// UpsertMetric inserts fact, or overwrites period_total of the existing fact
// with the same key (last write wins). Returns true when a row was inserted.
func UpsertMetric(ctx context.Context, s MetricStore, fact MetricFact) (bool, error) {
	id, found, err := s.FindMetric(ctx, fact.MetricKey)
	if err != nil {
		return false, fmt.Errorf("find metric: %w", err)
	}
	if found {
		if err := s.UpdateMetricTotal(ctx, id, fact.PeriodTotal, fact.UpdatedAt); err != nil {
			return false, fmt.Errorf("update metric %d: %w", id, err)
		}
		return false, nil
	}
	if _, err := s.InsertMetric(ctx, fact); err != nil {
		return false, fmt.Errorf("insert metric: %w", err)
	}
	return true, nil
}
