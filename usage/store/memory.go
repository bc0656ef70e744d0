// Package store provides an in-memory implementation of the usage store interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cubl/counter-loader/staging"
	"github.com/cubl/counter-loader/usage"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements usage.TxStore and usage.BulkCopier.
type Memory struct {
	mu    sync.Mutex
	state memoryState
}

type memoryState struct {
	platforms []usage.Platform
	titles    []usage.TitleEntity
	metrics   []usage.MetricFact
	ledger    []usage.LedgerEntry
	sTitles   []staging.Title
	sMetrics  []staging.Metric
}

func NewMemory() *Memory {
	return &Memory{}
}

// AddPlatform registers a platform reference entry.
func (m *Memory) AddPlatform(name, alias string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.state.platforms) + 1)
	m.state.platforms = append(m.state.platforms, usage.Platform{ID: id, Name: name, Alias: alias})
	return id
}

// Titles returns a copy of all titles in id order.
func (m *Memory) Titles() []usage.TitleEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usage.TitleEntity(nil), m.state.titles...)
}

// Metrics returns a copy of all metric facts in id order.
func (m *Memory) Metrics() []usage.MetricFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usage.MetricFact(nil), m.state.metrics...)
}

// Ledger returns a copy of all ledger entries in id order.
func (m *Memory) Ledger() []usage.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usage.LedgerEntry(nil), m.state.ledger...)
}

func (m *Memory) PlatformID(ctx context.Context, name string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.platformID(name)
}

func (m *Memory) FindTitle(ctx context.Context, lookup usage.TitleLookup) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.findTitle(lookup)
}

func (m *Memory) InsertTitle(ctx context.Context, t usage.TitleEntity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertTitle(t)
}

func (m *Memory) FindMetric(ctx context.Context, key usage.MetricKey) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.findMetric(key)
}

func (m *Memory) InsertMetric(ctx context.Context, f usage.MetricFact) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertMetric(f)
}

func (m *Memory) UpdateMetricTotal(ctx context.Context, id, total int64, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateMetricTotal(id, total, updatedAt)
}

func (m *Memory) IsLoaded(ctx context.Context, e usage.LedgerEntry, matchRunDate bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.isLoaded(e, matchRunDate), nil
}

func (m *Memory) RecordLoad(ctx context.Context, e usage.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.recordLoad(e)
	return nil
}

func (m *Memory) StagedTitles(ctx context.Context) ([]staging.Title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]staging.Title(nil), m.state.sTitles...), nil
}

func (m *Memory) SetStagedTitleID(ctx context.Context, stagingID, titleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.setStagedTitleID(stagingID, titleID)
}

func (m *Memory) PropagateTitleIDs(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.propagate(), nil
}

func (m *Memory) StagedMetrics(ctx context.Context) ([]staging.Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]staging.Metric(nil), m.state.sMetrics...), nil
}

// BulkCopy replaces both staging tables, assigning staging ids from 1.
func (m *Memory) BulkCopy(ctx context.Context, titles []staging.Title, metrics []staging.Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sTitles = make([]staging.Title, len(titles))
	for i, t := range titles {
		t.StagingID = int64(i + 1)
		t.TitleID = 0
		m.state.sTitles[i] = t
	}
	m.state.sMetrics = make([]staging.Metric, len(metrics))
	for i, mt := range metrics {
		mt.StagingID = int64(i + 1)
		mt.TitleID = 0
		m.state.sMetrics[i] = mt
	}
	return nil
}

// =============================================================================
// STATE OPERATIONS - Caller holds the lock
// =============================================================================

func (s *memoryState) platformID(name string) (int64, bool, error) {
	for _, p := range s.platforms {
		if p.Name == name || (p.Alias != "" && p.Alias == name) {
			return p.ID, true, nil
		}
	}
	return 0, false, nil
}

func (s *memoryState) findTitle(lookup usage.TitleLookup) (int64, bool, error) {
	for _, t := range s.titles {
		if lookup.Matches(t) {
			return t.ID, true, nil
		}
	}
	return 0, false, nil
}

func (s *memoryState) insertTitle(t usage.TitleEntity) (int64, error) {
	t.ID = int64(len(s.titles) + 1)
	s.titles = append(s.titles, t)
	return t.ID, nil
}

func (s *memoryState) findMetric(key usage.MetricKey) (int64, bool, error) {
	for _, f := range s.metrics {
		if f.TitleID == key.TitleID && f.AccessType == key.AccessType &&
			f.MetricType == key.MetricType && f.Period.Equal(key.Period) {
			return f.ID, true, nil
		}
	}
	return 0, false, nil
}

func (s *memoryState) insertMetric(f usage.MetricFact) (int64, error) {
	if id, found, _ := s.findMetric(f.MetricKey); found {
		return 0, fmt.Errorf("metric already exists with id %d", id)
	}
	f.ID = int64(len(s.metrics) + 1)
	s.metrics = append(s.metrics, f)
	return f.ID, nil
}

func (s *memoryState) updateMetricTotal(id, total int64, updatedAt time.Time) error {
	i := sort.Search(len(s.metrics), func(i int) bool { return s.metrics[i].ID >= id })
	if i == len(s.metrics) || s.metrics[i].ID != id {
		return fmt.Errorf("metric %d: %w", id, usage.ErrNotFound)
	}
	s.metrics[i].PeriodTotal = total
	s.metrics[i].UpdatedAt = updatedAt
	return nil
}

func (s *memoryState) isLoaded(e usage.LedgerEntry, matchRunDate bool) bool {
	gate := usage.NewInventory(nil, matchRunDate)
	for _, l := range s.ledger {
		if gate.SameKey(l, e) {
			return true
		}
	}
	return false
}

func (s *memoryState) recordLoad(e usage.LedgerEntry) {
	e.ID = int64(len(s.ledger) + 1)
	s.ledger = append(s.ledger, e)
}

func (s *memoryState) setStagedTitleID(stagingID, titleID int64) error {
	for i := range s.sTitles {
		if s.sTitles[i].StagingID == stagingID {
			s.sTitles[i].TitleID = titleID
			return nil
		}
	}
	return fmt.Errorf("staged title %d: %w", stagingID, usage.ErrNotFound)
}

func (s *memoryState) propagate() int64 {
	type origin struct {
		file string
		row  int
	}
	ids := make(map[origin]int64, len(s.sTitles))
	for _, t := range s.sTitles {
		ids[origin{t.SourceFile, t.SourceRow}] = t.TitleID
	}
	var n int64
	for i := range s.sMetrics {
		m := &s.sMetrics[i]
		m.TitleID = ids[origin{m.SourceFile, m.SourceRow}]
		n++
	}
	return n
}

func (s memoryState) clone() memoryState {
	return memoryState{
		platforms: append([]usage.Platform(nil), s.platforms...),
		titles:    append([]usage.TitleEntity(nil), s.titles...),
		metrics:   append([]usage.MetricFact(nil), s.metrics...),
		ledger:    append([]usage.LedgerEntry(nil), s.ledger...),
		sTitles:   append([]staging.Title(nil), s.sTitles...),
		sMetrics:  append([]staging.Metric(nil), s.sMetrics...),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(usage.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txView operates on the locked state directly.
type txView struct {
	state *memoryState
}

func (tv *txView) PlatformID(_ context.Context, name string) (int64, bool, error) {
	return tv.state.platformID(name)
}

func (tv *txView) FindTitle(_ context.Context, lookup usage.TitleLookup) (int64, bool, error) {
	return tv.state.findTitle(lookup)
}

func (tv *txView) InsertTitle(_ context.Context, t usage.TitleEntity) (int64, error) {
	return tv.state.insertTitle(t)
}

func (tv *txView) FindMetric(_ context.Context, key usage.MetricKey) (int64, bool, error) {
	return tv.state.findMetric(key)
}

func (tv *txView) InsertMetric(_ context.Context, f usage.MetricFact) (int64, error) {
	return tv.state.insertMetric(f)
}

func (tv *txView) UpdateMetricTotal(_ context.Context, id, total int64, updatedAt time.Time) error {
	return tv.state.updateMetricTotal(id, total, updatedAt)
}

func (tv *txView) IsLoaded(_ context.Context, e usage.LedgerEntry, matchRunDate bool) (bool, error) {
	return tv.state.isLoaded(e, matchRunDate), nil
}

func (tv *txView) RecordLoad(_ context.Context, e usage.LedgerEntry) error {
	tv.state.recordLoad(e)
	return nil
}

func (tv *txView) StagedTitles(_ context.Context) ([]staging.Title, error) {
	return append([]staging.Title(nil), tv.state.sTitles...), nil
}

func (tv *txView) SetStagedTitleID(_ context.Context, stagingID, titleID int64) error {
	return tv.state.setStagedTitleID(stagingID, titleID)
}

func (tv *txView) PropagateTitleIDs(_ context.Context) (int64, error) {
	return tv.state.propagate(), nil
}

func (tv *txView) StagedMetrics(_ context.Context) ([]staging.Metric, error) {
	return append([]staging.Metric(nil), tv.state.sMetrics...), nil
}
