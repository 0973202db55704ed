// Package store provides in-memory implementations of the energy stores.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kindenheim/heatpump-monitor/energy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements energy.TxStore, energy.ReadingQuerier and
// energy.SettingsStore. Readings are kept sorted by date.
type Memory struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	readings  []energy.Reading
	nextID    energy.ReadingID
	summaries []energy.MonthlySummary
	settings  map[string]string
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		nextID:   1,
		settings: make(map[string]string),
	}}
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// AddSummary stores a monthly summary, replacing one for the same month.
func (m *Memory) AddSummary(s energy.MonthlySummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.state.summaries {
		if existing.Year == s.Year && existing.Month == s.Month {
			m.state.summaries[i] = s
			return
		}
	}
	s.ID = int64(len(m.state.summaries) + 1)
	m.state.summaries = append(m.state.summaries, s)
}

// All returns a copy of every reading ascending by date.
func (m *Memory) All() []energy.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]energy.Reading, len(m.state.readings))
	copy(out, m.state.readings)
	return out
}

// =============================================================================
// READING STORE
// =============================================================================

func (m *Memory) GetReading(ctx context.Context, id energy.ReadingID) (energy.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetReading(ctx, id)
}

func (m *Memory) Predecessor(ctx context.Context, date energy.Date) (*energy.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Predecessor(ctx, date)
}

func (m *Memory) Successor(ctx context.Context, date energy.Date) (*energy.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Successor(ctx, date)
}

func (m *Memory) InsertReading(ctx context.Context, r energy.Reading) (energy.ReadingID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.InsertReading(ctx, r)
}

func (m *Memory) UpdateReading(ctx context.Context, r energy.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.UpdateReading(ctx, r)
}

func (m *Memory) SetConsumption(ctx context.Context, id energy.ReadingID, hp, elec *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SetConsumption(ctx, id, hp, elec)
}

func (m *Memory) DeleteReading(ctx context.Context, id energy.ReadingID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.DeleteReading(ctx, id)
}

// WithTx runs fn against a copy of the state and keeps the copy only when
// fn succeeds.
func (m *Memory) WithTx(_ context.Context, fn func(energy.ReadingStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	m.state = work
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (m *Memory) ListReadings(_ context.Context, f energy.ReadingFilter) ([]energy.Reading, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []energy.Reading
	for i := len(m.state.readings) - 1; i >= 0; i-- {
		r := m.state.readings[i]
		if f.Month != "" && !strings.HasPrefix(string(r.Date), string(f.Month)) {
			continue
		}
		matched = append(matched, r)
	}
	total := len(matched)

	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	page := make([]energy.Reading, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

func (m *Memory) ReadingsInMonth(_ context.Context, month energy.YearMonth) ([]energy.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []energy.Reading
	for _, r := range m.state.readings {
		if month.Contains(r.Date) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ConsumptionHistory(context.Context) ([]energy.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []energy.Reading
	for _, r := range m.state.readings {
		if r.ConsumptionHP != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) LatestReading(context.Context) (*energy.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.state.readings) == 0 {
		return nil, nil
	}
	r := m.state.readings[len(m.state.readings)-1]
	return &r, nil
}

func (m *Memory) MonthlySummaries(context.Context) ([]energy.MonthlySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]energy.MonthlySummary, len(m.state.summaries))
	copy(out, m.state.summaries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.state.settings[key]
	return v, ok, nil
}

func (m *Memory) SetSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.settings[key] = value
	return nil
}

func (m *Memory) ListSettings(context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.state.settings))
	for k, v := range m.state.settings {
		out[k] = v
	}
	return out, nil
}

// =============================================================================
// UNLOCKED STATE - also the ReadingStore handed to WithTx callbacks
// =============================================================================

func (s *memState) clone() *memState {
	c := &memState{
		readings:  make([]energy.Reading, len(s.readings)),
		nextID:    s.nextID,
		summaries: s.summaries,
		settings:  s.settings,
	}
	copy(c.readings, s.readings)
	return c
}

func (s *memState) indexOf(id energy.ReadingID) int {
	for i, r := range s.readings {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *memState) GetReading(_ context.Context, id energy.ReadingID) (energy.Reading, error) {
	i := s.indexOf(id)
	if i < 0 {
		return energy.Reading{}, &energy.NotFoundError{ID: id}
	}
	return s.readings[i], nil
}

func (s *memState) Predecessor(_ context.Context, date energy.Date) (*energy.Reading, error) {
	// First index with Date >= date; the one before it is the predecessor.
	i := sort.Search(len(s.readings), func(i int) bool { return s.readings[i].Date >= date })
	if i == 0 {
		return nil, nil
	}
	r := s.readings[i-1]
	return &r, nil
}

func (s *memState) Successor(_ context.Context, date energy.Date) (*energy.Reading, error) {
	i := sort.Search(len(s.readings), func(i int) bool { return s.readings[i].Date > date })
	if i == len(s.readings) {
		return nil, nil
	}
	r := s.readings[i]
	return &r, nil
}

func (s *memState) dateTaken(date energy.Date, except energy.ReadingID) bool {
	for _, r := range s.readings {
		if r.Date == date && r.ID != except {
			return true
		}
	}
	return false
}

func (s *memState) InsertReading(_ context.Context, r energy.Reading) (energy.ReadingID, error) {
	if s.dateTaken(r.Date, 0) {
		return 0, &energy.DuplicateDateError{Date: r.Date}
	}
	r.ID = s.nextID
	s.nextID++
	s.insertSorted(r)
	return r.ID, nil
}

func (s *memState) insertSorted(r energy.Reading) {
	i := sort.Search(len(s.readings), func(i int) bool { return s.readings[i].Date > r.Date })
	s.readings = append(s.readings, energy.Reading{})
	copy(s.readings[i+1:], s.readings[i:])
	s.readings[i] = r
}

func (s *memState) UpdateReading(_ context.Context, r energy.Reading) error {
	i := s.indexOf(r.ID)
	if i < 0 {
		return &energy.NotFoundError{ID: r.ID}
	}
	if s.dateTaken(r.Date, r.ID) {
		return &energy.DuplicateDateError{Date: r.Date}
	}
	s.readings = append(s.readings[:i], s.readings[i+1:]...)
	s.insertSorted(r)
	return nil
}

func (s *memState) SetConsumption(_ context.Context, id energy.ReadingID, hp, elec *float64) error {
	i := s.indexOf(id)
	if i < 0 {
		return &energy.NotFoundError{ID: id}
	}
	s.readings[i].ConsumptionHP = hp
	s.readings[i].ConsumptionElec = elec
	return nil
}

func (s *memState) DeleteReading(_ context.Context, id energy.ReadingID) error {
	i := s.indexOf(id)
	if i < 0 {
		return &energy.NotFoundError{ID: id}
	}
	s.readings = append(s.readings[:i], s.readings[i+1:]...)
	return nil
}
