package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/strategist/internal/models"
)

// MockStorage implements Interface in memory for testing
type MockStorage struct {
	mu            sync.Mutex
	saveError     error
	analyses      []models.AnalysisResult
	ivReadings    map[string][]models.IVReading
	saveCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{
		ivReadings: make(map[string][]models.IVReading),
	}
}

// SetSaveError makes subsequent writes fail with err (nil clears it).
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SaveCallCount returns how many writes were attempted.
func (m *MockStorage) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

func (m *MockStorage) SaveAnalysis(result *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if err := validateAnalysis(result); err != nil {
		return err
	}
	for i := range m.analyses {
		if m.analyses[i].ID == result.ID {
			m.analyses[i] = *result
			return nil
		}
	}
	m.analyses = append(m.analyses, *result)
	return nil
}

func (m *MockStorage) GetAnalysis(id string) (*models.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.analyses {
		if m.analyses[i].ID == id {
			r := m.analyses[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (m *MockStorage) ListAnalyses(filter Filter) ([]models.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filter.apply(m.analyses), nil
}

func (m *MockStorage) LatestForSymbol(symbol string) (*models.AnalysisResult, error) {
	list, _ := m.ListAnalyses(Filter{Symbol: symbol, Limit: 1})
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no analyses for %s", ErrNotFound, symbol)
	}
	return &list[0], nil
}

func (m *MockStorage) StoreIVReading(reading *models.IVReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if err := validateIVReading(reading); err != nil {
		return err
	}
	r := *reading
	r.Date = ivDay(r.Date)
	list := m.ivReadings[r.Symbol]
	for i := range list {
		if list[i].Date.Equal(r.Date) {
			list[i] = r
			return nil
		}
	}
	m.ivReadings[r.Symbol] = append(list, r)
	return nil
}

func (m *MockStorage) GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start, end := ivDay(startDate), ivDay(endDate)
	var out []models.IVReading
	for _, r := range m.ivReadings[symbol] {
		if !r.Date.Before(start) && !r.Date.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockStorage) GetLatestIVReading(symbol string) (*models.IVReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.IVReading
	for i, r := range m.ivReadings[symbol] {
		if latest == nil || r.Date.After(latest.Date) {
			latest = &m.ivReadings[symbol][i]
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoIVReadings, symbol)
	}
	r := *latest
	return &r, nil
}

func (m *MockStorage) Close() error { return nil }
