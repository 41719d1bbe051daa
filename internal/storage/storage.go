package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eddiefleurent/strategist/internal/models"
)

// DefaultMaxAnalyses bounds the JSON file; oldest results are dropped first.
const DefaultMaxAnalyses = 5000

// JSONStorage keeps everything in one JSON document rewritten on each change.
type JSONStorage struct {
	mu          sync.RWMutex
	filepath    string
	maxAnalyses int
	data        *storageData
}

type storageData struct {
	Analyses    []models.AnalysisResult       `json:"analyses"`
	IVReadings  map[string][]models.IVReading `json:"iv_readings"`
	LastUpdated time.Time                     `json:"last_updated"`
}

// NewJSONStorage loads path if it exists, otherwise starts empty.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		filepath:    path,
		maxAnalyses: DefaultMaxAnalyses,
		data: &storageData{
			IVReadings: make(map[string][]models.IVReading),
		},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}

	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	var data storageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	if data.IVReadings == nil {
		data.IVReadings = make(map[string][]models.IVReading)
	}
	s.data = &data
	return nil
}

// saveLocked writes atomically; callers hold the write lock.
func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// SaveAnalysis appends a result, replacing any earlier result with the same ID.
func (s *JSONStorage) SaveAnalysis(result *models.AnalysisResult) error {
	if err := validateAnalysis(result); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i := range s.data.Analyses {
		if s.data.Analyses[i].ID == result.ID {
			s.data.Analyses[i] = *result
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Analyses = append(s.data.Analyses, *result)
	}
	if over := len(s.data.Analyses) - s.maxAnalyses; s.maxAnalyses > 0 && over > 0 {
		s.data.Analyses = append([]models.AnalysisResult(nil), s.data.Analyses[over:]...)
	}
	return s.saveLocked()
}

// GetAnalysis returns ErrNotFound for unknown IDs.
func (s *JSONStorage) GetAnalysis(id string) (*models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.data.Analyses {
		if s.data.Analyses[i].ID == id {
			r := s.data.Analyses[i]
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *JSONStorage) ListAnalyses(filter Filter) ([]models.AnalysisResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filter.apply(s.data.Analyses), nil
}

func (s *JSONStorage) LatestForSymbol(symbol string) (*models.AnalysisResult, error) {
	list, err := s.ListAnalyses(Filter{Symbol: symbol, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no analyses for %s", ErrNotFound, symbol)
	}
	return &list[0], nil
}

// StoreIVReading keeps one reading per symbol per day; a later reading for
// the same day replaces the earlier one.
func (s *JSONStorage) StoreIVReading(reading *models.IVReading) error {
	if err := validateIVReading(reading); err != nil {
		return err
	}
	r := *reading
	r.Date = ivDay(r.Date)
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.data.IVReadings[r.Symbol]
	idx := sort.Search(len(list), func(i int) bool { return !list[i].Date.Before(r.Date) })
	switch {
	case idx < len(list) && list[idx].Date.Equal(r.Date):
		list[idx] = r
	default:
		list = append(list, models.IVReading{})
		copy(list[idx+1:], list[idx:])
		list[idx] = r
	}
	s.data.IVReadings[r.Symbol] = list
	return s.saveLocked()
}

// GetIVReadings returns readings dated within [startDate, endDate], oldest first.
func (s *JSONStorage) GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	start, end := ivDay(startDate), ivDay(endDate)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.IVReading
	for _, r := range s.data.IVReadings[symbol] {
		if r.Date.Before(start) || r.Date.After(end) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *JSONStorage) GetLatestIVReading(symbol string) (*models.IVReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.data.IVReadings[symbol]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoIVReadings, symbol)
	}
	r := list[len(list)-1]
	return &r, nil
}

// Close is a no-op; every mutation is already flushed.
func (s *JSONStorage) Close() error {
	return nil
}
