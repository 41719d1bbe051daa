package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/eddiefleurent/strategist/internal/models"
)

// Interface defines the contract for analysis and IV history persistence.
//
// Implementations must be safe for concurrent use - callers can assume all methods
// are goroutine-safe and can safely call these methods from multiple goroutines.
type Interface interface {
	// Analysis results
	SaveAnalysis(result *models.AnalysisResult) error
	GetAnalysis(id string) (*models.AnalysisResult, error)
	ListAnalyses(filter Filter) ([]models.AnalysisResult, error)
	LatestForSymbol(symbol string) (*models.AnalysisResult, error)

	// IV data storage
	StoreIVReading(reading *models.IVReading) error
	GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error)
	GetLatestIVReading(symbol string) (*models.IVReading, error)

	Close() error
}

// Filter narrows ListAnalyses. Zero fields match everything; results are
// newest first and Limit <= 0 means no limit.
type Filter struct {
	Symbol string
	Status models.AnalysisStatus
	Since  time.Time
	Limit  int
}

func (f Filter) matches(r *models.AnalysisResult) bool {
	if f.Symbol != "" && !strings.EqualFold(f.Symbol, r.Symbol) {
		return false
	}
	if f.Status != "" && f.Status != r.Status {
		return false
	}
	if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// apply filters, orders newest first and truncates a slice of results.
func (f Filter) apply(all []models.AnalysisResult) []models.AnalysisResult {
	out := make([]models.AnalysisResult, 0, len(all))
	for i := range all {
		if f.matches(&all[i]) {
			out = append(out, all[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Backend names accepted by NewStorage.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// NewStorage opens the configured backend. An empty backend is inferred from
// the file extension: .db, .sqlite and .sqlite3 use SQLite, anything else JSON.
func NewStorage(backend, path string) (Interface, error) {
	if backend == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".db", ".sqlite", ".sqlite3":
			backend = BackendSQLite
		default:
			backend = BackendJSON
		}
	}
	switch backend {
	case BackendJSON:
		return NewJSONStorage(path)
	case BackendSQLite:
		return NewSQLiteStorage(path)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// ivDay normalizes a reading date to midnight UTC; one reading per symbol per day.
func ivDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func validateIVReading(r *models.IVReading) error {
	if r == nil {
		return fmt.Errorf("iv reading is nil")
	}
	if r.Symbol == "" {
		return fmt.Errorf("iv reading: symbol is required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("iv reading: date is required")
	}
	if r.IV < 0 {
		return fmt.Errorf("iv reading: negative IV %.4f", r.IV)
	}
	return nil
}

func validateAnalysis(r *models.AnalysisResult) error {
	if r == nil {
		return fmt.Errorf("analysis is nil")
	}
	if r.ID == "" {
		return fmt.Errorf("analysis: id is required")
	}
	if r.Symbol == "" {
		return fmt.Errorf("analysis %s: symbol is required", r.ID)
	}
	return nil
}

// Ensure implementations satisfy Interface
var (
	_ Interface = (*JSONStorage)(nil)
	_ Interface = (*SQLiteStorage)(nil)
	_ Interface = (*MockStorage)(nil)
)
