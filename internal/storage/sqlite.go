package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/eddiefleurent/strategist/internal/models"
)

const dateLayout = "2006-01-02"

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	status     TEXT NOT NULL,
	selected   TEXT,
	top_score  REAL NOT NULL,
	created_at INTEGER NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_symbol_created ON analyses(symbol, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at DESC);

CREATE TABLE IF NOT EXISTS iv_readings (
	symbol      TEXT NOT NULL,
	date        TEXT NOT NULL,
	iv          REAL NOT NULL,
	recorded_at INTEGER NOT NULL,
	PRIMARY KEY (symbol, date)
);
`

// SQLiteStorage persists analyses and IV history in a SQLite database.
// Analyses are stored as JSON payloads with indexed lookup columns.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStorage{db: db, path: path}, nil
}

func (s *SQLiteStorage) SaveAnalysis(result *models.AnalysisResult) error {
	if err := validateAnalysis(result); err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode analysis %s: %w", result.ID, err)
	}
	var selected sql.NullString
	if result.Selected != nil {
		selected = sql.NullString{String: result.Selected.String(), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO analyses (id, symbol, status, selected, top_score, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			status = excluded.status,
			selected = excluded.selected,
			top_score = excluded.top_score,
			created_at = excluded.created_at,
			payload = excluded.payload
	`,
		result.ID,
		strings.ToUpper(result.Symbol),
		string(result.Status),
		selected,
		result.TopScore(),
		result.CreatedAt.UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis %s: %w", result.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) GetAnalysis(id string) (*models.AnalysisResult, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM analyses WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", id, err)
	}
	return decodeAnalysis(payload)
}

func (s *SQLiteStorage) ListAnalyses(filter Filter) ([]models.AnalysisResult, error) {
	query := `SELECT payload FROM analyses`
	var where []string
	var args []any
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(filter.Symbol))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var out []models.AnalysisResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		r, err := decodeAnalysis(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) LatestForSymbol(symbol string) (*models.AnalysisResult, error) {
	list, err := s.ListAnalyses(Filter{Symbol: symbol, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no analyses for %s", ErrNotFound, symbol)
	}
	return &list[0], nil
}

func decodeAnalysis(payload string) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &r, nil
}

func (s *SQLiteStorage) StoreIVReading(reading *models.IVReading) error {
	if err := validateIVReading(reading); err != nil {
		return err
	}
	recorded := reading.Timestamp
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO iv_readings (symbol, date, iv, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET iv = excluded.iv, recorded_at = excluded.recorded_at
	`, reading.Symbol, ivDay(reading.Date).Format(dateLayout), reading.IV, recorded.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store IV reading for %s: %w", reading.Symbol, err)
	}
	return nil
}

func (s *SQLiteStorage) GetIVReadings(symbol string, startDate, endDate time.Time) ([]models.IVReading, error) {
	rows, err := s.db.Query(`
		SELECT symbol, date, iv, recorded_at FROM iv_readings
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, ivDay(startDate).Format(dateLayout), ivDay(endDate).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query IV readings: %w", err)
	}
	defer rows.Close()

	var out []models.IVReading
	for rows.Next() {
		r, err := scanIVReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) GetLatestIVReading(symbol string) (*models.IVReading, error) {
	row := s.db.QueryRow(`
		SELECT symbol, date, iv, recorded_at FROM iv_readings
		WHERE symbol = ? ORDER BY date DESC LIMIT 1
	`, symbol)
	r, err := scanIVReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for %s", ErrNoIVReadings, symbol)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIVReading(sc scanner) (models.IVReading, error) {
	var (
		r        models.IVReading
		date     string
		recorded int64
	)
	if err := sc.Scan(&r.Symbol, &date, &r.IV, &recorded); err != nil {
		return r, err
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return r, fmt.Errorf("invalid IV reading date %q: %w", date, err)
	}
	r.Date = d
	r.Timestamp = time.Unix(0, recorded)
	return r, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
