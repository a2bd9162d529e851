package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite database file.
// Traces are still written as JSONL under traceDir.
type SQLiteStore struct {
	path     string
	traceDir string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path, traceDir string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create experiments table: %w", err)
	}

	return &SQLiteStore{path: path, traceDir: traceDir, db: db}, nil
}

// TraceDir returns the directory traces of this store are written to.
func (s *SQLiteStore) TraceDir() string {
	return s.traceDir
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, errors.New("sqlite store is closed")
	}
	return s.db, nil
}

// SaveExperiment upserts the experiment.
func (s *SQLiteStore) SaveExperiment(experiment *Experiment) error {
	if experiment == nil {
		return fmt.Errorf("experiment cannot be nil")
	}
	if err := experiment.Validate(); err != nil {
		return err
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(experiment)
	if err != nil {
		return fmt.Errorf("failed to serialize experiment: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO experiments (id, created_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			payload = excluded.payload
	`, experiment.ID, experiment.Timestamp.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("failed to save experiment %s: %w", experiment.ID, err)
	}

	slog.Debug("Experiment saved", "id", experiment.ID, "db", s.path)
	return nil
}

// LoadExperiment retrieves the experiment with the given ID.
func (s *SQLiteStore) LoadExperiment(id string) (*Experiment, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var payload []byte
	err = db.QueryRow(`SELECT payload FROM experiments WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load experiment %s: %w", id, err)
	}

	var experiment Experiment
	if err := json.Unmarshal(payload, &experiment); err != nil {
		return nil, fmt.Errorf("decode experiment %s: %w", id, err)
	}
	return &experiment, nil
}

// ListExperiments returns metadata for all stored experiments, oldest first.
func (s *SQLiteStore) ListExperiments() ([]ExperimentInfo, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT id, payload FROM experiments ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	infos := []ExperimentInfo{}
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan experiment row: %w", err)
		}

		var experiment Experiment
		if err := json.Unmarshal(payload, &experiment); err != nil {
			slog.Warn("Failed to decode experiment for listing", "id", id, "error", err)
			continue
		}
		infos = append(infos, experiment.ToInfo())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate experiments: %w", err)
	}

	return infos, nil
}

// DeleteExperiment removes the experiment row and its trace files.
func (s *SQLiteStore) DeleteExperiment(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}

	res, err := db.Exec(`DELETE FROM experiments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete experiment %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{ID: id}
	}

	if s.traceDir != "" {
		if err := DeleteTrace(s.traceDir, id); err != nil {
			return err
		}
	}

	slog.Debug("Experiment deleted", "id", id, "db", s.path)
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
