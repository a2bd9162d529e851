package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Experiments are stored in a directory structure: <baseDir>/experiments/<id>/
//
// Thread-safety: This implementation uses atomic file operations (rename)
// and does not require locks. Multiple goroutines can safely call methods
// concurrently.
type FSStore struct {
	baseDir string // Root directory for all experiment data (e.g., "./data")
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// ExperimentDir returns the directory holding all artifacts of an experiment.
// Callers pass ids that passed ValidateID.
func ExperimentDir(baseDir, id string) string {
	return filepath.Join(baseDir, "experiments", id)
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) experimentPath(id string) string {
	return filepath.Join(ExperimentDir(fs.baseDir, id), "experiment.json")
}

// SaveExperiment atomically saves an experiment.
// Uses temp file + rename pattern to ensure atomicity.
func (fs *FSStore) SaveExperiment(experiment *Experiment) error {
	if experiment == nil {
		return fmt.Errorf("experiment cannot be nil")
	}
	if err := experiment.Validate(); err != nil {
		return err
	}

	dir := ExperimentDir(fs.baseDir, experiment.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create experiment directory: %w", err)
	}

	data, err := json.MarshalIndent(experiment, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize experiment: %w", err)
	}

	// Write to temporary file first (atomic pattern)
	finalPath := fs.experimentPath(experiment.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp experiment file: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename experiment file: %w", err)
	}

	slog.Debug("Experiment saved", "id", experiment.ID, "path", finalPath)
	return nil
}

// LoadExperiment retrieves the experiment with the given ID.
func (fs *FSStore) LoadExperiment(id string) (*Experiment, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	path := fs.experimentPath(id)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read experiment file: %w", err)
	}

	var experiment Experiment
	if err := json.Unmarshal(data, &experiment); err != nil {
		return nil, fmt.Errorf("failed to deserialize experiment: %w", err)
	}

	slog.Debug("Experiment loaded", "id", id, "path", path)
	return &experiment, nil
}

// ListExperiments returns metadata for all stored experiments, oldest first.
func (fs *FSStore) ListExperiments() ([]ExperimentInfo, error) {
	experimentsDir := filepath.Join(fs.baseDir, "experiments")

	entries, err := os.ReadDir(experimentsDir)
	if os.IsNotExist(err) {
		return []ExperimentInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read experiments directory: %w", err)
	}

	infos := []ExperimentInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id := entry.Name()
		if _, err := os.Stat(fs.experimentPath(id)); os.IsNotExist(err) {
			continue // Trace-only or unfinished directories
		}

		experiment, err := fs.LoadExperiment(id)
		if err != nil {
			slog.Warn("Failed to load experiment for listing", "id", id, "error", err)
			continue
		}

		infos = append(infos, experiment.ToInfo())
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.Before(infos[j].Timestamp)
	})

	slog.Debug("Listed experiments", "count", len(infos))
	return infos, nil
}

// DeleteExperiment removes the experiment directory including its trace.
func (fs *FSStore) DeleteExperiment(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	dir := ExperimentDir(fs.baseDir, id)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{ID: id}
	} else if err != nil {
		return fmt.Errorf("failed to stat experiment directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove experiment directory: %w", err)
	}

	slog.Debug("Experiment deleted", "id", id, "path", dir)
	return nil
}
