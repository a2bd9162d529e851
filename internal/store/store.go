package store

// Store defines the interface for experiment result persistence.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the experiment doesn't exist (for Load/Delete)
//   - Return descriptive errors for I/O, serialization, or validation failures
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveExperiment validates and saves an experiment under its ID.
	// An existing experiment with the same ID is overwritten.
	SaveExperiment(experiment *Experiment) error

	// LoadExperiment retrieves the experiment with the given ID.
	// Returns ErrNotFound if no such experiment exists.
	LoadExperiment(id string) (*Experiment, error)

	// ListExperiments returns metadata for all stored experiments.
	// The returned slice may be empty.
	ListExperiments() ([]ExperimentInfo, error)

	// DeleteExperiment removes the experiment and its trace.
	// Returns ErrNotFound if no such experiment exists.
	DeleteExperiment(id string) error
}

// ErrNotFound is returned when a requested experiment does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing experiment or trace.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "experiment not found: " + e.ID
	}
	return "experiment not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
