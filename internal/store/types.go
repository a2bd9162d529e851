package store

import (
	"fmt"
	"strings"
	"time"
)

// ExperimentConfig holds configuration for a batch of optimization runs.
// It lives here rather than in the experiment package to avoid import cycles
// with server and cmd.
type ExperimentConfig struct {
	Name          string `json:"name"`                    // experiment label, e.g. "evolution strategy"
	Algorithm     string `json:"algorithm"`               // es, mayfly
	AlgorithmInfo string `json:"algorithmInfo,omitempty"` // free-form description kept with the results

	Problem   int `json:"problem"`   // benchmark function id
	Dimension int `json:"dimension"` // search space dimension
	Instance  int `json:"instance"`  // benchmark instance, selects optimum and rotations

	Runs           int     `json:"runs"`
	Budget         int     `json:"budget"`
	PopulationSize int     `json:"populationSize"`
	OffspringSize  int     `json:"offspringSize"`
	Sigma          float64 `json:"sigma"`
	Seed           int64   `json:"seed"` // run r uses Seed+r
	Lower          float64 `json:"lower"`
	Upper          float64 `json:"upper"`

	Trace bool `json:"trace,omitempty"` // write trace.jsonl next to the results
}

// RunRecord is the outcome of one independent run.
type RunRecord struct {
	Run         int     `json:"run"`
	Seed        int64   `json:"seed"`
	BestFitness float64 `json:"bestFitness"`
	Evaluations int     `json:"evaluations"`
	Generations int     `json:"generations"`
	Elapsed     float64 `json:"elapsed"` // seconds
}

// Summary aggregates the best fitness values of all runs.
type Summary struct {
	Best float64 `json:"best"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"` // population standard deviation
}

// Experiment is a completed batch of runs as persisted by a Store.
type Experiment struct {
	// ID is the unique identifier of the experiment
	ID string `json:"id"`

	// ProblemName is the resolved objective name, e.g. "f23_katsuura"
	ProblemName string `json:"problemName"`

	Config  ExperimentConfig `json:"config"`
	Runs    []RunRecord      `json:"runs"`
	Summary Summary          `json:"summary"`

	// Timestamp records when the experiment finished
	Timestamp time.Time `json:"timestamp"`
}

// ExperimentInfo contains experiment metadata without the per-run records.
type ExperimentInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Algorithm   string    `json:"algorithm"`
	ProblemName string    `json:"problemName"`
	Dimension   int       `json:"dimension"`
	Runs        int       `json:"runs"`
	Budget      int       `json:"budget"`
	Best        float64   `json:"best"`
	Mean        float64   `json:"mean"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewExperiment creates an experiment record stamped with the current time.
func NewExperiment(id, problemName string, config ExperimentConfig, runs []RunRecord, summary Summary) *Experiment {
	return &Experiment{
		ID:          id,
		ProblemName: problemName,
		Config:      config,
		Runs:        runs,
		Summary:     summary,
		Timestamp:   time.Now(),
	}
}

// ToInfo converts a full Experiment to ExperimentInfo (metadata only).
func (e *Experiment) ToInfo() ExperimentInfo {
	return ExperimentInfo{
		ID:          e.ID,
		Name:        e.Config.Name,
		Algorithm:   e.Config.Algorithm,
		ProblemName: e.ProblemName,
		Dimension:   e.Config.Dimension,
		Runs:        len(e.Runs),
		Budget:      e.Config.Budget,
		Best:        e.Summary.Best,
		Mean:        e.Summary.Mean,
		Timestamp:   e.Timestamp,
	}
}

// Validate checks if the experiment has valid data.
func (e *Experiment) Validate() error {
	if err := ValidateID(e.ID); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := e.Config.Validate(); err != nil {
		return err
	}
	if len(e.Runs) != e.Config.Runs {
		return &ValidationError{
			Field:  "Runs",
			Reason: fmt.Sprintf("length mismatch: expected %d runs, got %d", e.Config.Runs, len(e.Runs)),
		}
	}
	for i, r := range e.Runs {
		if r.Run != i {
			return &ValidationError{Field: "Runs", Reason: fmt.Sprintf("run %d recorded at position %d", r.Run, i)}
		}
		if r.Evaluations < 0 {
			return &ValidationError{Field: "Runs.Evaluations", Reason: "cannot be negative"}
		}
	}
	return nil
}

// Validate checks the fields every experiment needs before it can run.
func (c *ExperimentConfig) Validate() error {
	if c.Problem <= 0 {
		return &ValidationError{Field: "Config.Problem", Reason: "must be positive"}
	}
	if c.Dimension <= 0 {
		return &ValidationError{Field: "Config.Dimension", Reason: "must be positive"}
	}
	if c.Instance <= 0 {
		return &ValidationError{Field: "Config.Instance", Reason: "must be positive"}
	}
	if c.Runs <= 0 {
		return &ValidationError{Field: "Config.Runs", Reason: "must be positive"}
	}
	if c.Budget < 0 {
		return &ValidationError{Field: "Config.Budget", Reason: "cannot be negative"}
	}
	if c.PopulationSize <= 0 {
		return &ValidationError{Field: "Config.PopulationSize", Reason: "must be positive"}
	}
	if c.OffspringSize <= 0 {
		return &ValidationError{Field: "Config.OffspringSize", Reason: "must be positive"}
	}
	if c.Sigma < 0 {
		return &ValidationError{Field: "Config.Sigma", Reason: "cannot be negative"}
	}
	if c.Lower >= c.Upper {
		return &ValidationError{Field: "Config.Lower", Reason: "must be below Config.Upper"}
	}
	return nil
}

// ValidateID rejects ids that cannot name a single directory below
// <base>/experiments. Every store and trace operation checks it before
// touching the filesystem.
func ValidateID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	case id == "." || id == "..":
		return &ValidationError{Field: "ID", Reason: "cannot be " + id}
	case strings.ContainsAny(id, `/\`+"\x00"):
		return &ValidationError{Field: "ID", Reason: "cannot contain path separators"}
	}
	return nil
}

// ValidationError represents an experiment validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
