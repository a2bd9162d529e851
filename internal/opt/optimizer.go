package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/esbench/internal/problem"
)

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Name returns the algorithm identifier ("es", "mayfly")
	Name() string

	// Run minimizes obj until its evaluation budget is spent.
	// rng is the only source of randomness used by the run.
	Run(obj problem.Objective, rng *rand.Rand) (Result, error)
}

// Result is the outcome of a single optimization run
type Result struct {
	// BestFitness is the lowest fitness in the final population
	BestFitness float64 `json:"bestFitness"`

	// BestPosition is the candidate that achieved BestFitness
	BestPosition []float64 `json:"bestPosition,omitempty"`

	// Generations completed after initialization (0 when not tracked)
	Generations int `json:"generations"`

	// Evaluations reported by the objective when the run ended
	Evaluations int `json:"evaluations"`
}

// Algorithms lists the names accepted by New.
func Algorithms() []string {
	return []string{AlgorithmES, AlgorithmMayfly}
}

const (
	AlgorithmES     = "es"
	AlgorithmMayfly = "mayfly"
)

// New creates the optimizer registered under algorithm.
func New(algorithm string, cfg ESConfig) (Optimizer, error) {
	switch algorithm {
	case "", AlgorithmES:
		es, err := NewES(cfg)
		if err != nil {
			return nil, err
		}
		return es, nil
	case AlgorithmMayfly:
		m, err := NewMayfly(cfg)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, algorithm)
	}
}
