package opt

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/esbench/internal/problem"
	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface.
// It serves as a baseline against the ES on the same problems and budgets.
type MayflyAdapter struct {
	cfg ESConfig
}

// NewMayfly creates a new Mayfly optimizer adapter.
// Only PopulationSize, Dimension, Budget and the bounds of cfg are used.
func NewMayfly(cfg ESConfig) (*MayflyAdapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MayflyAdapter{cfg: cfg}, nil
}

func (m *MayflyAdapter) Name() string { return AlgorithmMayfly }

// Run executes the Mayfly optimization using the external library.
// Objective calls past the budget are answered with +Inf without evaluating,
// so the objective never sees more than Budget evaluations from this run.
func (m *MayflyAdapter) Run(obj problem.Objective, rng *rand.Rand) (Result, error) {
	if err := m.cfg.checkObjective(obj); err != nil {
		return Result{}, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var evalErr error
	eval := func(x []float64) float64 {
		if evalErr != nil || obj.Evaluations() >= m.cfg.Budget {
			return math.Inf(1)
		}
		f, err := obj.Evaluate(x)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		return f
	}

	// Create config for external Mayfly library
	config := mayfly.NewDefaultConfig()

	config.ObjectiveFunc = eval
	config.ProblemSize = m.cfg.Dimension
	config.NPop = m.cfg.PopulationSize
	// Every iteration evaluates at least NPop candidates, so this many
	// iterations always exhausts the budget.
	config.MaxIterations = m.cfg.Budget/m.cfg.PopulationSize + 1

	// External library uses scalar bounds
	config.LowerBound = m.cfg.Lower
	config.UpperBound = m.cfg.Upper

	config.Rand = rng

	result, err := mayfly.Optimize(config)
	if err != nil {
		return Result{}, fmt.Errorf("mayfly: %w", err)
	}
	if evalErr != nil {
		return Result{}, fmt.Errorf("mayfly: evaluate candidate: %w", evalErr)
	}

	return Result{
		BestFitness:  result.GlobalBest.Cost,
		BestPosition: result.GlobalBest.Position,
		Evaluations:  obj.Evaluations(),
	}, nil
}
