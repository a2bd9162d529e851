package opt

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/cwbudde/esbench/internal/problem"
)

// ErrInvalidConfig wraps every configuration error reported before a run starts.
var ErrInvalidConfig = errors.New("invalid optimizer config")

// Generation is a snapshot handed to ESConfig.Hook. The slices belong to the
// optimizer and must not be modified or retained.
type Generation struct {
	Index       int
	Evaluations int
	Population  [][]float64
	Fitness     []float64
}

// ESConfig holds the fixed hyperparameters of a (mu+lambda) run.
type ESConfig struct {
	PopulationSize int // mu
	OffspringSize  int // lambda
	Dimension      int
	Sigma          float64 // mutation step size, constant for the run
	Budget         int     // maximum evaluations, initialization included
	Lower, Upper   float64 // initialization domain, must equal the objective's bounds

	// Hook, if set, is called after initialization and after every selection.
	Hook func(Generation)
}

// DefaultESConfig returns the hyperparameters used by the benchmark driver.
func DefaultESConfig() ESConfig {
	return ESConfig{
		PopulationSize: 50,
		OffspringSize:  100,
		Dimension:      10,
		Sigma:          0.1,
		Budget:         50000,
		Lower:          problem.LowerBound,
		Upper:          problem.UpperBound,
	}
}

// Validate reports the first invalid hyperparameter.
func (c ESConfig) Validate() error {
	switch {
	case c.PopulationSize <= 0:
		return fmt.Errorf("%w: population size must be positive, got %d", ErrInvalidConfig, c.PopulationSize)
	case c.OffspringSize <= 0:
		return fmt.Errorf("%w: offspring size must be positive, got %d", ErrInvalidConfig, c.OffspringSize)
	case c.Dimension <= 0:
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, c.Dimension)
	case c.Sigma < 0 || math.IsNaN(c.Sigma) || math.IsInf(c.Sigma, 0):
		return fmt.Errorf("%w: sigma must be finite and non-negative, got %v", ErrInvalidConfig, c.Sigma)
	case c.Budget < 0:
		return fmt.Errorf("%w: budget must not be negative, got %d", ErrInvalidConfig, c.Budget)
	case math.IsNaN(c.Lower) || math.IsNaN(c.Upper) || math.IsInf(c.Lower, 0) || math.IsInf(c.Upper, 0):
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidConfig)
	case c.Lower >= c.Upper:
		return fmt.Errorf("%w: lower bound %v must be below upper bound %v", ErrInvalidConfig, c.Lower, c.Upper)
	}
	return nil
}

// checkObjective reports a dimension or domain mismatch between cfg and obj.
func (c ESConfig) checkObjective(obj problem.Objective) error {
	if obj.Dimension() != c.Dimension {
		return fmt.Errorf("%w: objective %s has dimension %d, optimizer expects %d",
			ErrInvalidConfig, obj.Name(), obj.Dimension(), c.Dimension)
	}
	if lo, hi := obj.Bounds(); lo != c.Lower || hi != c.Upper {
		return fmt.Errorf("%w: objective %s has bounds [%v, %v], optimizer expects [%v, %v]",
			ErrInvalidConfig, obj.Name(), lo, hi, c.Lower, c.Upper)
	}
	return nil
}

// ES is a (mu+lambda) evolution strategy with isotropic Gaussian mutation
// and truncation selection.
type ES struct {
	cfg ESConfig
}

// NewES validates cfg and returns the optimizer.
func NewES(cfg ESConfig) (*ES, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ES{cfg: cfg}, nil
}

func (e *ES) Name() string { return AlgorithmES }

// Run executes one run against obj and returns the best fitness of the final
// population.
//
// The budget is checked against obj.Evaluations() only at the start of each
// generation, so the last generation may overshoot it by up to
// OffspringSize-1 evaluations. Initialization always runs. Offspring are not
// clipped to the bounds. Any evaluation error aborts the run.
func (e *ES) Run(obj problem.Objective, rng *rand.Rand) (Result, error) {
	cfg := e.cfg
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if err := cfg.checkObjective(obj); err != nil {
		return Result{}, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	mu, lambda, dim := cfg.PopulationSize, cfg.OffspringSize, cfg.Dimension

	population := make([][]float64, mu)
	fitness := make([]float64, mu)
	for i := range population {
		x := make([]float64, dim)
		for j := range x {
			x[j] = cfg.Lower + rng.Float64()*(cfg.Upper-cfg.Lower)
		}
		f, err := obj.Evaluate(x)
		if err != nil {
			return Result{}, fmt.Errorf("evaluate initial candidate %d: %w", i, err)
		}
		population[i] = x
		fitness[i] = f
	}

	generation := 0
	e.observe(generation, obj, population, fitness)

	pool := make([][]float64, mu+lambda)
	poolFitness := make([]float64, mu+lambda)
	order := make([]int, mu+lambda)

	for obj.Evaluations() < cfg.Budget {
		// Parents are drawn from the population as it stood at the start of
		// the generation; children are fresh slices since survivors are kept.
		copy(pool, population)
		copy(poolFitness, fitness)
		for k := 0; k < lambda; k++ {
			parent := population[rng.Intn(mu)]
			child := make([]float64, dim)
			for j := range child {
				child[j] = parent[j] + cfg.Sigma*rng.NormFloat64()
			}
			pool[mu+k] = child
		}

		for k := 0; k < lambda; k++ {
			f, err := obj.Evaluate(pool[mu+k])
			if err != nil {
				return Result{}, fmt.Errorf("evaluate offspring %d of generation %d: %w", k, generation+1, err)
			}
			poolFitness[mu+k] = f
		}

		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return fitterThan(poolFitness[order[a]], poolFitness[order[b]])
		})

		next := make([][]float64, mu)
		nextFitness := make([]float64, mu)
		for i := 0; i < mu; i++ {
			next[i] = pool[order[i]]
			nextFitness[i] = poolFitness[order[i]]
		}
		population, fitness = next, nextFitness

		generation++
		e.observe(generation, obj, population, fitness)
	}

	best := 0
	for i := 1; i < mu; i++ {
		if fitterThan(fitness[i], fitness[best]) {
			best = i
		}
	}

	return Result{
		BestFitness:  fitness[best],
		BestPosition: population[best],
		Generations:  generation,
		Evaluations:  obj.Evaluations(),
	}, nil
}

func (e *ES) observe(generation int, obj problem.Objective, population [][]float64, fitness []float64) {
	slog.Debug("Generation complete",
		"generation", generation,
		"evaluations", obj.Evaluations(),
		"best_fitness", minFitness(fitness),
	)
	if e.cfg.Hook != nil {
		e.cfg.Hook(Generation{
			Index:       generation,
			Evaluations: obj.Evaluations(),
			Population:  population,
			Fitness:     fitness,
		})
	}
}

// fitterThan orders fitness ascending with NaN after every number.
func fitterThan(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

func minFitness(fitness []float64) float64 {
	best := math.NaN()
	for _, f := range fitness {
		if math.IsNaN(best) || fitterThan(f, best) {
			best = f
		}
	}
	return best
}
