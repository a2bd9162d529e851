package problem

import (
	"fmt"
	"math"
	"math/rand"
)

// Domain bounds shared by every function in the suite.
const (
	LowerBound = -5.0
	UpperBound = 5.0
)

// Info describes a supported benchmark function.
type Info struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Problems lists the supported functions ordered by id.
func Problems() []Info {
	infos := make([]Info, len(definitions))
	for i, def := range definitions {
		infos[i] = Info{ID: def.id, Name: def.name}
	}
	return infos
}

// Problem is one instance of a benchmark function with an evaluation counter.
// It is not safe for concurrent use.
type Problem struct {
	id       int
	name     string
	dim      int
	instance int
	fopt     float64
	fn       function

	evaluations int
	best        float64
	recorder    Recorder
}

// New instantiates function id in the given dimension. The instance number
// deterministically selects the optimum location, optimum value and rotations.
func New(id, dim, instance int) (*Problem, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if instance <= 0 {
		return nil, fmt.Errorf("instance must be positive, got %d", instance)
	}

	var def *definition
	for i := range definitions {
		if definitions[i].id == id {
			def = &definitions[i]
			break
		}
	}
	if def == nil {
		return nil, fmt.Errorf("%w: f%d", ErrUnknownProblem, id)
	}

	rng := rand.New(rand.NewSource(int64(id)*1_000_003 + int64(instance)*7919 + int64(dim)))

	return &Problem{
		id:       id,
		name:     fmt.Sprintf("f%d_%s", id, def.name),
		dim:      dim,
		instance: instance,
		fopt:     randomOptimumValue(rng),
		fn:       def.build(rng, dim),
		best:     math.Inf(1),
	}, nil
}

// randomOptimumValue draws a Cauchy-distributed optimum value rounded to
// two decimals and clamped to [-1000, 1000].
func randomOptimumValue(rng *rand.Rand) float64 {
	c := rng.NormFloat64() / rng.NormFloat64()
	v := math.Round(100*c) / 100
	return math.Max(-1000, math.Min(1000, v))
}

// Evaluate implements Objective.
func (p *Problem) Evaluate(x []float64) (float64, error) {
	if len(x) != p.dim {
		return 0, fmt.Errorf("%w: %s expects %d coordinates, got %d", ErrDimensionMismatch, p.name, p.dim, len(x))
	}

	y := p.fn.eval(x) + p.fopt
	p.evaluations++
	if y < p.best {
		p.best = y
	}

	if p.recorder != nil {
		err := p.recorder.Record(Evaluation{
			Count:     p.evaluations,
			Fitness:   y,
			Precision: y - p.fopt,
			BestSoFar: p.best,
			Position:  x,
		})
		if err != nil {
			return y, fmt.Errorf("record evaluation %d: %w", p.evaluations, err)
		}
	}

	return y, nil
}

// Evaluations implements Objective.
func (p *Problem) Evaluations() int { return p.evaluations }

// Reset implements Objective.
func (p *Problem) Reset() {
	p.evaluations = 0
	p.best = math.Inf(1)
	p.recorder = nil
}

// Attach implements Objective.
func (p *Problem) Attach(r Recorder) { p.recorder = r }

// Dimension implements Objective.
func (p *Problem) Dimension() int { return p.dim }

// Bounds implements Objective.
func (p *Problem) Bounds() (lower, upper float64) { return LowerBound, UpperBound }

// Name implements Objective.
func (p *Problem) Name() string { return p.name }

func (p *Problem) ID() int       { return p.id }
func (p *Problem) Instance() int { return p.instance }

// Optimum returns the function value at the global optimum.
func (p *Problem) Optimum() float64 { return p.fopt }

// OptimumPosition returns a copy of the location of the global optimum.
func (p *Problem) OptimumPosition() []float64 {
	xopt := p.fn.optimum()
	out := make([]float64, len(xopt))
	copy(out, xopt)
	return out
}

// BestSoFar returns the lowest fitness seen since the last Reset.
func (p *Problem) BestSoFar() float64 { return p.best }
