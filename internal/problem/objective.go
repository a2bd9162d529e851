package problem

import "errors"

// Objective is a black-box function to minimize together with its running
// evaluation counter.
type Objective interface {
	// Evaluate returns the fitness of x and increments the evaluation counter.
	Evaluate(x []float64) (float64, error)

	// Evaluations returns the number of Evaluate calls since the last Reset.
	Evaluations() int

	// Reset zeroes the evaluation counter and detaches any recorder.
	// The problem definition and its bounds are kept.
	Reset()

	// Dimension returns the length of vectors accepted by Evaluate.
	Dimension() int

	// Bounds returns the per-coordinate search domain.
	Bounds() (lower, upper float64)

	// Name identifies the problem, e.g. "f23_katsuura".
	Name() string

	// Attach sets the recorder that receives every subsequent evaluation.
	// A nil recorder detaches.
	Attach(r Recorder)
}

// Evaluation describes one objective call as seen by a Recorder.
type Evaluation struct {
	Count     int
	Fitness   float64
	Precision float64 // Fitness minus the known optimum value
	BestSoFar float64

	// Position is the evaluated vector itself, not a copy. Recorders must
	// not modify it and must copy it to keep it past Record.
	Position []float64
}

// Recorder receives evaluations from an Objective.
type Recorder interface {
	Record(e Evaluation) error
}

var (
	// ErrDimensionMismatch is returned by Evaluate for vectors of the wrong length.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnknownProblem is returned by New for unsupported function ids.
	ErrUnknownProblem = errors.New("unknown problem")
)
