package experiment

import (
	"github.com/cwbudde/esbench/internal/store"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summarize reduces per-run best fitness values to best, mean and
// population standard deviation. An empty slice yields a zero Summary.
func Summarize(values []float64) store.Summary {
	if len(values) == 0 {
		return store.Summary{}
	}
	return store.Summary{
		Best: floats.Min(values),
		Mean: stat.Mean(values, nil),
		Std:  stat.PopStdDev(values, nil),
	}
}

func bestFitness(runs []store.RunRecord) []float64 {
	values := make([]float64, len(runs))
	for i, r := range runs {
		values[i] = r.BestFitness
	}
	return values
}
