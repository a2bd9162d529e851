package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/esbench/internal/opt"
	"github.com/cwbudde/esbench/internal/problem"
	"github.com/cwbudde/esbench/internal/store"
	"github.com/google/uuid"
)

// Progress is reported after every completed run.
type Progress struct {
	ExperimentID string
	Run          int // index of the run that just finished
	Runs         int // total runs in the batch
	Record       store.RunRecord
	Best         float64 // best fitness over all runs so far
}

// Runner executes experiments and persists their results.
type Runner struct {
	// Store receives the finished experiment. Nil skips persistence.
	Store store.Store

	// TraceDir is the base directory for trace files, required when a
	// config enables tracing.
	TraceDir string

	// TracePositions adds the evaluated candidate to every trace entry.
	TracePositions bool

	// OnRun, if set, is called after each completed run.
	OnRun func(Progress)
}

// Run executes cfg.Runs independent runs sequentially. Run r draws all of its
// randomness from a generator seeded with cfg.Seed+r, so a batch is
// reproducible. ctx is checked between runs only.
func (r *Runner) Run(ctx context.Context, cfg Config) (*store.Experiment, error) {
	return r.RunWithID(ctx, uuid.NewString(), cfg)
}

// RunWithID is Run with a caller-chosen experiment ID.
func (r *Runner) RunWithID(ctx context.Context, id string, cfg Config) (*store.Experiment, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AlgorithmInfo == "" {
		cfg.AlgorithmInfo = describe(cfg)
	}

	obj, err := problem.New(cfg.Problem, cfg.Dimension, cfg.Instance)
	if err != nil {
		return nil, err
	}

	optimizer, err := opt.New(cfg.Algorithm, ESConfig(cfg))
	if err != nil {
		return nil, err
	}

	var trace *store.TraceWriter
	if cfg.Trace {
		if r.TraceDir == "" {
			return nil, errors.New("trace directory is required when tracing is enabled")
		}
		header := store.TraceHeader{
			ExperimentID:  id,
			Name:          cfg.Name,
			Algorithm:     optimizer.Name(),
			AlgorithmInfo: cfg.AlgorithmInfo,
			ProblemName:   obj.Name(),
			Dimension:     cfg.Dimension,
			Instance:      cfg.Instance,
			OptimumValue:  obj.Optimum(),
		}
		if r.TracePositions {
			header.OptimumPosition = obj.OptimumPosition()
		}
		trace, err = store.NewTraceWriter(r.TraceDir, id, header, false)
		if err != nil {
			return nil, err
		}
		trace.IncludePositions(r.TracePositions)
	}

	slog.Info("Starting experiment",
		"experiment_id", id,
		"algorithm", optimizer.Name(),
		"problem", obj.Name(),
		"runs", cfg.Runs,
		"budget", cfg.Budget,
	)

	runs, err := r.execute(ctx, id, cfg, obj, optimizer, trace)
	if trace != nil {
		if cerr := trace.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		r.discardTrace(id, trace)
		return nil, err
	}

	summary := Summarize(bestFitness(runs))
	experiment := store.NewExperiment(id, obj.Name(), cfg, runs, summary)

	if r.Store != nil {
		if err := r.Store.SaveExperiment(experiment); err != nil {
			r.discardTrace(id, trace)
			return nil, fmt.Errorf("failed to save experiment: %w", err)
		}
	}

	slog.Info("Experiment complete",
		"experiment_id", id,
		"best", summary.Best,
		"mean", summary.Mean,
		"std", summary.Std,
	)

	return experiment, nil
}

// discardTrace removes the trace of an experiment that was never stored.
func (r *Runner) discardTrace(id string, trace *store.TraceWriter) {
	if trace == nil {
		return
	}
	if err := store.DeleteTrace(r.TraceDir, id); err != nil {
		slog.Warn("Failed to remove trace of failed experiment", "experiment_id", id, "error", err)
		return
	}
	slog.Debug("Removed trace of failed experiment", "experiment_id", id)
}

func (r *Runner) execute(ctx context.Context, id string, cfg Config, obj *problem.Problem, optimizer opt.Optimizer, trace *store.TraceWriter) ([]store.RunRecord, error) {
	runs := make([]store.RunRecord, 0, cfg.Runs)
	best := math.Inf(1)

	for run := 0; run < cfg.Runs; run++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("experiment cancelled before run %d: %w", run, err)
		}

		seed := cfg.Seed + int64(run)
		rng := rand.New(rand.NewSource(seed))

		obj.Reset()
		if trace != nil {
			obj.Attach(trace.ForRun(run))
		}

		start := time.Now()
		result, err := optimizer.Run(obj, rng)
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", run, err)
		}

		record := store.RunRecord{
			Run:         run,
			Seed:        seed,
			BestFitness: result.BestFitness,
			Evaluations: result.Evaluations,
			Generations: result.Generations,
			Elapsed:     time.Since(start).Seconds(),
		}
		runs = append(runs, record)
		if record.BestFitness < best {
			best = record.BestFitness
		}

		slog.Info("Run complete",
			"experiment_id", id,
			"run", run,
			"best_fitness", record.BestFitness,
			"evaluations", record.Evaluations,
			"elapsed", record.Elapsed,
		)

		if r.OnRun != nil {
			r.OnRun(Progress{
				ExperimentID: id,
				Run:          run,
				Runs:         cfg.Runs,
				Record:       record,
				Best:         best,
			})
		}
	}

	obj.Reset()
	return runs, nil
}
