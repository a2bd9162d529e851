package experiment

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/esbench/internal/opt"
	"github.com/cwbudde/esbench/internal/problem"
	"github.com/cwbudde/esbench/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Problem = 1
	cfg.Dimension = 2
	cfg.Runs = 3
	cfg.Budget = 300
	cfg.PopulationSize = 5
	cfg.OffspringSize = 10
	cfg.Sigma = 0.3
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 23, cfg.Problem)
	assert.Equal(t, 10, cfg.Dimension)
	assert.Equal(t, 1, cfg.Instance)
	assert.Equal(t, 20, cfg.Runs)
	assert.Equal(t, 50000, cfg.Budget)
	assert.Equal(t, 50, cfg.PopulationSize)
	assert.Equal(t, 100, cfg.OffspringSize)
	assert.Equal(t, 0.1, cfg.Sigma)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, -5.0, cfg.Lower)
	assert.Equal(t, 5.0, cfg.Upper)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, cfg Config)
		wantErr bool
	}{
		{
			name:    "yaml overrides",
			content: "problem: 1\ndimension: 5\nruns: 3\nsigma: 0.5\ntrace: true\n",
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, 1, cfg.Problem)
				assert.Equal(t, 5, cfg.Dimension)
				assert.Equal(t, 3, cfg.Runs)
				assert.Equal(t, 0.5, cfg.Sigma)
				assert.True(t, cfg.Trace)
				// untouched keys keep defaults
				assert.Equal(t, 50000, cfg.Budget)
				assert.Equal(t, 50, cfg.PopulationSize)
			},
		},
		{
			name:    "json is yaml",
			content: `{"algorithm": "mayfly", "populationSize": 20, "seed": 7}`,
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, opt.AlgorithmMayfly, cfg.Algorithm)
				assert.Equal(t, 20, cfg.PopulationSize)
				assert.Equal(t, int64(7), cfg.Seed)
			},
		},
		{
			name:    "unknown key",
			content: "popsize: 10\n",
			wantErr: true,
		},
		{
			name:    "malformed",
			content: "problem: [1\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			cfg, err := LoadConfig(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{3, 1, 2})
	assert.Equal(t, 1.0, s.Best)
	assert.InDelta(t, 2.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3.0), s.Std, 1e-12)

	assert.Equal(t, store.Summary{}, Summarize(nil))

	single := Summarize([]float64{4.5})
	assert.Equal(t, store.Summary{Best: 4.5, Mean: 4.5, Std: 0}, single)
}

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFSStore(dir)
	require.NoError(t, err)

	var progress []Progress
	runner := &Runner{Store: fs, OnRun: func(p Progress) { progress = append(progress, p) }}

	cfg := smallConfig()
	exp, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.NotEmpty(t, exp.ID)
	assert.Equal(t, "f1_sphere", exp.ProblemName)
	assert.NotEmpty(t, exp.Config.AlgorithmInfo)
	require.Len(t, exp.Runs, cfg.Runs)

	for i, run := range exp.Runs {
		assert.Equal(t, i, run.Run)
		assert.Equal(t, cfg.Seed+int64(i), run.Seed)
		// budget is checked per generation: overshoot stays below lambda
		assert.GreaterOrEqual(t, run.Evaluations, cfg.Budget)
		assert.Less(t, run.Evaluations, cfg.Budget+cfg.OffspringSize)
		assert.Greater(t, run.Generations, 0)
	}

	assert.Equal(t, Summarize(bestFitness(exp.Runs)), exp.Summary)

	// persisted
	loaded, err := fs.LoadExperiment(exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.Summary, loaded.Summary)

	// progress reported once per run with a non-increasing best
	require.Len(t, progress, cfg.Runs)
	for i, p := range progress {
		assert.Equal(t, exp.ID, p.ExperimentID)
		assert.Equal(t, i, p.Run)
		assert.Equal(t, cfg.Runs, p.Runs)
		if i > 0 {
			assert.LessOrEqual(t, p.Best, progress[i-1].Best)
		}
	}
	assert.Equal(t, exp.Summary.Best, progress[len(progress)-1].Best)
}

func TestRunner_Deterministic(t *testing.T) {
	runner := &Runner{}
	cfg := smallConfig()

	a, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)
	b, err := runner.Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	if diff := cmp.Diff(a.Runs, b.Runs, cmpopts.IgnoreFields(store.RunRecord{}, "Elapsed")); diff != "" {
		t.Errorf("runs differ under the same seed (-first +second):\n%s", diff)
	}

	// distinct seeds per run give distinct results
	assert.NotEqual(t, a.Runs[0].BestFitness, a.Runs[1].BestFitness)
}

func TestRunner_Trace(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{TraceDir: dir}

	cfg := smallConfig()
	cfg.Trace = true

	exp, err := runner.RunWithID(context.Background(), "traced", cfg)
	require.NoError(t, err)
	assert.Equal(t, "traced", exp.ID)

	header, err := store.ReadTraceHeader(dir, "traced")
	require.NoError(t, err)
	assert.Equal(t, "f1_sphere", header.ProblemName)
	assert.Equal(t, opt.AlgorithmES, header.Algorithm)
	assert.Nil(t, header.OptimumPosition, "optimum location is only traced with positions")

	reader, err := store.NewTraceReader(dir, "traced")
	require.NoError(t, err)
	defer reader.Close()

	entries, err := reader.ReadAll()
	require.NoError(t, err)

	total := 0
	for _, run := range exp.Runs {
		total += run.Evaluations
	}
	require.Len(t, entries, total)

	perRun := map[int]int{}
	for _, e := range entries {
		perRun[e.Run]++
		assert.Equal(t, perRun[e.Run], e.Evaluation)
	}
	for _, run := range exp.Runs {
		assert.Equal(t, run.Evaluations, perRun[run.Run])
	}
}

func TestRunner_TracePositions(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{TraceDir: dir, TracePositions: true}

	cfg := smallConfig()
	cfg.Runs = 1
	cfg.Trace = true

	_, err := runner.RunWithID(context.Background(), "positions", cfg)
	require.NoError(t, err)

	reader, err := store.NewTraceReader(dir, "positions")
	require.NoError(t, err)
	defer reader.Close()

	entry, err := reader.Read()
	require.NoError(t, err)
	assert.Len(t, entry.Position, cfg.Dimension)

	header, err := store.ReadTraceHeader(dir, "positions")
	require.NoError(t, err)
	assert.Len(t, header.OptimumPosition, cfg.Dimension)

	p, err := problem.New(cfg.Problem, cfg.Dimension, cfg.Instance)
	require.NoError(t, err)
	assert.Equal(t, p.Optimum(), header.OptimumValue)
	assert.Equal(t, p.OptimumPosition(), header.OptimumPosition)
}

func TestRunner_TraceRequiresDir(t *testing.T) {
	cfg := smallConfig()
	cfg.Trace = true

	_, err := (&Runner{}).Run(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRunner_Cancelled(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFSStore(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	runner := &Runner{Store: fs, OnRun: func(Progress) {
		calls++
		cancel()
	}}

	_, err = runner.Run(ctx, smallConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	infos, err := fs.ListExperiments()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestRunner_CancelledRemovesTrace(t *testing.T) {
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	runner := &Runner{TraceDir: dir, OnRun: func(Progress) { cancel() }}

	cfg := smallConfig()
	cfg.Trace = true

	_, err := runner.RunWithID(ctx, "cancelled", cfg)
	require.ErrorIs(t, err, context.Canceled)

	_, err = os.Stat(store.ExperimentDir(dir, "cancelled"))
	assert.True(t, os.IsNotExist(err), "partial trace should be removed, stat returned %v", err)

	_, err = store.NewTraceReader(dir, "cancelled")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// failingStore rejects every save.
type failingStore struct {
	store.Store
}

func (failingStore) SaveExperiment(*store.Experiment) error { return errors.New("disk full") }

func TestRunner_SaveFailureRemovesTrace(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{Store: failingStore{}, TraceDir: dir}

	cfg := smallConfig()
	cfg.Trace = true

	_, err := runner.RunWithID(context.Background(), "unsaved", cfg)
	require.Error(t, err)

	_, err = os.Stat(store.ExperimentDir(dir, "unsaved"))
	assert.True(t, os.IsNotExist(err), "trace of an unsaved experiment should be removed, stat returned %v", err)
}

func TestRunner_RejectsUnsafeID(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{TraceDir: dir}

	cfg := smallConfig()
	cfg.Trace = true

	var vErr *store.ValidationError
	_, err := runner.RunWithID(context.Background(), "..", cfg)
	assert.ErrorAs(t, err, &vErr)
}

func TestRunner_InvalidConfig(t *testing.T) {
	runner := &Runner{}

	cfg := smallConfig()
	cfg.Runs = 0
	var vErr *store.ValidationError
	_, err := runner.Run(context.Background(), cfg)
	assert.ErrorAs(t, err, &vErr)

	cfg = smallConfig()
	cfg.Algorithm = "simplex"
	_, err = runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, opt.ErrInvalidConfig)

	cfg = smallConfig()
	cfg.Problem = 99
	_, err = runner.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, problem.ErrUnknownProblem)

	cfg = smallConfig()
	cfg.Lower, cfg.Upper = -1, 1
	_, err = runner.Run(context.Background(), cfg)
	assert.True(t, errors.Is(err, opt.ErrInvalidConfig), "bounds must match the problem domain: %v", err)
}

func TestRunner_Mayfly(t *testing.T) {
	cfg := smallConfig()
	cfg.Algorithm = opt.AlgorithmMayfly
	cfg.PopulationSize = 20
	cfg.Runs = 2
	cfg.Budget = 400

	exp, err := (&Runner{}).Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, exp.Runs, 2)
	for _, run := range exp.Runs {
		assert.LessOrEqual(t, run.Evaluations, cfg.Budget)
		assert.False(t, math.IsInf(run.BestFitness, 0))
	}
}
