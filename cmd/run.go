package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/esbench/internal/experiment"
	"github.com/cwbudde/esbench/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath     string
	runFlags       = experiment.DefaultConfig()
	tracePositions bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a batch of independent optimization runs",
	Long: `Runs the configured optimizer on one problem instance several times with
consecutive seeds, prints per-run results and the summary, and stores the
experiment under --data-dir.

Settings come from DefaultConfig, then --config (YAML or JSON), then any flag
given explicitly on the command line.`,
	RunE: runExperiment,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML or JSON experiment config file")
	f.StringVar(&runFlags.Name, "name", runFlags.Name, "Experiment label")
	f.StringVar(&runFlags.Algorithm, "algorithm", runFlags.Algorithm, "Optimizer: es, mayfly")
	f.StringVar(&runFlags.AlgorithmInfo, "info", runFlags.AlgorithmInfo, "Free-form algorithm description stored with the results")
	f.IntVar(&runFlags.Problem, "problem", runFlags.Problem, "Benchmark function id (see 'problems')")
	f.IntVar(&runFlags.Dimension, "dim", runFlags.Dimension, "Search space dimension")
	f.IntVar(&runFlags.Instance, "instance", runFlags.Instance, "Problem instance")
	f.IntVar(&runFlags.Runs, "runs", runFlags.Runs, "Number of independent runs")
	f.IntVar(&runFlags.Budget, "budget", runFlags.Budget, "Evaluation budget per run")
	f.IntVar(&runFlags.PopulationSize, "mu", runFlags.PopulationSize, "Population size")
	f.IntVar(&runFlags.OffspringSize, "lambda", runFlags.OffspringSize, "Offspring per generation")
	f.Float64Var(&runFlags.Sigma, "sigma", runFlags.Sigma, "Mutation step size")
	f.Int64Var(&runFlags.Seed, "seed", runFlags.Seed, "Seed of run 0; run r uses seed+r")
	f.BoolVar(&runFlags.Trace, "trace", runFlags.Trace, "Write every evaluation to trace.jsonl")
	f.BoolVar(&tracePositions, "trace-positions", false, "Include evaluated candidates in the trace")

	rootCmd.AddCommand(runCmd)
}

// flagFields maps run flags onto the config field they set.
var flagFields = map[string]func(dst, src *experiment.Config){
	"name":      func(d, s *experiment.Config) { d.Name = s.Name },
	"algorithm": func(d, s *experiment.Config) { d.Algorithm = s.Algorithm },
	"info":      func(d, s *experiment.Config) { d.AlgorithmInfo = s.AlgorithmInfo },
	"problem":   func(d, s *experiment.Config) { d.Problem = s.Problem },
	"dim":       func(d, s *experiment.Config) { d.Dimension = s.Dimension },
	"instance":  func(d, s *experiment.Config) { d.Instance = s.Instance },
	"runs":      func(d, s *experiment.Config) { d.Runs = s.Runs },
	"budget":    func(d, s *experiment.Config) { d.Budget = s.Budget },
	"mu":        func(d, s *experiment.Config) { d.PopulationSize = s.PopulationSize },
	"lambda":    func(d, s *experiment.Config) { d.OffspringSize = s.OffspringSize },
	"sigma":     func(d, s *experiment.Config) { d.Sigma = s.Sigma },
	"seed":      func(d, s *experiment.Config) { d.Seed = s.Seed },
	"trace":     func(d, s *experiment.Config) { d.Trace = s.Trace },
}

// resolveConfig layers explicitly set flags over the config file (or the
// defaults when no file is given).
func resolveConfig(flags *pflag.FlagSet, path string, fromFlags experiment.Config) (experiment.Config, error) {
	cfg := experiment.DefaultConfig()
	if path != "" {
		loaded, err := experiment.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	flags.Visit(func(f *pflag.Flag) {
		if set, ok := flagFields[f.Name]; ok {
			set(&cfg, &fromFlags)
		}
	})

	return cfg, cfg.Validate()
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Flags(), configPath, runFlags)
	if err != nil {
		return err
	}

	st, err := store.NewStore(storeKind, dataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.CloseIfSupported(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := &experiment.Runner{
		Store:          st,
		TraceDir:       dataDir,
		TracePositions: tracePositions,
	}

	start := time.Now()
	exp, err := runner.Run(ctx, cfg)
	if err != nil {
		return err
	}

	slog.Info("Experiment stored", "id", exp.ID, "store", storeKind, "elapsed", time.Since(start))

	printExperiment(cmd.OutOrStdout(), exp)
	return nil
}

// printExperiment writes the per-run table and the summary line.
func printExperiment(out io.Writer, exp *store.Experiment) {
	cfg := exp.Config
	fmt.Fprintf(out, "%s: %s on %s, d=%d, instance %d\n", cfg.Name, cfg.AlgorithmInfo, exp.ProblemName, cfg.Dimension, cfg.Instance)
	fmt.Fprintf(out, "%d runs, budget %s evaluations\n\n", len(exp.Runs), humanize.Comma(int64(cfg.Budget)))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "RUN\tSEED\tBEST FITNESS\tEVALUATIONS\tGENERATIONS\tELAPSED\t")
	for _, r := range exp.Runs {
		fmt.Fprintf(w, "%d\t%d\t%.8g\t%s\t%d\t%s\t\n",
			r.Run,
			r.Seed,
			r.BestFitness,
			humanize.Comma(int64(r.Evaluations)),
			r.Generations,
			time.Duration(r.Elapsed*float64(time.Second)).Round(time.Millisecond),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nbest %.8g  mean %.8g  std %.8g\n", exp.Summary.Best, exp.Summary.Mean, exp.Summary.Std)
	fmt.Fprintf(out, "experiment %s\n", exp.ID)
}
