package experiment

import (
	"fmt"
	"os"

	"github.com/cwbudde/esbench/internal/opt"
	"github.com/cwbudde/esbench/internal/problem"
	"github.com/cwbudde/esbench/internal/store"
	"sigs.k8s.io/yaml"
)

// Config describes a batch of independent runs on one problem instance.
type Config = store.ExperimentConfig

// DefaultConfig returns the benchmark setup: 20 runs of the (50+100)-ES on
// the 10-dimensional Katsuura function, instance 1.
func DefaultConfig() Config {
	return Config{
		Name:           "evolution strategy",
		Algorithm:      opt.AlgorithmES,
		Problem:        23,
		Dimension:      10,
		Instance:       1,
		Runs:           20,
		Budget:         50000,
		PopulationSize: 50,
		OffspringSize:  100,
		Sigma:          0.1,
		Seed:           42,
		Lower:          problem.LowerBound,
		Upper:          problem.UpperBound,
	}
}

// LoadConfig reads a YAML or JSON config file. Keys use the JSON field names
// (e.g. populationSize) and missing keys keep their DefaultConfig value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ESConfig maps the experiment settings onto optimizer hyperparameters.
func ESConfig(cfg Config) opt.ESConfig {
	return opt.ESConfig{
		PopulationSize: cfg.PopulationSize,
		OffspringSize:  cfg.OffspringSize,
		Dimension:      cfg.Dimension,
		Sigma:          cfg.Sigma,
		Budget:         cfg.Budget,
		Lower:          cfg.Lower,
		Upper:          cfg.Upper,
	}
}

func describe(cfg Config) string {
	if cfg.Algorithm == opt.AlgorithmMayfly {
		return fmt.Sprintf("mayfly npop=%d", cfg.PopulationSize)
	}
	return fmt.Sprintf("(%d+%d)-ES sigma=%g", cfg.PopulationSize, cfg.OffspringSize, cfg.Sigma)
}
