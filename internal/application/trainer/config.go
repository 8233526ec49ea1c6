package trainer

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	domainExp "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
	infraBackbone "github.com/jinbowang1/ctdr-go/internal/infrastructure/backbone"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/runstore"
)

// ExperimentConfig describes one continual training run end to end:
// the backbone, the optimizer, the regularizer tunables, the task
// sequence, and where to persist results.
type ExperimentConfig struct {
	// Name labels the run in the run store.
	Name string `json:"name" yaml:"name"`

	// Epochs is the number of passes over each task's training data.
	Epochs int `json:"epochs" yaml:"epochs"`

	// BatchSize is the training batch size. Zero trains each task as a
	// single full batch.
	BatchSize int `json:"batchSize" yaml:"batchSize"`

	// Model configures the MLP backbone.
	Model infraBackbone.MLPConfig `json:"model" yaml:"model"`

	// Optimizer configures SGD.
	Optimizer infraBackbone.SGDConfig `json:"optimizer" yaml:"optimizer"`

	// Trainer holds the regularizer tunables and the sweep batch size.
	Trainer TrainerConfig `json:"trainer" yaml:"trainer"`

	// Data configures the synthetic task sequence.
	Data dataset.SyntheticConfig `json:"data" yaml:"data"`

	// Store selects run persistence.
	Store runstore.Config `json:"store" yaml:"store"`
}

// DefaultExperimentConfig returns a complete runnable configuration.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Name:      "ctdr-experiment",
		Epochs:    20,
		BatchSize: 16,
		Model:     infraBackbone.DefaultMLPConfig(),
		Optimizer: infraBackbone.DefaultSGDConfig(),
		Trainer:   DefaultTrainerConfig(),
		Data:      dataset.DefaultSyntheticConfig(),
		Store:     runstore.DefaultConfig(),
	}
}

// Validate checks the configuration, including every nested section.
func (c ExperimentConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name must not be empty", domainExp.ErrInvalidExperiment)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive, got %d", domainExp.ErrInvalidExperiment, c.Epochs)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("%w: batchSize must be non-negative, got %d", domainExp.ErrInvalidExperiment, c.BatchSize)
	}
	if err := c.Model.Validate(); err != nil {
		return err
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	if err := c.Trainer.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case "", runstore.BackendMemory, runstore.BackendSQLite, runstore.BackendPostgres:
	default:
		return fmt.Errorf("%w: unknown store backend %q", domainExp.ErrInvalidExperiment, c.Store.Backend)
	}
	if c.Model.InputDim != c.Data.InputDim {
		return fmt.Errorf("%w: model inputDim %d does not match data inputDim %d",
			domainExp.ErrInvalidExperiment, c.Model.InputDim, c.Data.InputDim)
	}
	if c.Model.OutputDim != c.Data.Classes {
		return fmt.Errorf("%w: model outputDim %d does not match %d data classes",
			domainExp.ErrInvalidExperiment, c.Model.OutputDim, c.Data.Classes)
	}
	return nil
}

// LoadExperimentConfig builds a configuration from defaults, an
// optional config file, and environment overrides, in that order. An
// empty path skips the file; a named file must exist. The file may be
// YAML or JSON.
func LoadExperimentConfig(path string) (ExperimentConfig, error) {
	config := DefaultExperimentConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("%w: read config %s: %v", domainExp.ErrInvalidExperiment, path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			if jsonErr := json.Unmarshal(data, &config); jsonErr != nil {
				return config, fmt.Errorf("%w: parse config %s (tried YAML and JSON): YAML error: %v, JSON error: %v",
					domainExp.ErrInvalidExperiment, path, err, jsonErr)
			}
		}
	}

	applyEnvOverrides(&config)

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func applyEnvOverrides(config *ExperimentConfig) {
	if v := os.Getenv("CTDR_LAMBDA_REG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Trainer.CTDR.LambdaReg = f
		}
	}
	if v := os.Getenv("CTDR_ALPHA_SENSITIVITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Trainer.CTDR.AlphaSensitivity = f
		}
	}
	if v := os.Getenv("CTDR_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Trainer.CTDR.Epsilon = f
		}
	}
	if v := os.Getenv("CTDR_EPOCHS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Epochs = i
		}
	}
	if v := os.Getenv("CTDR_BATCH_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.BatchSize = i
		}
	}
	if v := os.Getenv("CTDR_STORE_BACKEND"); v != "" {
		config.Store.Backend = v
	}
	if v := os.Getenv("CTDR_DB_PATH"); v != "" {
		config.Store.DatabasePath = v
	}
}
