// Package ctdr provides the public API for ctdr-go.
//
// This package provides a high-level interface for continual training
// with dynamic checkpoint-anchored regularization: a trainer observes
// batches and commits task boundaries, the regularizer anchors the
// parameters earlier tasks depend on, and a run store persists results
// so interrupted runs can resume.
//
// Example:
//
//	config := ctdr.DefaultExperimentConfig()
//	config.Data.Tasks = 5
//
//	store, err := ctdr.OpenRunStore(ctx, config.Store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	runner, err := ctdr.NewExperimentRunner(config, store, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	report, err := runner.Run(ctx)
package ctdr

import (
	"context"
	"log/slog"

	appTrainer "github.com/jinbowang1/ctdr-go/internal/application/trainer"
	domainExp "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/backbone"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
	infraReg "github.com/jinbowang1/ctdr-go/internal/infrastructure/regularizer"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/runstore"
)

// Re-export types for public API
type (
	// Regularizer types
	CTDRConfig  = domainReg.CTDRConfig
	CTDRLoss    = domainReg.CTDRLoss
	TaskRecord  = domainReg.TaskRecord
	AnchorState = domainReg.AnchorState
	Engine      = infraReg.Engine

	// Training types
	TrainerConfig    = appTrainer.TrainerConfig
	TrainerStats     = appTrainer.TrainerStats
	ContinualTrainer = appTrainer.ContinualTrainer
	ExperimentConfig = appTrainer.ExperimentConfig
	ExperimentRunner = appTrainer.ExperimentRunner
	RunReport        = appTrainer.RunReport

	// Backbone types
	MLPConfig = backbone.MLPConfig
	MLP       = backbone.MLP
	SGDConfig = backbone.SGDConfig
	SGD       = backbone.SGD

	// Data types
	Batch           = dataset.Batch
	SliceDataset    = dataset.SliceDataset
	Task            = dataset.Task
	SyntheticConfig = dataset.SyntheticConfig

	// Persistence types
	StoreConfig  = runstore.Config
	RunStore     = runstore.RunStore
	Run          = domainExp.Run
	RunStatus    = domainExp.RunStatus
	TaskResult   = domainExp.TaskResult
	AnchorRecord = domainExp.AnchorRecord
)

// Store backends
const (
	BackendMemory   = runstore.BackendMemory
	BackendSQLite   = runstore.BackendSQLite
	BackendPostgres = runstore.BackendPostgres
)

// Run lifecycle states
const (
	RunStatusRunning   = domainExp.RunStatusRunning
	RunStatusCompleted = domainExp.RunStatusCompleted
	RunStatusFailed    = domainExp.RunStatusFailed
)

// Re-export sentinel errors
var (
	ErrInvalidConfig     = domainReg.ErrInvalidConfig
	ErrNonFiniteLoss     = domainReg.ErrNonFiniteLoss
	ErrLengthMismatch    = domainReg.ErrLengthMismatch
	ErrInvalidExperiment = domainExp.ErrInvalidExperiment
	ErrRunNotFound       = domainExp.ErrRunNotFound
	ErrAnchorNotFound    = domainExp.ErrAnchorNotFound
)

// DefaultCTDRConfig returns the regularizer tunables' defaults.
func DefaultCTDRConfig() CTDRConfig {
	return domainReg.DefaultCTDRConfig()
}

// DefaultExperimentConfig returns a complete runnable experiment
// configuration.
func DefaultExperimentConfig() ExperimentConfig {
	return appTrainer.DefaultExperimentConfig()
}

// LoadExperimentConfig builds a configuration from defaults, an
// optional YAML or JSON config file, and CTDR_* environment overrides.
func LoadExperimentConfig(path string) (ExperimentConfig, error) {
	return appTrainer.LoadExperimentConfig(path)
}

// NewEngine creates a regularizer engine for the given tunables.
func NewEngine(config CTDRConfig) (*Engine, error) {
	return infraReg.NewEngine(config)
}

// NewMLP creates the MLP backbone.
func NewMLP(config MLPConfig) (*MLP, error) {
	return backbone.NewMLP(config)
}

// NewSGD creates a momentum SGD optimizer bound to a backbone.
func NewSGD(model *MLP, config SGDConfig) (*SGD, error) {
	return backbone.NewSGD(model, config)
}

// NewContinualTrainer wires a backbone, an optimizer, and the
// regularizer into the two-call training protocol.
func NewContinualTrainer(model *MLP, opt *SGD, config TrainerConfig) (*ContinualTrainer, error) {
	return appTrainer.NewContinualTrainer(model, opt, config)
}

// NewExperimentRunner creates a runner that trains the configured task
// sequence and persists progress to the store. A nil logger falls back
// to slog.Default().
func NewExperimentRunner(config ExperimentConfig, store RunStore, logger *slog.Logger) (*ExperimentRunner, error) {
	return appTrainer.NewExperimentRunner(config, store, logger)
}

// OpenRunStore opens the configured run persistence backend.
func OpenRunStore(ctx context.Context, config StoreConfig) (RunStore, error) {
	return runstore.New(ctx, config)
}

// GenerateTasks builds a reproducible synthetic task sequence.
func GenerateTasks(config SyntheticConfig) ([]Task, error) {
	return dataset.GenerateTasks(config)
}

// NewSliceDataset wraps pre-built inputs and labels as a dataset.
func NewSliceDataset(inputs [][]float64, labels []int) (*SliceDataset, error) {
	return dataset.NewSliceDataset(inputs, labels)
}
