// Package trainer provides the continual training application
// services: the per-step and per-boundary protocol around the
// regularization engine, and the experiment runner that drives it over
// a task sequence.
package trainer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	domainBackbone "github.com/jinbowang1/ctdr-go/internal/domain/backbone"
	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
	infraReg "github.com/jinbowang1/ctdr-go/internal/infrastructure/regularizer"
	"github.com/jinbowang1/ctdr-go/internal/shared"
)

// TrainerConfig configures a ContinualTrainer.
type TrainerConfig struct {
	// CTDR holds the regularization tunables.
	CTDR domainReg.CTDRConfig `json:"ctdr" yaml:"ctdr"`

	// SweepBatchSize is the batch size the boundary sweep iterates
	// with. It also sets the sweep's normalization granularity.
	SweepBatchSize int `json:"sweepBatchSize" yaml:"sweepBatchSize"`
}

// DefaultTrainerConfig returns the reference tunables.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		CTDR:           domainReg.DefaultCTDRConfig(),
		SweepBatchSize: 32,
	}
}

// Validate checks the configuration.
func (c TrainerConfig) Validate() error {
	if err := c.CTDR.Validate(); err != nil {
		return err
	}
	if c.SweepBatchSize < 0 {
		return fmt.Errorf("%w: sweepBatchSize must be non-negative, got %d", domainReg.ErrInvalidConfig, c.SweepBatchSize)
	}
	return nil
}

// TrainerStats accumulates lifetime counters across tasks.
type TrainerStats struct {
	TotalSteps     int64   `json:"totalSteps"`
	TotalExamples  int64   `json:"totalExamples"`
	CompletedTasks int     `json:"completedTasks"`
	AvgTotalLoss   float64 `json:"avgTotalLoss"`
	AvgPenalty     float64 `json:"avgPenalty"`
}

// ContinualTrainer drives a backbone through the two-call continual
// learning protocol: Observe once per training batch, EndTask once per
// task boundary. Calls are serialized internally, but the protocol
// itself is strictly sequential: every Observe of a task completes
// before its EndTask, which completes before the next task's first
// Observe.
type ContinualTrainer struct {
	mu     sync.RWMutex
	config TrainerConfig
	model  domainBackbone.Backbone
	opt    domainBackbone.Optimizer
	engine *infraReg.Engine
	state  *domainReg.AnchorState
	sweep  SweepStrategy

	// Per-task accounting, reset at each boundary.
	taskSteps      int
	taskExamples   int
	taskLossSum    float64
	taskPenaltySum float64

	// Lifetime accounting.
	lifeLossSum    float64
	lifePenaltySum float64
	totalSteps     int64
	totalExamples  int64
	completedTasks int

	lastLoss    domainReg.CTDRLoss
	hasLastLoss bool
}

// NewContinualTrainer builds a trainer around a backbone and its
// optimizer.
func NewContinualTrainer(model domainBackbone.Backbone, opt domainBackbone.Optimizer, config TrainerConfig) (*ContinualTrainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	engine, err := infraReg.NewEngine(config.CTDR)
	if err != nil {
		return nil, err
	}

	return &ContinualTrainer{
		config: config,
		model:  model,
		opt:    opt,
		engine: engine,
		state:  &domainReg.AnchorState{},
		sweep:  PerExampleSweep{},
	}, nil
}

// SetSweepStrategy replaces the boundary sweep implementation.
func (t *ContinualTrainer) SetSweepStrategy(s SweepStrategy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep = s
}

// Config returns the trainer configuration.
func (t *ContinualTrainer) Config() TrainerConfig {
	return t.config
}

// Observe runs one training step on a batch: backward pass, penalty
// evaluation, gradient fusion, optimizer step is the only legal order.
// A non-finite combined loss aborts the step before the optimizer
// moves any parameter; that error is fatal for the run. An empty batch
// is inert.
func (t *ContinualTrainer) Observe(ctx context.Context, batch dataset.Batch) (domainReg.CTDRLoss, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if batch.Size() == 0 {
		return domainReg.CTDRLoss{}, nil
	}
	if err := ctx.Err(); err != nil {
		return domainReg.CTDRLoss{}, err
	}

	t.model.ZeroGrad()
	taskLoss, err := t.model.Backward(batch.Inputs, batch.Labels)
	if err != nil {
		return domainReg.CTDRLoss{}, err
	}

	params := t.model.Parameters()
	penalty, err := t.engine.Penalty(params, t.state)
	if err != nil {
		return domainReg.CTDRLoss{}, err
	}

	loss := domainReg.CTDRLoss{
		TaskLoss:    taskLoss,
		PenaltyLoss: penalty,
		TotalLoss:   taskLoss + penalty,
	}
	if !shared.IsFinite(loss.TotalLoss) {
		return domainReg.CTDRLoss{}, fmt.Errorf("%w: combined loss %g at step %d",
			domainReg.ErrNonFiniteLoss, loss.TotalLoss, t.totalSteps)
	}

	// The analytic penalty gradient joins the task gradient strictly
	// after the backward pass and strictly before the step.
	if t.state.HasCheckpoint() {
		fused, err := t.engine.FusedGradients(t.model.Gradients(), params, t.state)
		if err != nil {
			return domainReg.CTDRLoss{}, err
		}
		if err := t.model.SetGradients(fused); err != nil {
			return domainReg.CTDRLoss{}, err
		}
	}

	t.opt.Step()

	t.taskSteps++
	t.taskExamples += batch.Size()
	t.taskLossSum += loss.TotalLoss
	t.taskPenaltySum += penalty
	t.totalSteps++
	t.totalExamples += int64(batch.Size())
	t.lifeLossSum += loss.TotalLoss
	t.lifePenaltySum += penalty
	t.lastLoss = loss
	t.hasLastLoss = true

	return loss, nil
}

// EndTask finalizes the current task: it sweeps the task's training
// data for the squared-gradient sensitivity signal, derives the next
// importance weights, and commits the current parameters as the new
// anchor. The previous anchor is replaced wholesale. Empty task data
// is accepted and commits fully-protective weights.
func (t *ContinualTrainer) EndTask(ctx context.Context, data *dataset.SliceDataset) (*domainReg.TaskRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sweepGrads, err := t.sweep.Sweep(ctx, t.model, data, t.config.SweepBatchSize)
	if err != nil {
		return nil, err
	}

	importance, err := t.engine.NextImportance(sweepGrads, t.state)
	if err != nil {
		return nil, err
	}

	// Commit detaches its own copies; the live parameter vector can be
	// handed over directly.
	if err := t.state.Commit(t.model.Parameters(), importance); err != nil {
		return nil, err
	}

	record := &domainReg.TaskRecord{
		ID:          uuid.New().String(),
		Index:       t.state.TaskCount - 1,
		Steps:       t.taskSteps,
		Examples:    t.taskExamples,
		AvgLoss:     meanOver(t.taskLossSum, t.taskSteps),
		AvgPenalty:  meanOver(t.taskPenaltySum, t.taskSteps),
		FinalizedAt: time.Now(),
	}

	t.taskSteps = 0
	t.taskExamples = 0
	t.taskLossSum = 0
	t.taskPenaltySum = 0
	t.completedTasks++

	return record, nil
}

// Evaluate returns the model's accuracy on a labeled dataset.
func (t *ContinualTrainer) Evaluate(data *dataset.SliceDataset) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if data == nil || data.Len() == 0 {
		return 0
	}

	correct := 0
	for i := 0; i < data.Len(); i++ {
		input, label := data.Example(i)
		if shared.ArgMax(t.model.Forward(input)) == label {
			correct++
		}
	}
	return float64(correct) / float64(data.Len())
}

// Penalty returns the penalty the current parameters would incur.
func (t *ContinualTrainer) Penalty() (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.engine.Penalty(t.model.Parameters(), t.state)
}

// AnchorState returns a deep copy of the current anchor state.
func (t *ContinualTrainer) AnchorState() *domainReg.AnchorState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Clone()
}

// LastLoss returns the most recent step's loss decomposition.
func (t *ContinualTrainer) LastLoss() (domainReg.CTDRLoss, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastLoss, t.hasLastLoss
}

// Stats returns lifetime counters.
func (t *ContinualTrainer) Stats() TrainerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TrainerStats{
		TotalSteps:     t.totalSteps,
		TotalExamples:  t.totalExamples,
		CompletedTasks: t.completedTasks,
		AvgTotalLoss:   meanOver(t.lifeLossSum, int(t.totalSteps)),
		AvgPenalty:     meanOver(t.lifePenaltySum, int(t.totalSteps)),
	}
}

// Restore rewinds the trainer to a persisted boundary: the model takes
// the given parameters, the anchor state is replaced, per-task
// accounting restarts, and any optimizer velocity is cleared.
func (t *ContinualTrainer) Restore(state *domainReg.AnchorState, params []float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(params) != t.model.ParameterCount() {
		return fmt.Errorf("%w: %d restored parameters for a %d-parameter model",
			domainReg.ErrLengthMismatch, len(params), t.model.ParameterCount())
	}
	if state.HasCheckpoint() && state.Len() != t.model.ParameterCount() {
		return fmt.Errorf("%w: %d-entry anchor for a %d-parameter model",
			domainReg.ErrLengthMismatch, state.Len(), t.model.ParameterCount())
	}

	copy(t.model.Parameters(), params)
	t.state = state.Clone()
	t.resetAccountingLocked()
	t.resetOptimizerLocked()
	return nil
}

// Reset forgets every anchor and counter, returning the trainer to the
// pre-first-task state. Model parameters are left as they are.
func (t *ContinualTrainer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Reset()
	t.resetAccountingLocked()
	t.resetOptimizerLocked()
	t.lifeLossSum = 0
	t.lifePenaltySum = 0
	t.totalSteps = 0
	t.totalExamples = 0
	t.completedTasks = 0
	t.hasLastLoss = false
	t.lastLoss = domainReg.CTDRLoss{}
}

func (t *ContinualTrainer) resetAccountingLocked() {
	t.taskSteps = 0
	t.taskExamples = 0
	t.taskLossSum = 0
	t.taskPenaltySum = 0
}

func (t *ContinualTrainer) resetOptimizerLocked() {
	if r, ok := t.opt.(interface{ Reset() }); ok {
		r.Reset()
	}
}

func meanOver(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
