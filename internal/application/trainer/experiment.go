package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainExp "github.com/jinbowang1/ctdr-go/internal/domain/experiment"
	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
	infraBackbone "github.com/jinbowang1/ctdr-go/internal/infrastructure/backbone"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/runstore"
)

// RunReport summarizes a finished experiment for the caller.
type RunReport struct {
	// RunID identifies the persisted run.
	RunID string `json:"runId"`

	// Name is the run's label.
	Name string `json:"name"`

	// Results holds the per-task summaries in task order.
	Results []*domainExp.TaskResult `json:"results"`

	// Stats holds the trainer's lifetime counters.
	Stats TrainerStats `json:"stats"`

	// AvgAccuracy is the mean held-out accuracy over all tasks after
	// the final boundary, the usual continual-learning score.
	AvgAccuracy float64 `json:"avgAccuracy"`

	// Duration is the wall-clock training time.
	Duration time.Duration `json:"duration"`
}

// ExperimentRunner drives a configured experiment end to end: it
// generates the task sequence, trains through every boundary, and
// persists progress so an interrupted run can resume from its last
// committed anchor.
type ExperimentRunner struct {
	config ExperimentConfig
	store  runstore.RunStore
	logger *slog.Logger
}

// NewExperimentRunner builds a runner. A nil logger falls back to
// slog.Default().
func NewExperimentRunner(config ExperimentConfig, store runstore.RunStore, logger *slog.Logger) (*ExperimentRunner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: a run store is required", domainExp.ErrInvalidExperiment)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentRunner{
		config: config,
		store:  store,
		logger: logger,
	}, nil
}

// Run executes the configured experiment as a new run.
func (r *ExperimentRunner) Run(ctx context.Context) (*RunReport, error) {
	tasks, tr, err := r.prepare()
	if err != nil {
		return nil, err
	}

	configJSON, err := json.Marshal(r.config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainExp.ErrSerializationFailed, err)
	}

	run := &domainExp.Run{
		ID:        uuid.New().String(),
		Name:      r.config.Name,
		Status:    domainExp.RunStatusRunning,
		Config:    configJSON,
		StartedAt: time.Now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	r.logger.Info("run started",
		slog.String("run_id", run.ID),
		slog.String("name", run.Name),
		slog.Int("tasks", len(tasks)),
		slog.Float64("lambda_reg", r.config.Trainer.CTDR.LambdaReg))

	return r.trainAndFinish(ctx, run.ID, tr, tasks, 0)
}

// Resume continues an interrupted run from its latest committed
// anchor. The run's persisted configuration takes precedence over the
// runner's, so the rebuilt model and regenerated task sequence match
// the original exactly. A run with no committed anchor restarts from
// the first task.
func (r *ExperimentRunner) Resume(ctx context.Context, runID string) (*RunReport, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domainExp.RunStatusCompleted {
		return nil, fmt.Errorf("%w: run %s already completed", domainExp.ErrInvalidExperiment, runID)
	}

	if len(run.Config) > 0 {
		var stored ExperimentConfig
		if err := json.Unmarshal(run.Config, &stored); err != nil {
			return nil, fmt.Errorf("%w: stored config for run %s: %v", domainExp.ErrSerializationFailed, runID, err)
		}
		r.config = stored
		if err := r.config.Validate(); err != nil {
			return nil, err
		}
	}

	tasks, tr, err := r.prepare()
	if err != nil {
		return nil, err
	}

	startTask := 0
	anchor, err := r.store.LatestAnchor(ctx, runID)
	switch {
	case err == nil:
		state := &domainReg.AnchorState{
			Checkpoint:  anchor.Checkpoint,
			Importance:  anchor.Importance,
			TaskCount:   anchor.TaskCount,
			CommittedAt: anchor.CommittedAt,
		}
		if err := tr.Restore(state, anchor.Checkpoint); err != nil {
			return nil, err
		}
		startTask = anchor.TaskCount
	case errors.Is(err, domainExp.ErrAnchorNotFound):
		// No boundary was reached before the interruption.
	default:
		return nil, err
	}

	if startTask >= len(tasks) {
		// Every boundary was already committed before the interruption;
		// only the terminal status is missing.
		if err := r.store.UpdateRunStatus(ctx, runID, domainExp.RunStatusCompleted, ""); err != nil {
			return nil, err
		}
		report, err := r.buildReport(ctx, runID, tr)
		if err != nil {
			return nil, err
		}
		r.logger.Info("run completed",
			slog.String("run_id", runID),
			slog.Float64("avg_accuracy", report.AvgAccuracy))
		return report, nil
	}

	if err := r.store.UpdateRunStatus(ctx, runID, domainExp.RunStatusRunning, ""); err != nil {
		return nil, err
	}

	r.logger.Info("run resumed",
		slog.String("run_id", runID),
		slog.Int("start_task", startTask),
		slog.Int("tasks", len(tasks)))

	return r.trainAndFinish(ctx, runID, tr, tasks, startTask)
}

// Private methods

// prepare builds the task sequence, model, optimizer, and trainer from
// the runner's configuration.
func (r *ExperimentRunner) prepare() ([]dataset.Task, *ContinualTrainer, error) {
	tasks, err := dataset.GenerateTasks(r.config.Data)
	if err != nil {
		return nil, nil, err
	}
	model, err := infraBackbone.NewMLP(r.config.Model)
	if err != nil {
		return nil, nil, err
	}
	opt, err := infraBackbone.NewSGD(model, r.config.Optimizer)
	if err != nil {
		return nil, nil, err
	}
	tr, err := NewContinualTrainer(model, opt, r.config.Trainer)
	if err != nil {
		return nil, nil, err
	}
	return tasks, tr, nil
}

func (r *ExperimentRunner) trainAndFinish(ctx context.Context, runID string, tr *ContinualTrainer, tasks []dataset.Task, startTask int) (*RunReport, error) {
	started := time.Now()

	if err := r.trainTasks(ctx, runID, tr, tasks, startTask); err != nil {
		r.failRun(ctx, runID, err)
		return nil, err
	}

	if err := r.store.UpdateRunStatus(ctx, runID, domainExp.RunStatusCompleted, ""); err != nil {
		return nil, err
	}
	report, err := r.buildReport(ctx, runID, tr)
	if err != nil {
		return nil, err
	}
	report.Duration = time.Since(started)

	r.logger.Info("run completed",
		slog.String("run_id", runID),
		slog.Float64("avg_accuracy", report.AvgAccuracy),
		slog.Duration("duration", report.Duration))
	return report, nil
}

func (r *ExperimentRunner) trainTasks(ctx context.Context, runID string, tr *ContinualTrainer, tasks []dataset.Task, startTask int) error {
	for taskIdx := startTask; taskIdx < len(tasks); taskIdx++ {
		task := tasks[taskIdx]
		r.logger.Info("task started",
			slog.String("run_id", runID),
			slog.Int("task", taskIdx),
			slog.String("name", task.Name),
			slog.Int("examples", task.Train.Len()))

		for epoch := 0; epoch < r.config.Epochs; epoch++ {
			for _, batch := range task.Train.Batches(r.config.BatchSize) {
				if _, err := tr.Observe(ctx, batch); err != nil {
					return fmt.Errorf("task %d epoch %d: %w", taskIdx, epoch, err)
				}
			}
		}

		record, err := tr.EndTask(ctx, task.Train)
		if err != nil {
			return fmt.Errorf("task %d boundary: %w", taskIdx, err)
		}

		// Held-out accuracy on every task trained so far; the entries
		// before taskIdx measure retention.
		accuracies := make([]float64, taskIdx+1)
		for j := 0; j <= taskIdx; j++ {
			accuracies[j] = tr.Evaluate(tasks[j].Test)
		}

		result := &domainExp.TaskResult{
			RunID:       runID,
			TaskIndex:   taskIdx,
			TaskName:    task.Name,
			Steps:       record.Steps,
			Examples:    record.Examples,
			AvgLoss:     record.AvgLoss,
			AvgPenalty:  record.AvgPenalty,
			Accuracies:  accuracies,
			FinalizedAt: record.FinalizedAt,
		}
		if err := r.store.SaveTaskResult(ctx, result); err != nil {
			return err
		}

		state := tr.AnchorState()
		anchorRecord := &domainExp.AnchorRecord{
			RunID:       runID,
			TaskCount:   state.TaskCount,
			Checkpoint:  state.Checkpoint,
			Importance:  state.Importance,
			CommittedAt: state.CommittedAt,
		}
		if err := r.store.SaveAnchor(ctx, anchorRecord); err != nil {
			return err
		}

		r.logger.Info("task finished",
			slog.String("run_id", runID),
			slog.Int("task", taskIdx),
			slog.Float64("avg_loss", result.AvgLoss),
			slog.Float64("avg_penalty", result.AvgPenalty),
			slog.Float64("accuracy", accuracies[taskIdx]),
			slog.Float64("retained_avg", mean(accuracies)))
	}

	return nil
}

// buildReport assembles the report from the persisted task results, so
// resumed runs report their earlier tasks too.
func (r *ExperimentRunner) buildReport(ctx context.Context, runID string, tr *ContinualTrainer) (*RunReport, error) {
	results, err := r.store.ListTaskResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &RunReport{
		RunID:   runID,
		Name:    r.config.Name,
		Results: results,
		Stats:   tr.Stats(),
	}
	if len(results) > 0 {
		report.AvgAccuracy = mean(results[len(results)-1].Accuracies)
	}
	return report, nil
}

// failRun records the failure; a store error at that point is logged
// and otherwise dropped so the training error stays primary.
func (r *ExperimentRunner) failRun(ctx context.Context, runID string, cause error) {
	r.logger.Error("run failed",
		slog.String("run_id", runID),
		slog.String("error", cause.Error()))
	if err := r.store.UpdateRunStatus(ctx, runID, domainExp.RunStatusFailed, cause.Error()); err != nil {
		r.logger.Error("failed to record run failure",
			slog.String("run_id", runID),
			slog.String("error", err.Error()))
	}
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
