// Package experiment defines the persistent records of continual
// training runs: the run itself, per-task summaries, and the anchor
// snapshots taken at task boundaries.
package experiment

import (
	"encoding/json"
	"time"
)

// RunStatus describes the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusRunning marks a run that is still training.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted marks a run that finished every task.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed marks a run that aborted with an error.
	RunStatusFailed RunStatus = "failed"
)

// Run is one continual training run over a task sequence.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// Status is the current lifecycle state.
	Status RunStatus `json:"status"`

	// Config is the serialized experiment configuration the run was
	// started with, kept for reproducibility.
	Config json.RawMessage `json:"config,omitempty"`

	// Error holds the failure message for failed runs.
	Error string `json:"error,omitempty"`

	// StartedAt is when the run was created.
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run reached a terminal status.
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TaskResult summarizes training on one task within a run.
type TaskResult struct {
	// RunID references the owning run.
	RunID string `json:"runId"`

	// TaskIndex is the zero-based position in the task sequence.
	TaskIndex int `json:"taskIndex"`

	// TaskName is the task's label.
	TaskName string `json:"taskName"`

	// Steps is the number of optimizer steps taken on this task.
	Steps int `json:"steps"`

	// Examples is the number of training examples observed.
	Examples int `json:"examples"`

	// AvgLoss is the mean combined loss over the task's steps.
	AvgLoss float64 `json:"avgLoss"`

	// AvgPenalty is the mean anchored-penalty share of that loss.
	AvgPenalty float64 `json:"avgPenalty"`

	// Accuracies holds the held-out accuracy on every task seen so
	// far, indexed by task position. Entries before TaskIndex measure
	// retention.
	Accuracies []float64 `json:"accuracies,omitempty"`

	// FinalizedAt is when the task boundary was committed.
	FinalizedAt time.Time `json:"finalizedAt"`
}

// AnchorRecord is a persisted anchor snapshot taken at a task
// boundary. The checkpoint doubles as the parameter snapshot a resumed
// run restores from.
type AnchorRecord struct {
	// RunID references the owning run.
	RunID string `json:"runId"`

	// TaskCount is the number of boundaries committed, including this
	// one.
	TaskCount int `json:"taskCount"`

	// Checkpoint is the flattened parameter vector at the boundary.
	Checkpoint []float64 `json:"checkpoint"`

	// Importance is the per-parameter importance vector committed with
	// the checkpoint.
	Importance []float64 `json:"importance"`

	// CommittedAt is when the boundary was committed.
	CommittedAt time.Time `json:"committedAt"`
}
