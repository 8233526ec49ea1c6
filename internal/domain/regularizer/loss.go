package regularizer

import "time"

// CTDRLoss breaks one training step's loss into its components.
type CTDRLoss struct {
	// TaskLoss is the backbone's own loss against the labels.
	TaskLoss float64 `json:"taskLoss"`

	// PenaltyLoss is the anchored quadratic penalty,
	// lambda * sum_i(w_i * (theta_i - anchor_i)^2). Zero before the
	// first boundary.
	PenaltyLoss float64 `json:"penaltyLoss"`

	// TotalLoss is the combined value reported to the caller and used
	// for the finiteness guard.
	TotalLoss float64 `json:"totalLoss"`
}

// TaskRecord describes one completed task segment.
type TaskRecord struct {
	// ID is the unique task identifier.
	ID string `json:"id"`

	// Index is the zero-based position in the task sequence.
	Index int `json:"index"`

	// Steps is the number of Observe calls during the task.
	Steps int `json:"steps"`

	// Examples is the number of examples swept by the finalizer.
	Examples int `json:"examples"`

	// AvgLoss is the mean combined loss over the task's steps.
	AvgLoss float64 `json:"avgLoss"`

	// AvgPenalty is the mean penalty component over the task's steps.
	AvgPenalty float64 `json:"avgPenalty"`

	// FinalizedAt is when the boundary fired.
	FinalizedAt time.Time `json:"finalizedAt"`
}
