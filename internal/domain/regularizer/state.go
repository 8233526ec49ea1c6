package regularizer

import (
	"fmt"
	"time"

	"github.com/jinbowang1/ctdr-go/internal/shared"
)

// AnchorState carries the checkpoint and importance weights across task
// boundaries. It is owned by the caller and passed into every engine
// operation, so boundary transitions stay testable in isolation and the
// state can be reset or restored for resume.
//
// The zero value is the Uninitialized state: no checkpoint, no weights,
// every penalty degenerates to zero. Both fields are set together by
// Commit and only there; no reader can ever observe a checkpoint
// without its matching weights.
type AnchorState struct {
	// Checkpoint is the detached parameter snapshot taken at the most
	// recent task boundary. theta_anchor in the penalty.
	Checkpoint []float64 `json:"checkpoint,omitempty"`

	// Importance is the per-parameter weight vector, parallel to
	// Checkpoint. Entries lie in (0, 1]: all-ones after the first
	// boundary, the sensitivity-decay output afterwards.
	Importance []float64 `json:"importance,omitempty"`

	// TaskCount is the number of boundaries committed so far.
	TaskCount int `json:"taskCount"`

	// CommittedAt is when the current checkpoint was committed.
	CommittedAt time.Time `json:"committedAt"`
}

// HasCheckpoint reports whether a boundary has been committed.
func (s *AnchorState) HasCheckpoint() bool {
	return s.Checkpoint != nil
}

// Len returns the anchored parameter count, or 0 when uninitialized.
func (s *AnchorState) Len() int {
	return len(s.Checkpoint)
}

// Commit atomically replaces the checkpoint and importance weights with
// detached copies of the given vectors. Called only from the
// task-boundary finalizer, after both values are fully computed.
func (s *AnchorState) Commit(checkpoint, importance []float64) error {
	if checkpoint == nil || importance == nil {
		return fmt.Errorf("%w: commit requires both checkpoint and importance", ErrLengthMismatch)
	}
	if len(checkpoint) != len(importance) {
		return fmt.Errorf("%w: checkpoint has %d entries, importance has %d",
			ErrLengthMismatch, len(checkpoint), len(importance))
	}

	s.Checkpoint = shared.CloneVector(checkpoint)
	s.Importance = shared.CloneVector(importance)
	s.TaskCount++
	s.CommittedAt = time.Now()
	return nil
}

// Reset returns the state to Uninitialized.
func (s *AnchorState) Reset() {
	s.Checkpoint = nil
	s.Importance = nil
	s.TaskCount = 0
	s.CommittedAt = time.Time{}
}

// Clone returns a deep copy, detached from the receiver.
func (s *AnchorState) Clone() *AnchorState {
	return &AnchorState{
		Checkpoint:  shared.CloneVector(s.Checkpoint),
		Importance:  shared.CloneVector(s.Importance),
		TaskCount:   s.TaskCount,
		CommittedAt: s.CommittedAt,
	}
}
