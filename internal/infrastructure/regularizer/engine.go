package regularizer

import (
	"fmt"

	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
	"github.com/jinbowang1/ctdr-go/internal/shared"
)

// Engine binds the CTDR tunables to the pure penalty and sensitivity
// functions and enforces the length contract on every call. It holds no
// mutable state of its own: the anchor state is owned by the caller and
// passed into each operation.
type Engine struct {
	config domainReg.CTDRConfig
}

// NewEngine validates the tunables and returns an engine.
func NewEngine(config domainReg.CTDRConfig) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

// Config returns the engine's tunables.
func (e *Engine) Config() domainReg.CTDRConfig {
	return e.config
}

// checkAnchored validates params against an anchored state. An
// uninitialized state imposes no length constraint.
func (e *Engine) checkAnchored(params []float64, state *domainReg.AnchorState) error {
	if !state.HasCheckpoint() {
		return nil
	}
	if len(params) != state.Len() {
		return fmt.Errorf("%w: %d parameters against a %d-entry checkpoint",
			domainReg.ErrLengthMismatch, len(params), state.Len())
	}
	return nil
}

// Penalty evaluates the anchored quadratic penalty for the current
// parameters. Zero before the first boundary.
func (e *Engine) Penalty(params []float64, state *domainReg.AnchorState) (float64, error) {
	if err := e.checkAnchored(params, state); err != nil {
		return 0, err
	}
	return Penalty(params, state.Checkpoint, state.Importance, e.config.LambdaReg), nil
}

// PenaltyGradient evaluates the analytic penalty gradient for the
// current parameters. The zero vector before the first boundary.
func (e *Engine) PenaltyGradient(params []float64, state *domainReg.AnchorState) ([]float64, error) {
	if err := e.checkAnchored(params, state); err != nil {
		return nil, err
	}
	return PenaltyGradient(params, state.Checkpoint, state.Importance, e.config.LambdaReg), nil
}

// FusedGradients returns taskGrads + PenaltyGradient(params), the
// combined gradient the optimizer must consume. The fusion is the only
// way the analytically-computed penalty gradient enters the step; it
// must run strictly after the backward pass and strictly before the
// optimizer step.
func (e *Engine) FusedGradients(taskGrads, params []float64, state *domainReg.AnchorState) ([]float64, error) {
	if len(taskGrads) != len(params) {
		return nil, fmt.Errorf("%w: %d gradients against %d parameters",
			domainReg.ErrLengthMismatch, len(taskGrads), len(params))
	}

	penaltyGrads, err := e.PenaltyGradient(params, state)
	if err != nil {
		return nil, err
	}
	return shared.AddVectors(taskGrads, penaltyGrads), nil
}

// NextImportance computes the importance-weight vector for the boundary
// being committed. The first boundary has no prior anchor to weigh
// against and yields all-ones. Subsequent boundaries feed the previous
// importance vector into the sensitivity ratio as the reference signal
// (a proxy for historical gradients, which are not retained) and
// replace the old weights wholesale.
func (e *Engine) NextImportance(newTaskGrads []float64, state *domainReg.AnchorState) ([]float64, error) {
	if !state.HasCheckpoint() {
		return shared.OnesVector(len(newTaskGrads)), nil
	}
	if len(newTaskGrads) != state.Len() {
		return nil, fmt.Errorf("%w: %d accumulated gradients against a %d-entry anchor",
			domainReg.ErrLengthMismatch, len(newTaskGrads), state.Len())
	}
	return SensitivityRatio(newTaskGrads, state.Importance, e.config.AlphaSensitivity, e.config.Epsilon), nil
}
