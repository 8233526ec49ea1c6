// Package backbone provides the capability contract between the
// regularization engine and a trainable model.
//
// The engine never depends on a concrete architecture. Anything that can
// expose its trainable scalars as one flattened, order-stable vector and
// run a forward/backward pass over that vector can be anchored.
package backbone

// Backbone is the flattened-parameter view of a trainable model. All
// vectors share one fixed canonical ordering; their length never changes
// for the lifetime of the model.
type Backbone interface {
	// ParameterCount returns the number of trainable scalars.
	ParameterCount() int

	// Parameters returns the live flattened parameter vector. The
	// returned slice may alias the model's own storage; callers that
	// need a snapshot must copy it.
	Parameters() []float64

	// Gradients returns the flattened gradient vector accumulated by
	// the most recent backward pass, parallel to Parameters.
	Gradients() []float64

	// SetGradients overwrites the accumulated gradient vector with v.
	// The optimizer consumes whatever is set here on its next step.
	// Returns an error when len(v) != ParameterCount().
	SetGradients(v []float64) error

	// ZeroGrad clears the accumulated gradient vector.
	ZeroGrad()

	// Forward runs inference on one input and returns the class logits.
	Forward(input []float64) []float64

	// Backward runs forward passes over the batch, computes the mean
	// cross-entropy loss against the labels, accumulates its gradient
	// into the gradient vector, and returns the loss value.
	Backward(inputs [][]float64, labels []int) (float64, error)

	// BackwardLogLikelihood runs a single-example forward/backward on
	// the log-likelihood objective log p(label|input), accumulating its
	// gradient. The task-boundary sweep uses this per-example signal;
	// only the squared magnitude of the result matters there.
	BackwardLogLikelihood(input []float64, label int) float64
}

// Optimizer consumes the backbone's accumulated gradients and mutates
// its parameters. Step must run strictly after any gradient fusion.
type Optimizer interface {
	// Step applies one parameter update from the accumulated gradients.
	Step()
}
