// Package backbone provides trainable model infrastructure: a compact
// multilayer perceptron that exposes its weights as one flattened
// vector, and the optimizer that consumes its accumulated gradients.
package backbone

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
)

// ErrInvalidModelConfig indicates a model configuration that cannot
// describe a usable network.
var ErrInvalidModelConfig = errors.New("invalid model configuration")

// MLPConfig describes a fully-connected classifier.
type MLPConfig struct {
	// InputDim is the feature dimension.
	InputDim int `json:"inputDim" yaml:"inputDim"`
	// HiddenDims lists the hidden layer widths, in order.
	HiddenDims []int `json:"hiddenDims" yaml:"hiddenDims"`
	// OutputDim is the number of classes.
	OutputDim int `json:"outputDim" yaml:"outputDim"`
	// Seed fixes the weight initialization for reproducible runs.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultMLPConfig returns a small classifier sized for the synthetic
// benchmark tasks.
func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		InputDim:   8,
		HiddenDims: []int{16},
		OutputDim:  4,
		Seed:       7,
	}
}

// Validate checks the configuration.
func (c MLPConfig) Validate() error {
	if c.InputDim <= 0 {
		return fmt.Errorf("%w: inputDim must be positive, got %d", ErrInvalidModelConfig, c.InputDim)
	}
	if c.OutputDim <= 0 {
		return fmt.Errorf("%w: outputDim must be positive, got %d", ErrInvalidModelConfig, c.OutputDim)
	}
	for i, h := range c.HiddenDims {
		if h <= 0 {
			return fmt.Errorf("%w: hiddenDims[%d] must be positive, got %d", ErrInvalidModelConfig, i, h)
		}
	}
	return nil
}

// layerShape locates one dense layer inside the flattened vectors.
// Weights are stored row-major as in*out scalars at weightOff, with the
// out bias scalars following at biasOff.
type layerShape struct {
	in        int
	out       int
	weightOff int
	biasOff   int
}

// MLP is a tanh multilayer perceptron with linear output logits. All
// trainable scalars live in one flat parameter vector with a parallel
// gradient vector, so anchoring, penalty evaluation, and optimizer
// steps all see the same canonical ordering.
type MLP struct {
	config MLPConfig
	layers []layerShape
	params []float64
	grads  []float64
}

// NewMLP builds and initializes a network from the configuration.
// Initialization is deterministic for a given seed.
func NewMLP(config MLPConfig) (*MLP, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dims := make([]int, 0, len(config.HiddenDims)+2)
	dims = append(dims, config.InputDim)
	dims = append(dims, config.HiddenDims...)
	dims = append(dims, config.OutputDim)

	layers := make([]layerShape, len(dims)-1)
	total := 0
	for l := range layers {
		layers[l] = layerShape{
			in:        dims[l],
			out:       dims[l+1],
			weightOff: total,
			biasOff:   total + dims[l]*dims[l+1],
		}
		total += dims[l]*dims[l+1] + dims[l+1]
	}

	m := &MLP{
		config: config,
		layers: layers,
		params: make([]float64, total),
		grads:  make([]float64, total),
	}
	m.initialize()
	return m, nil
}

// Config returns the model configuration.
func (m *MLP) Config() MLPConfig {
	return m.config
}

// ParameterCount returns the number of trainable scalars.
func (m *MLP) ParameterCount() int {
	return len(m.params)
}

// Parameters returns the live flattened parameter vector. Mutations
// through the returned slice move the model.
func (m *MLP) Parameters() []float64 {
	return m.params
}

// Gradients returns the live accumulated gradient vector.
func (m *MLP) Gradients() []float64 {
	return m.grads
}

// SetGradients overwrites the accumulated gradients with v.
func (m *MLP) SetGradients(v []float64) error {
	if len(v) != len(m.grads) {
		return fmt.Errorf("%w: %d gradient values for %d parameters",
			domainReg.ErrLengthMismatch, len(v), len(m.grads))
	}
	copy(m.grads, v)
	return nil
}

// ZeroGrad clears the accumulated gradients in place.
func (m *MLP) ZeroGrad() {
	for i := range m.grads {
		m.grads[i] = 0
	}
}

// Forward runs inference on one input and returns the class logits.
func (m *MLP) Forward(input []float64) []float64 {
	activations := m.forwardActivations(input)
	return activations[len(activations)-1]
}

// Backward computes the mean cross-entropy loss over the batch and
// accumulates its gradient into the gradient vector. An empty batch
// contributes nothing and reports zero loss.
func (m *MLP) Backward(inputs [][]float64, labels []int) (float64, error) {
	if len(inputs) != len(labels) {
		return 0, fmt.Errorf("%w: %d inputs against %d labels",
			domainReg.ErrLengthMismatch, len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return 0, nil
	}

	scale := 1.0 / float64(len(inputs))
	var totalLoss float64
	for b, input := range inputs {
		activations := m.forwardActivations(input)
		logits := activations[len(activations)-1]
		label := labels[b]

		lse := logSumExp(logits)
		totalLoss += lse - logits[label]

		// dLoss/dLogits for cross-entropy is softmax - onehot.
		delta := make([]float64, len(logits))
		for j, z := range logits {
			delta[j] = math.Exp(z - lse)
		}
		delta[label] -= 1

		m.accumulate(activations, delta, scale)
	}
	return totalLoss * scale, nil
}

// BackwardLogLikelihood accumulates the gradient of log p(label|input)
// for a single example and returns the log-likelihood. The objective is
// the negation of the per-example cross-entropy, so its logit gradient
// is onehot - softmax.
func (m *MLP) BackwardLogLikelihood(input []float64, label int) float64 {
	activations := m.forwardActivations(input)
	logits := activations[len(activations)-1]

	lse := logSumExp(logits)
	delta := make([]float64, len(logits))
	for j, z := range logits {
		delta[j] = -math.Exp(z - lse)
	}
	delta[label] += 1

	m.accumulate(activations, delta, 1.0)
	return logits[label] - lse
}

// Private methods

func (m *MLP) initialize() {
	rng := rand.New(rand.NewSource(m.config.Seed))
	for _, layer := range m.layers {
		scale := math.Sqrt(2.0 / float64(layer.in))
		for i := 0; i < layer.in*layer.out; i++ {
			m.params[layer.weightOff+i] = (rng.Float64() - 0.5) * scale
		}
		// Biases start at zero.
	}
}

// forwardActivations returns the per-layer activations: index 0 is the
// input, the last entry is the linear output logits, and everything in
// between is post-tanh.
func (m *MLP) forwardActivations(input []float64) [][]float64 {
	activations := make([][]float64, len(m.layers)+1)
	activations[0] = input

	for l, layer := range m.layers {
		prev := activations[l]
		next := make([]float64, layer.out)
		for j := 0; j < layer.out; j++ {
			sum := m.params[layer.biasOff+j]
			for i := 0; i < len(prev) && i < layer.in; i++ {
				sum += prev[i] * m.params[layer.weightOff+i*layer.out+j]
			}
			if l < len(m.layers)-1 {
				next[j] = math.Tanh(sum)
			} else {
				next[j] = sum
			}
		}
		activations[l+1] = next
	}
	return activations
}

// accumulate backpropagates an output-layer delta through the network,
// adding scale-weighted contributions into the gradient vector.
func (m *MLP) accumulate(activations [][]float64, delta []float64, scale float64) {
	for l := len(m.layers) - 1; l >= 0; l-- {
		layer := m.layers[l]
		prev := activations[l]

		for j := 0; j < layer.out; j++ {
			m.grads[layer.biasOff+j] += delta[j] * scale
		}
		for i := 0; i < len(prev) && i < layer.in; i++ {
			for j := 0; j < layer.out; j++ {
				m.grads[layer.weightOff+i*layer.out+j] += prev[i] * delta[j] * scale
			}
		}

		if l == 0 {
			break
		}

		// Pull the delta back through the weights and the tanh.
		prevDelta := make([]float64, layer.in)
		for i := 0; i < layer.in; i++ {
			var sum float64
			for j := 0; j < layer.out; j++ {
				sum += m.params[layer.weightOff+i*layer.out+j] * delta[j]
			}
			prevDelta[i] = sum * (1 - prev[i]*prev[i])
		}
		delta = prevDelta
	}
}

func logSumExp(logits []float64) float64 {
	maxLogit := logits[0]
	for _, z := range logits[1:] {
		if z > maxLogit {
			maxLogit = z
		}
	}
	var sum float64
	for _, z := range logits {
		sum += math.Exp(z - maxLogit)
	}
	return maxLogit + math.Log(sum)
}
