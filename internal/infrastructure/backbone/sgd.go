package backbone

import (
	"fmt"

	domainBackbone "github.com/jinbowang1/ctdr-go/internal/domain/backbone"
)

// SGDConfig holds the optimizer hyperparameters.
type SGDConfig struct {
	// LearningRate scales each parameter update.
	LearningRate float64 `json:"learningRate" yaml:"learningRate"`
	// Momentum is the velocity decay factor, in [0, 1).
	Momentum float64 `json:"momentum" yaml:"momentum"`
}

// DefaultSGDConfig returns the reference training hyperparameters.
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.9,
	}
}

// Validate checks the configuration.
func (c SGDConfig) Validate() error {
	if c.LearningRate <= 0 {
		return fmt.Errorf("%w: learningRate must be positive, got %g", ErrInvalidModelConfig, c.LearningRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("%w: momentum must be in [0, 1), got %g", ErrInvalidModelConfig, c.Momentum)
	}
	return nil
}

// SGD applies momentum gradient descent to a backbone. It consumes
// whatever gradients are accumulated at Step time, so a fused gradient
// written through SetGradients drives the update exactly like a
// backward-pass gradient would.
//
// The backbone must expose its live parameter storage through
// Parameters; MLP does.
type SGD struct {
	config   SGDConfig
	backbone domainBackbone.Backbone
	velocity []float64
}

// NewSGD builds an optimizer bound to one backbone.
func NewSGD(backbone domainBackbone.Backbone, config SGDConfig) (*SGD, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SGD{
		config:   config,
		backbone: backbone,
		velocity: make([]float64, backbone.ParameterCount()),
	}, nil
}

// Config returns the optimizer hyperparameters.
func (s *SGD) Config() SGDConfig {
	return s.config
}

// Step applies one momentum update from the backbone's accumulated
// gradients.
func (s *SGD) Step() {
	params := s.backbone.Parameters()
	grads := s.backbone.Gradients()

	for i := range params {
		s.velocity[i] = s.config.Momentum*s.velocity[i] + grads[i]
		params[i] -= s.config.LearningRate * s.velocity[i]
	}
}

// Reset clears the momentum state, for example when training restarts
// from a restored snapshot.
func (s *SGD) Reset() {
	for i := range s.velocity {
		s.velocity[i] = 0
	}
}
