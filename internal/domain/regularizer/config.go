// Package regularizer provides domain types for the Dynamic-CTDR
// continual-learning regularizer.
package regularizer

import (
	"errors"
	"fmt"
)

// Package errors. All engine failures wrap one of these sentinels.
var (
	// ErrInvalidConfig signals an out-of-range tunable.
	ErrInvalidConfig = errors.New("invalid regularizer config")

	// ErrNonFiniteLoss signals a NaN or infinite combined loss. The
	// training step must abort rather than feed corrupted gradients to
	// the optimizer.
	ErrNonFiniteLoss = errors.New("combined loss is not finite")

	// ErrLengthMismatch signals parameter, gradient, checkpoint, and
	// importance vectors of differing lengths. This is a programming
	// contract violation and always fails loudly; the engine never
	// broadcasts or truncates.
	ErrLengthMismatch = errors.New("vector length mismatch")
)

// CTDRConfig holds the Dynamic-CTDR tunables.
type CTDRConfig struct {
	// LambdaReg is the penalty strength multiplier. Required,
	// typically much larger than 1 (the reference experiments use 1000).
	LambdaReg float64 `json:"lambdaReg" yaml:"lambda_reg"`

	// AlphaSensitivity is the decay sharpness for the sensitivity
	// ratio. Larger values collapse importance faster as the ratio
	// grows.
	AlphaSensitivity float64 `json:"alphaSensitivity" yaml:"alpha_sensitivity"`

	// Epsilon is the division-by-zero floor added to the reference
	// gradient magnitude.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`
}

// DefaultCTDRConfig returns the reference defaults. LambdaReg has no
// universal default in the reference experiments; 1000 matches the
// published configuration.
func DefaultCTDRConfig() CTDRConfig {
	return CTDRConfig{
		LambdaReg:        1000.0,
		AlphaSensitivity: 1.0,
		Epsilon:          1e-8,
	}
}

// Validate checks the tunable constraints.
func (c CTDRConfig) Validate() error {
	if c.LambdaReg <= 0 {
		return fmt.Errorf("%w: lambda_reg must be > 0, got %v", ErrInvalidConfig, c.LambdaReg)
	}
	if c.AlphaSensitivity <= 0 {
		return fmt.Errorf("%w: alpha_sensitivity must be > 0, got %v", ErrInvalidConfig, c.AlphaSensitivity)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("%w: epsilon must be > 0, got %v", ErrInvalidConfig, c.Epsilon)
	}
	return nil
}
