// Package regularizer implements the Dynamic-CTDR regularization engine:
// sensitivity-ratio importance weighting, the anchored quadratic penalty,
// and its analytic gradient.
package regularizer

import "math"

// SensitivityRatio computes per-parameter dynamic importance weights
// from two gradient-magnitude vectors:
//
//	ratio_i  = |new_i| / (|ref_i| + epsilon)
//	weight_i = exp(-alpha * ratio_i)
//
// A parameter barely driven by the new task keeps weight near 1 and
// stays protected; a parameter the new task pulls hard decays toward 0.
// Outputs always lie in (0, 1] for finite inputs and alpha > 0. The
// epsilon floor keeps a numerically zero reference from blowing up the
// ratio. Magnitudes are taken with math.Abs on both sides; signed
// ratios are never formed.
//
// Inputs must have equal length; the engine methods guard this before
// delegating here.
func SensitivityRatio(newTaskGrads, referenceGrads []float64, alpha, epsilon float64) []float64 {
	weights := make([]float64, len(newTaskGrads))
	for i, g := range newTaskGrads {
		ratio := math.Abs(g) / (math.Abs(referenceGrads[i]) + epsilon)
		weights[i] = math.Exp(-alpha * ratio)
	}
	return weights
}
