package regularizer

// Penalty computes the anchored quadratic regularization loss
//
//	lambda * sum_i( importance_i * (params_i - checkpoint_i)^2 )
//
// A nil checkpoint means no boundary has been committed yet; the
// penalty degenerates to 0 regardless of lambda.
func Penalty(params, checkpoint, importance []float64, lambda float64) float64 {
	if checkpoint == nil {
		return 0
	}

	var sum float64
	for i, p := range params {
		diff := p - checkpoint[i]
		sum += importance[i] * diff * diff
	}
	return lambda * sum
}

// PenaltyGradient computes the analytic gradient of Penalty with
// respect to params:
//
//	2 * lambda * importance_i * (params_i - checkpoint_i)
//
// With a nil checkpoint the result is the zero vector. Any change to
// Penalty's formula requires the matching change here; the pairing is
// checked against a numerical gradient in the tests.
func PenaltyGradient(params, checkpoint, importance []float64, lambda float64) []float64 {
	grad := make([]float64, len(params))
	if checkpoint == nil {
		return grad
	}

	for i, p := range params {
		grad[i] = 2 * lambda * importance[i] * (p - checkpoint[i])
	}
	return grad
}
