package trainer

import (
	"context"

	domainBackbone "github.com/jinbowang1/ctdr-go/internal/domain/backbone"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
)

// SweepStrategy produces the squared-gradient sensitivity signal for a
// finished task: a per-parameter accumulation of squared log-likelihood
// gradients over the task's training data. Implementations are free to
// batch or vectorize the accumulation as long as the accumulated
// quantity itself is unchanged.
type SweepStrategy interface {
	// Sweep accumulates squared per-example gradients over data and
	// returns the normalized accumulation vector. The context is
	// honored between batches; an in-flight example is never abandoned
	// halfway.
	Sweep(ctx context.Context, model domainBackbone.Backbone, data *dataset.SliceDataset, batchSize int) ([]float64, error)
}

// PerExampleSweep is the reference strategy: one forward/backward per
// individual example, squared into the accumulator. The normalizer is
// batchCount * batchSize rather than the true example count, so a
// short final batch slightly deflates the result; downstream weighting
// only compares magnitudes, which tolerates that bias.
type PerExampleSweep struct{}

// Sweep runs the per-example accumulation.
func (PerExampleSweep) Sweep(ctx context.Context, model domainBackbone.Backbone, data *dataset.SliceDataset, batchSize int) ([]float64, error) {
	accum := make([]float64, model.ParameterCount())
	if data == nil || data.Len() == 0 {
		// Empty task data yields an all-zero signal, which downstream
		// weighting maps to full protection.
		return accum, nil
	}

	if batchSize <= 0 {
		batchSize = data.Len()
	}
	batches := data.Batches(batchSize)

	for _, batch := range batches {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		for i := range batch.Inputs {
			model.ZeroGrad()
			model.BackwardLogLikelihood(batch.Inputs[i], batch.Labels[i])
			for k, g := range model.Gradients() {
				accum[k] += g * g
			}
		}
	}

	norm := float64(len(batches) * batchSize)
	for k := range accum {
		accum[k] /= norm
	}
	return accum, nil
}
