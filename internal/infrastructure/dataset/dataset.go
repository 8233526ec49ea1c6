// Package dataset provides labeled example storage, batching, and the
// synthetic sequential-task generator used by the benchmark runs.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrInvalidDataset indicates inputs and labels that cannot form a
// consistent dataset.
var ErrInvalidDataset = errors.New("invalid dataset")

// Batch is one training mini-batch.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int {
	return len(b.Inputs)
}

// SliceDataset is an in-memory labeled dataset. Inputs and labels are
// parallel; index i is one example.
type SliceDataset struct {
	inputs [][]float64
	labels []int
}

// NewSliceDataset wraps parallel input and label slices. The slices are
// retained, not copied.
func NewSliceDataset(inputs [][]float64, labels []int) (*SliceDataset, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("%w: %d inputs against %d labels", ErrInvalidDataset, len(inputs), len(labels))
	}
	return &SliceDataset{inputs: inputs, labels: labels}, nil
}

// Len returns the number of examples.
func (d *SliceDataset) Len() int {
	return len(d.inputs)
}

// Example returns the input and label at index i.
func (d *SliceDataset) Example(i int) ([]float64, int) {
	return d.inputs[i], d.labels[i]
}

// Shuffle permutes the example order in place using the given source.
func (d *SliceDataset) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(d.inputs), func(i, j int) {
		d.inputs[i], d.inputs[j] = d.inputs[j], d.inputs[i]
		d.labels[i], d.labels[j] = d.labels[j], d.labels[i]
	})
}

// Batches partitions the dataset into consecutive batches of at most
// batchSize examples. The final batch may be short. A non-positive
// batchSize yields a single batch with every example.
func (d *SliceDataset) Batches(batchSize int) []Batch {
	if d.Len() == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = d.Len()
	}

	batches := make([]Batch, 0, (d.Len()+batchSize-1)/batchSize)
	for start := 0; start < d.Len(); start += batchSize {
		end := start + batchSize
		if end > d.Len() {
			end = d.Len()
		}
		batches = append(batches, Batch{
			Inputs: d.inputs[start:end],
			Labels: d.labels[start:end],
		})
	}
	return batches
}

// Task pairs the training and evaluation splits for one sequential
// task.
type Task struct {
	// Name identifies the task in logs and run records.
	Name string
	// Index is the zero-based position in the task sequence.
	Index int
	// Train is the split the trainer observes.
	Train *SliceDataset
	// Test is the held-out split used for retained-accuracy checks.
	Test *SliceDataset
}
