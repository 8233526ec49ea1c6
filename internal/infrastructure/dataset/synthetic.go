package dataset

import (
	"fmt"
	"math/rand"
)

// SyntheticConfig describes a generated sequence of Gaussian-cluster
// classification tasks. Every task keeps the same label space but draws
// fresh cluster centers, so training on a later task degrades the
// earlier decision boundaries unless something protects them.
type SyntheticConfig struct {
	// Tasks is the number of sequential tasks to generate.
	Tasks int `json:"tasks" yaml:"tasks"`
	// Classes is the number of labels shared by every task.
	Classes int `json:"classes" yaml:"classes"`
	// InputDim is the feature dimension.
	InputDim int `json:"inputDim" yaml:"inputDim"`
	// TrainPerClass is the number of training examples per class.
	TrainPerClass int `json:"trainPerClass" yaml:"trainPerClass"`
	// TestPerClass is the number of held-out examples per class.
	TestPerClass int `json:"testPerClass" yaml:"testPerClass"`
	// ClusterSpread is the noise radius around each cluster center.
	ClusterSpread float64 `json:"clusterSpread" yaml:"clusterSpread"`
	// Seed fixes the generated data for reproducible runs.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultSyntheticConfig returns a three-task benchmark that trains in
// well under a second.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Tasks:         3,
		Classes:       4,
		InputDim:      8,
		TrainPerClass: 64,
		TestPerClass:  16,
		ClusterSpread: 0.35,
		Seed:          1,
	}
}

// Validate checks the configuration.
func (c SyntheticConfig) Validate() error {
	if c.Tasks <= 0 {
		return fmt.Errorf("%w: tasks must be positive, got %d", ErrInvalidDataset, c.Tasks)
	}
	if c.Classes < 2 {
		return fmt.Errorf("%w: classes must be at least 2, got %d", ErrInvalidDataset, c.Classes)
	}
	if c.InputDim <= 0 {
		return fmt.Errorf("%w: inputDim must be positive, got %d", ErrInvalidDataset, c.InputDim)
	}
	if c.TrainPerClass <= 0 {
		return fmt.Errorf("%w: trainPerClass must be positive, got %d", ErrInvalidDataset, c.TrainPerClass)
	}
	if c.TestPerClass < 0 {
		return fmt.Errorf("%w: testPerClass must be non-negative, got %d", ErrInvalidDataset, c.TestPerClass)
	}
	if c.ClusterSpread <= 0 {
		return fmt.Errorf("%w: clusterSpread must be positive, got %g", ErrInvalidDataset, c.ClusterSpread)
	}
	return nil
}

// GenerateTasks builds the task sequence. Generation is deterministic
// for a given configuration.
func GenerateTasks(config SyntheticConfig) ([]Task, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(config.Seed))
	tasks := make([]Task, config.Tasks)

	for t := range tasks {
		// Fresh cluster centers per task, spread across [-2, 2].
		centers := make([][]float64, config.Classes)
		for c := range centers {
			center := make([]float64, config.InputDim)
			for d := range center {
				center[d] = (rng.Float64()*2 - 1) * 2.0
			}
			centers[c] = center
		}

		train := sampleClusters(rng, centers, config.TrainPerClass, config.ClusterSpread)
		train.Shuffle(rng)
		test := sampleClusters(rng, centers, config.TestPerClass, config.ClusterSpread)

		tasks[t] = Task{
			Name:  fmt.Sprintf("task-%d", t),
			Index: t,
			Train: train,
			Test:  test,
		}
	}
	return tasks, nil
}

func sampleClusters(rng *rand.Rand, centers [][]float64, perClass int, spread float64) *SliceDataset {
	inputs := make([][]float64, 0, len(centers)*perClass)
	labels := make([]int, 0, len(centers)*perClass)

	for label, center := range centers {
		for n := 0; n < perClass; n++ {
			point := make([]float64, len(center))
			for d := range point {
				point[d] = center[d] + rng.NormFloat64()*spread
			}
			inputs = append(inputs, point)
			labels = append(labels, label)
		}
	}

	ds, _ := NewSliceDataset(inputs, labels)
	return ds
}
