package dataset

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNewSliceDataset_RejectsMismatchedLengths(t *testing.T) {
	_, err := NewSliceDataset([][]float64{{1}, {2}}, []int{0})
	if !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("expected ErrInvalidDataset, got %v", err)
	}
}

func TestSliceDataset_BatchesPartitionEveryExampleOnce(t *testing.T) {
	inputs := make([][]float64, 10)
	labels := make([]int, 10)
	for i := range inputs {
		inputs[i] = []float64{float64(i)}
		labels[i] = i
	}
	ds, err := NewSliceDataset(inputs, labels)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}

	batches := ds.Batches(3)
	if len(batches) != 4 {
		t.Fatalf("expected 4 batches of size 3 over 10 examples, got %d", len(batches))
	}
	if batches[3].Size() != 1 {
		t.Fatalf("expected a short final batch of 1 example, got %d", batches[3].Size())
	}

	seen := make(map[int]bool)
	for _, batch := range batches {
		if len(batch.Inputs) != len(batch.Labels) {
			t.Fatalf("batch inputs and labels disagree: %d vs %d", len(batch.Inputs), len(batch.Labels))
		}
		for _, label := range batch.Labels {
			if seen[label] {
				t.Fatalf("example %d appears in more than one batch", label)
			}
			seen[label] = true
		}
	}
	if len(seen) != 10 {
		t.Fatalf("expected every example batched exactly once, covered %d of 10", len(seen))
	}
}

func TestSliceDataset_NonPositiveBatchSizeYieldsSingleBatch(t *testing.T) {
	ds, err := NewSliceDataset([][]float64{{1}, {2}, {3}}, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}

	batches := ds.Batches(0)
	if len(batches) != 1 || batches[0].Size() != 3 {
		t.Fatalf("expected one full batch, got %d batches", len(batches))
	}
}

func TestSliceDataset_EmptyDatasetHasNoBatches(t *testing.T) {
	ds, err := NewSliceDataset(nil, nil)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	if batches := ds.Batches(8); batches != nil {
		t.Fatalf("expected no batches for an empty dataset, got %d", len(batches))
	}
}

func TestSliceDataset_ShufflePreservesPairing(t *testing.T) {
	inputs := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}, {6}, {7}}
	labels := []int{0, 1, 2, 3, 4, 5, 6, 7}
	ds, err := NewSliceDataset(inputs, labels)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}

	ds.Shuffle(rand.New(rand.NewSource(99)))
	for i := 0; i < ds.Len(); i++ {
		input, label := ds.Example(i)
		if int(input[0]) != label {
			t.Fatalf("shuffle broke the input/label pairing at index %d: input %v, label %d", i, input, label)
		}
	}
}

func TestGenerateTasks_DeterministicForSeed(t *testing.T) {
	config := DefaultSyntheticConfig()

	first, err := GenerateTasks(config)
	if err != nil {
		t.Fatalf("failed to generate tasks: %v", err)
	}
	second, err := GenerateTasks(config)
	if err != nil {
		t.Fatalf("failed to regenerate tasks: %v", err)
	}

	if len(first) != config.Tasks || len(second) != config.Tasks {
		t.Fatalf("expected %d tasks, got %d and %d", config.Tasks, len(first), len(second))
	}
	for i := range first {
		if first[i].Train.Len() != second[i].Train.Len() {
			t.Fatalf("task %d train sizes differ between runs", i)
		}
		for j := 0; j < first[i].Train.Len(); j++ {
			a, la := first[i].Train.Example(j)
			b, lb := second[i].Train.Example(j)
			if la != lb {
				t.Fatalf("task %d example %d labels differ between identical seeds", i, j)
			}
			for d := range a {
				if a[d] != b[d] {
					t.Fatalf("task %d example %d inputs differ between identical seeds", i, j)
				}
			}
		}
	}
}

func TestGenerateTasks_ShapesAndLabelRanges(t *testing.T) {
	config := SyntheticConfig{
		Tasks:         2,
		Classes:       3,
		InputDim:      5,
		TrainPerClass: 10,
		TestPerClass:  4,
		ClusterSpread: 0.5,
		Seed:          17,
	}

	tasks, err := GenerateTasks(config)
	if err != nil {
		t.Fatalf("failed to generate tasks: %v", err)
	}

	for _, task := range tasks {
		if task.Train.Len() != config.Classes*config.TrainPerClass {
			t.Fatalf("task %s has %d training examples, want %d", task.Name, task.Train.Len(), config.Classes*config.TrainPerClass)
		}
		if task.Test.Len() != config.Classes*config.TestPerClass {
			t.Fatalf("task %s has %d test examples, want %d", task.Name, task.Test.Len(), config.Classes*config.TestPerClass)
		}

		counts := make(map[int]int)
		for i := 0; i < task.Train.Len(); i++ {
			input, label := task.Train.Example(i)
			if len(input) != config.InputDim {
				t.Fatalf("task %s example %d has dimension %d, want %d", task.Name, i, len(input), config.InputDim)
			}
			if label < 0 || label >= config.Classes {
				t.Fatalf("task %s example %d has out-of-range label %d", task.Name, i, label)
			}
			counts[label]++
		}
		for label := 0; label < config.Classes; label++ {
			if counts[label] != config.TrainPerClass {
				t.Fatalf("task %s has %d examples for label %d, want %d", task.Name, counts[label], label, config.TrainPerClass)
			}
		}
	}
}

func TestGenerateTasks_RejectsInvalidConfig(t *testing.T) {
	config := DefaultSyntheticConfig()
	config.Classes = 1
	if _, err := GenerateTasks(config); !errors.Is(err, ErrInvalidDataset) {
		t.Fatalf("expected ErrInvalidDataset for single-class config, got %v", err)
	}
}
