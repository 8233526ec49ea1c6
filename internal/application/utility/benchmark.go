// Package utility provides diagnostics and performance benchmarking
// for the training stack.
package utility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	appTrainer "github.com/jinbowang1/ctdr-go/internal/application/trainer"
	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
	infraBackbone "github.com/jinbowang1/ctdr-go/internal/infrastructure/backbone"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
	infraReg "github.com/jinbowang1/ctdr-go/internal/infrastructure/regularizer"
)

// ErrInvalidBenchmark indicates an unusable benchmark configuration.
var ErrInvalidBenchmark = errors.New("invalid benchmark config")

// benchParamDim is the parameter-vector length the pure regularizer
// benchmarks operate on. It is far larger than the bundled MLP so the
// vector math dominates the measurement.
const benchParamDim = 16384

// BenchmarkResult represents the result of a single benchmark.
type BenchmarkResult struct {
	Name    string        `json:"name"`
	Mean    time.Duration `json:"mean"`
	Median  time.Duration `json:"median"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Target  time.Duration `json:"target"`
	Passed  bool          `json:"passed"`
	Samples int           `json:"samples"`
}

// BenchmarkReport represents a complete benchmark report.
type BenchmarkReport struct {
	Suite     string            `json:"suite"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Results   []BenchmarkResult `json:"results"`
	Summary   BenchmarkSummary  `json:"summary"`
}

// BenchmarkSummary holds summary statistics.
type BenchmarkSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// BenchmarkConfig holds benchmark configuration.
type BenchmarkConfig struct {
	Iterations int `json:"iterations"`
	Warmup     int `json:"warmup"`
}

// DefaultBenchmarkConfig returns the default benchmark configuration.
func DefaultBenchmarkConfig() BenchmarkConfig {
	return BenchmarkConfig{
		Iterations: 100,
		Warmup:     10,
	}
}

// Validate checks the configuration.
func (c BenchmarkConfig) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidBenchmark, c.Iterations)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("%w: warmup must be non-negative, got %d", ErrInvalidBenchmark, c.Warmup)
	}
	return nil
}

// BenchmarkService measures the latency of the regularizer and
// training operations against fixed targets.
type BenchmarkService struct {
	basePath string
	config   BenchmarkConfig
}

// NewBenchmarkService creates a new benchmark service. Reports are
// saved under ~/.ctdr/benchmarks.
func NewBenchmarkService(config BenchmarkConfig) (*BenchmarkService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	basePath := filepath.Join(home, ".ctdr", "benchmarks")
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &BenchmarkService{
		basePath: basePath,
		config:   config,
	}, nil
}

// RunRegularizerBenchmarks benchmarks the pure penalty and sensitivity
// math on a large parameter vector.
func (b *BenchmarkService) RunRegularizerBenchmarks() (*BenchmarkReport, error) {
	start := time.Now()

	report := &BenchmarkReport{
		Suite:     "regularizer",
		Timestamp: time.Now(),
		Results:   make([]BenchmarkResult, 0),
	}

	penaltyResult, err := b.benchmarkPenaltyEvaluation()
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, penaltyResult)

	fusionResult, err := b.benchmarkGradientFusion()
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, fusionResult)

	sensitivityResult, err := b.benchmarkSensitivityWeights()
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, sensitivityResult)

	report.Duration = time.Since(start)
	b.calculateSummary(report)

	return report, nil
}

// RunTrainingBenchmarks benchmarks full training-protocol operations
// on the bundled MLP and a synthetic task.
func (b *BenchmarkService) RunTrainingBenchmarks() (*BenchmarkReport, error) {
	start := time.Now()

	report := &BenchmarkReport{
		Suite:     "training",
		Timestamp: time.Now(),
		Results:   make([]BenchmarkResult, 0),
	}

	observeResult, err := b.benchmarkObserveStep()
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, observeResult)

	sweepResult, err := b.benchmarkBoundarySweep()
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, sweepResult)

	evalResult, err := b.benchmarkModelEvaluation()
	if err != nil {
		return nil, err
	}
	report.Results = append(report.Results, evalResult)

	report.Duration = time.Since(start)
	b.calculateSummary(report)

	return report, nil
}

// RunAllBenchmarks runs all benchmark suites.
func (b *BenchmarkService) RunAllBenchmarks() (*BenchmarkReport, error) {
	start := time.Now()

	report := &BenchmarkReport{
		Suite:     "all",
		Timestamp: time.Now(),
		Results:   make([]BenchmarkResult, 0),
	}

	regReport, err := b.RunRegularizerBenchmarks()
	if err != nil {
		return nil, fmt.Errorf("regularizer benchmarks failed: %w", err)
	}
	report.Results = append(report.Results, regReport.Results...)

	trainReport, err := b.RunTrainingBenchmarks()
	if err != nil {
		return nil, fmt.Errorf("training benchmarks failed: %w", err)
	}
	report.Results = append(report.Results, trainReport.Results...)

	report.Duration = time.Since(start)
	b.calculateSummary(report)

	return report, nil
}

// SaveReport saves the benchmark report to a file.
func (b *BenchmarkService) SaveReport(report *BenchmarkReport) (string, error) {
	filename := fmt.Sprintf("%s_%s.json", report.Suite, time.Now().Format("20060102_150405"))
	path := filepath.Join(b.basePath, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return path, nil
}

// Private methods

// benchmarkPenaltyEvaluation benchmarks the anchored quadratic penalty.
func (b *BenchmarkService) benchmarkPenaltyEvaluation() (BenchmarkResult, error) {
	target := 1 * time.Millisecond

	engine, state, params, err := newRegularizerFixture()
	if err != nil {
		return BenchmarkResult{}, err
	}

	samples := b.run(func() {
		_, _ = engine.Penalty(params, state)
	})

	return b.createResult("Penalty Evaluation", samples, target), nil
}

// benchmarkGradientFusion benchmarks the analytic penalty gradient
// fused with a task gradient.
func (b *BenchmarkService) benchmarkGradientFusion() (BenchmarkResult, error) {
	target := 2 * time.Millisecond

	engine, state, params, err := newRegularizerFixture()
	if err != nil {
		return BenchmarkResult{}, err
	}

	rng := rand.New(rand.NewSource(7))
	taskGrads := make([]float64, benchParamDim)
	for i := range taskGrads {
		taskGrads[i] = rng.NormFloat64()
	}

	samples := b.run(func() {
		_, _ = engine.FusedGradients(taskGrads, params, state)
	})

	return b.createResult("Gradient Fusion", samples, target), nil
}

// benchmarkSensitivityWeights benchmarks the importance-weight
// derivation from an accumulated gradient signal.
func (b *BenchmarkService) benchmarkSensitivityWeights() (BenchmarkResult, error) {
	target := 2 * time.Millisecond

	engine, state, _, err := newRegularizerFixture()
	if err != nil {
		return BenchmarkResult{}, err
	}

	rng := rand.New(rand.NewSource(11))
	sweepGrads := make([]float64, benchParamDim)
	for i := range sweepGrads {
		sweepGrads[i] = rng.Float64()
	}

	samples := b.run(func() {
		_, _ = engine.NextImportance(sweepGrads, state)
	})

	return b.createResult("Sensitivity Weights", samples, target), nil
}

// benchmarkObserveStep benchmarks one full training step with an
// active anchor: backward pass, penalty, fusion, optimizer step.
func (b *BenchmarkService) benchmarkObserveStep() (BenchmarkResult, error) {
	target := 5 * time.Millisecond

	fixture, err := newTrainingFixture()
	if err != nil {
		return BenchmarkResult{}, err
	}

	ctx := context.Background()
	samples := b.run(func() {
		_, _ = fixture.trainer.Observe(ctx, fixture.batch)
	})

	return b.createResult("Observe Step", samples, target), nil
}

// benchmarkBoundarySweep benchmarks the per-example squared-gradient
// sweep over a task's training data.
func (b *BenchmarkService) benchmarkBoundarySweep() (BenchmarkResult, error) {
	target := 50 * time.Millisecond

	fixture, err := newTrainingFixture()
	if err != nil {
		return BenchmarkResult{}, err
	}

	ctx := context.Background()
	sweep := appTrainer.PerExampleSweep{}
	samples := b.run(func() {
		_, _ = sweep.Sweep(ctx, fixture.model, fixture.task.Train, 32)
	})

	return b.createResult("Boundary Sweep", samples, target), nil
}

// benchmarkModelEvaluation benchmarks held-out accuracy evaluation.
func (b *BenchmarkService) benchmarkModelEvaluation() (BenchmarkResult, error) {
	target := 5 * time.Millisecond

	fixture, err := newTrainingFixture()
	if err != nil {
		return BenchmarkResult{}, err
	}

	samples := b.run(func() {
		_ = fixture.trainer.Evaluate(fixture.task.Test)
	})

	return b.createResult("Model Evaluation", samples, target), nil
}

// run executes a benchmark function and returns timing samples.
func (b *BenchmarkService) run(fn func()) []time.Duration {
	samples := make([]time.Duration, 0, b.config.Iterations)

	for i := 0; i < b.config.Warmup; i++ {
		fn()
	}

	for i := 0; i < b.config.Iterations; i++ {
		start := time.Now()
		fn()
		samples = append(samples, time.Since(start))
	}

	return samples
}

// createResult creates a benchmark result from samples.
func (b *BenchmarkService) createResult(name string, samples []time.Duration, target time.Duration) BenchmarkResult {
	result := BenchmarkResult{
		Name:    name,
		Target:  target,
		Samples: len(samples),
	}

	if len(samples) == 0 {
		return result
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, s := range sorted {
		sum += s
	}

	result.Mean = sum / time.Duration(len(sorted))
	result.Median = percentile(sorted, 50)
	result.P95 = percentile(sorted, 95)
	result.P99 = percentile(sorted, 99)
	result.Min = sorted[0]
	result.Max = sorted[len(sorted)-1]
	result.Passed = result.Mean <= target

	return result
}

// percentile calculates the nth percentile of sorted durations.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

// calculateSummary calculates the summary statistics.
func (b *BenchmarkService) calculateSummary(report *BenchmarkReport) {
	report.Summary.Total = len(report.Results)
	for _, r := range report.Results {
		if r.Passed {
			report.Summary.Passed++
		} else {
			report.Summary.Failed++
		}
	}
}

// newRegularizerFixture builds an engine and an anchored state with a
// committed checkpoint, plus a drifted parameter vector, all at
// benchParamDim.
func newRegularizerFixture() (*infraReg.Engine, *domainReg.AnchorState, []float64, error) {
	engine, err := infraReg.NewEngine(domainReg.DefaultCTDRConfig())
	if err != nil {
		return nil, nil, nil, err
	}

	rng := rand.New(rand.NewSource(3))
	checkpoint := make([]float64, benchParamDim)
	importance := make([]float64, benchParamDim)
	params := make([]float64, benchParamDim)
	for i := range checkpoint {
		checkpoint[i] = rng.NormFloat64()
		importance[i] = rng.Float64()
		params[i] = checkpoint[i] + rng.NormFloat64()*0.1
	}

	state := &domainReg.AnchorState{}
	if err := state.Commit(checkpoint, importance); err != nil {
		return nil, nil, nil, err
	}
	return engine, state, params, nil
}

// trainingFixture holds a warmed trainer with one committed boundary,
// so every observe exercises the fused-gradient path.
type trainingFixture struct {
	trainer *appTrainer.ContinualTrainer
	model   *infraBackbone.MLP
	task    dataset.Task
	batch   dataset.Batch
}

func newTrainingFixture() (*trainingFixture, error) {
	model, err := infraBackbone.NewMLP(infraBackbone.DefaultMLPConfig())
	if err != nil {
		return nil, err
	}
	opt, err := infraBackbone.NewSGD(model, infraBackbone.DefaultSGDConfig())
	if err != nil {
		return nil, err
	}

	// A small anchoring strength keeps the repeatedly-stepped model
	// stable for the whole sample run.
	config := appTrainer.TrainerConfig{
		CTDR: domainReg.CTDRConfig{
			LambdaReg:        1.0,
			AlphaSensitivity: 1.0,
			Epsilon:          1e-8,
		},
		SweepBatchSize: 32,
	}
	tr, err := appTrainer.NewContinualTrainer(model, opt, config)
	if err != nil {
		return nil, err
	}

	tasks, err := dataset.GenerateTasks(dataset.SyntheticConfig{
		Tasks:         1,
		Classes:       4,
		InputDim:      model.Config().InputDim,
		TrainPerClass: 32,
		TestPerClass:  16,
		ClusterSpread: 0.35,
		Seed:          42,
	})
	if err != nil {
		return nil, err
	}
	task := tasks[0]

	ctx := context.Background()
	batches := task.Train.Batches(32)
	for _, batch := range batches {
		if _, err := tr.Observe(ctx, batch); err != nil {
			return nil, err
		}
	}
	if _, err := tr.EndTask(ctx, task.Train); err != nil {
		return nil, err
	}

	return &trainingFixture{
		trainer: tr,
		model:   model,
		task:    task,
		batch:   batches[0],
	}, nil
}

// FormatBenchmarkReport formats a benchmark report for display.
func FormatBenchmarkReport(report *BenchmarkReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Benchmark Suite: %s\n", report.Suite))
	sb.WriteString(fmt.Sprintf("Time: %s\n", report.Timestamp.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Duration: %v\n\n", report.Duration))

	sb.WriteString(fmt.Sprintf("%-25s %10s %10s %10s %10s %10s %s\n",
		"Benchmark", "Mean", "Median", "P95", "P99", "Target", "Status"))
	sb.WriteString(strings.Repeat("-", 90) + "\n")

	for _, r := range report.Results {
		status := "[PASS]"
		if !r.Passed {
			status = "[FAIL]"
		}

		sb.WriteString(fmt.Sprintf("%-25s %10s %10s %10s %10s %10s %s\n",
			r.Name,
			formatDurationMs(r.Mean),
			formatDurationMs(r.Median),
			formatDurationMs(r.P95),
			formatDurationMs(r.P99),
			formatDurationMs(r.Target),
			status,
		))
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Summary: %d passed, %d failed (total: %d)\n",
		report.Summary.Passed, report.Summary.Failed, report.Summary.Total))

	return sb.String()
}

// formatDurationMs formats a duration in milliseconds.
func formatDurationMs(d time.Duration) string {
	ms := float64(d.Microseconds()) / 1000.0
	if ms < 1 {
		return fmt.Sprintf("%.2fms", ms)
	}
	return fmt.Sprintf("%.1fms", ms)
}
