package utility

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	appTrainer "github.com/jinbowang1/ctdr-go/internal/application/trainer"
	domainReg "github.com/jinbowang1/ctdr-go/internal/domain/regularizer"
	infraBackbone "github.com/jinbowang1/ctdr-go/internal/infrastructure/backbone"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/dataset"
	"github.com/jinbowang1/ctdr-go/internal/infrastructure/runstore"
)

// CheckStatus represents the status of a diagnostic check.
type CheckStatus string

const (
	CheckStatusPass CheckStatus = "pass"
	CheckStatusWarn CheckStatus = "warn"
	CheckStatusFail CheckStatus = "fail"
)

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   CheckStatus   `json:"status"`
	Message  string        `json:"message"`
	Fix      string        `json:"fix,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Summary holds the summary of all checks.
type Summary struct {
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// DiagnosticReport holds the complete diagnostic report.
type DiagnosticReport struct {
	Version   string        `json:"version"`
	Timestamp time.Time     `json:"timestamp"`
	Platform  string        `json:"platform"`
	Checks    []CheckResult `json:"checks"`
	Summary   Summary       `json:"summary"`
}

// DoctorService checks that the training environment is usable: the
// Go runtime, the experiment config, the run store, environment
// overrides, and the training stack itself.
type DoctorService struct {
	version  string
	basePath string
}

// NewDoctorService creates a new doctor service.
func NewDoctorService(version string) *DoctorService {
	home, _ := os.UserHomeDir()
	return &DoctorService{
		version:  version,
		basePath: filepath.Join(home, ".ctdr"),
	}
}

// RunAllChecks runs all diagnostic checks.
func (d *DoctorService) RunAllChecks() *DiagnosticReport {
	report := &DiagnosticReport{
		Version:   d.version,
		Timestamp: time.Now(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		Checks:    make([]CheckResult, 0),
	}

	// Run checks in parallel
	var wg sync.WaitGroup
	var mu sync.Mutex

	checks := []func() CheckResult{
		d.checkVersion,
		d.checkGoRuntime,
		d.checkConfig,
		d.checkEnvOverrides,
		d.checkRunDatabase,
		d.checkBackgroundRun,
		d.checkDiskSpace,
		d.checkTrainingStack,
	}

	for _, check := range checks {
		wg.Add(1)
		go func(checkFn func() CheckResult) {
			defer wg.Done()
			result := checkFn()
			mu.Lock()
			report.Checks = append(report.Checks, result)
			mu.Unlock()
		}(check)
	}

	wg.Wait()

	for _, check := range report.Checks {
		switch check.Status {
		case CheckStatusPass:
			report.Summary.Passed++
		case CheckStatusWarn:
			report.Summary.Warnings++
		case CheckStatusFail:
			report.Summary.Failed++
		}
		report.Summary.Total++
	}

	return report
}

// RunCheck runs a specific check by name.
func (d *DoctorService) RunCheck(name string) (*CheckResult, error) {
	checks := map[string]func() CheckResult{
		"version":    d.checkVersion,
		"go":         d.checkGoRuntime,
		"config":     d.checkConfig,
		"env":        d.checkEnvOverrides,
		"store":      d.checkRunDatabase,
		"background": d.checkBackgroundRun,
		"disk":       d.checkDiskSpace,
		"stack":      d.checkTrainingStack,
	}

	checkFn, exists := checks[name]
	if !exists {
		return nil, fmt.Errorf("unknown check: %s", name)
	}

	result := checkFn()
	return &result, nil
}

// GetAvailableChecks returns the list of available check names.
func (d *DoctorService) GetAvailableChecks() []string {
	return []string{"version", "go", "config", "env", "store", "background", "disk", "stack"}
}

// Private methods

// checkVersion checks the current version.
func (d *DoctorService) checkVersion() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:   "Version",
		Status: CheckStatusPass,
	}

	if d.version == "" {
		result.Status = CheckStatusWarn
		result.Message = "Version not set"
	} else {
		result.Message = fmt.Sprintf("ctdr %s", d.version)
	}

	result.Duration = time.Since(start)
	return result
}

// checkGoRuntime checks the Go runtime version.
func (d *DoctorService) checkGoRuntime() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Go Runtime",
	}

	goVersion := runtime.Version()
	result.Message = goVersion

	versionStr := strings.TrimPrefix(goVersion, "go")
	parts := strings.Split(versionStr, ".")
	if len(parts) >= 2 && parts[0] == "1" {
		minorNum := 0
		fmt.Sscanf(parts[1], "%d", &minorNum)
		if minorNum >= 21 {
			result.Status = CheckStatusPass
		} else {
			result.Status = CheckStatusWarn
			result.Message = fmt.Sprintf("%s (Go 1.21+ recommended)", goVersion)
		}
	}

	if result.Status == "" {
		result.Status = CheckStatusPass
	}

	result.Duration = time.Since(start)
	return result
}

// checkConfig checks the conventional experiment config file.
func (d *DoctorService) checkConfig() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Configuration",
	}

	configPath := filepath.Join(d.basePath, "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		result.Status = CheckStatusWarn
		result.Message = "No config file found; runs use built-in defaults"
		result.Fix = fmt.Sprintf("Create %s to customize experiments", configPath)
	} else if config, err := appTrainer.LoadExperimentConfig(configPath); err != nil {
		result.Status = CheckStatusFail
		result.Message = fmt.Sprintf("Invalid config: %v", err)
		result.Fix = "Fix the reported field in the config file"
	} else {
		result.Status = CheckStatusPass
		result.Message = fmt.Sprintf("Valid configuration (%s)", config.Name)
	}

	result.Duration = time.Since(start)
	return result
}

// checkEnvOverrides checks that the CTDR_* environment overrides, when
// set, will parse the way the config loader parses them.
func (d *DoctorService) checkEnvOverrides() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Environment Overrides",
	}

	set := make([]string, 0)
	bad := make([]string, 0)

	for _, key := range []string{"CTDR_LAMBDA_REG", "CTDR_ALPHA_SENSITIVITY", "CTDR_EPSILON"} {
		if val := os.Getenv(key); val != "" {
			set = append(set, key)
			if _, err := strconv.ParseFloat(val, 64); err != nil {
				bad = append(bad, key)
			}
		}
	}
	for _, key := range []string{"CTDR_EPOCHS", "CTDR_BATCH_SIZE"} {
		if val := os.Getenv(key); val != "" {
			set = append(set, key)
			if _, err := strconv.Atoi(val); err != nil {
				bad = append(bad, key)
			}
		}
	}
	if val := os.Getenv("CTDR_STORE_BACKEND"); val != "" {
		set = append(set, "CTDR_STORE_BACKEND")
		switch val {
		case runstore.BackendMemory, runstore.BackendSQLite, runstore.BackendPostgres:
		default:
			bad = append(bad, "CTDR_STORE_BACKEND")
		}
	}
	if os.Getenv("CTDR_DB_PATH") != "" {
		set = append(set, "CTDR_DB_PATH")
	}

	if len(bad) > 0 {
		result.Status = CheckStatusFail
		result.Message = fmt.Sprintf("Unparseable: %s", strings.Join(bad, ", "))
		result.Fix = "Fix or unset the listed variables"
	} else if len(set) == 0 {
		result.Status = CheckStatusPass
		result.Message = "No overrides set"
	} else {
		result.Status = CheckStatusPass
		result.Message = fmt.Sprintf("Active: %s", strings.Join(set, ", "))
	}

	result.Duration = time.Since(start)
	return result
}

// checkRunDatabase checks the default SQLite run database.
func (d *DoctorService) checkRunDatabase() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Run Database",
	}

	dbPath := runstore.DefaultConfig().DatabasePath

	info, err := os.Stat(dbPath)
	if os.IsNotExist(err) {
		result.Status = CheckStatusWarn
		result.Message = "No run database found"
		result.Fix = "The sqlite backend creates it on first use"
	} else if err != nil {
		result.Status = CheckStatusFail
		result.Message = fmt.Sprintf("Cannot access database: %v", err)
	} else {
		result.Status = CheckStatusPass
		result.Message = fmt.Sprintf("Found (%s)", formatBytes(info.Size()))
	}

	result.Duration = time.Since(start)
	return result
}

// checkBackgroundRun checks the detached-run PID file.
func (d *DoctorService) checkBackgroundRun() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Background Run",
	}

	pidPath := filepath.Join(d.basePath, trainPIDFile)

	pidData, err := os.ReadFile(pidPath)
	if os.IsNotExist(err) {
		result.Status = CheckStatusPass
		result.Message = "No background run"
	} else if err != nil {
		result.Status = CheckStatusFail
		result.Message = fmt.Sprintf("Cannot read PID file: %v", err)
	} else {
		var pid int
		fmt.Sscanf(string(pidData), "%d", &pid)

		process, err := os.FindProcess(pid)
		if err == nil {
			err = process.Signal(syscall.Signal(0))
		}
		if err != nil {
			result.Status = CheckStatusWarn
			result.Message = fmt.Sprintf("Stale PID file (process %d gone)", pid)
			result.Fix = fmt.Sprintf("Remove %s", pidPath)
		} else {
			result.Status = CheckStatusPass
			result.Message = fmt.Sprintf("Training run active (PID %d)", pid)
		}
	}

	result.Duration = time.Since(start)
	return result
}

// checkDiskSpace checks available disk space.
func (d *DoctorService) checkDiskSpace() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Disk Space",
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(d.basePath, &stat); err != nil {
		home, _ := os.UserHomeDir()
		if err := syscall.Statfs(home, &stat); err != nil {
			result.Status = CheckStatusWarn
			result.Message = "Cannot determine disk space"
			result.Duration = time.Since(start)
			return result
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	usedPercent := float64(total-available) / float64(total) * 100

	availableStr := formatBytes(int64(available))

	if available < 1024*1024*100 { // Less than 100MB
		result.Status = CheckStatusFail
		result.Message = fmt.Sprintf("Low disk space: %s available", availableStr)
		result.Fix = "Free up disk space"
	} else if available < 1024*1024*1024 { // Less than 1GB
		result.Status = CheckStatusWarn
		result.Message = fmt.Sprintf("%s available (%.1f%% used)", availableStr, usedPercent)
	} else {
		result.Status = CheckStatusPass
		result.Message = fmt.Sprintf("%s available (%.1f%% used)", availableStr, usedPercent)
	}

	result.Duration = time.Since(start)
	return result
}

// checkTrainingStack runs a miniature end-to-end training task.
func (d *DoctorService) checkTrainingStack() CheckResult {
	start := time.Now()

	result := CheckResult{
		Name: "Training Stack",
	}

	if err := d.runTrainingSmoke(); err != nil {
		result.Status = CheckStatusFail
		result.Message = fmt.Sprintf("Smoke run failed: %v", err)
	} else {
		result.Status = CheckStatusPass
		result.Message = "One-task smoke run passed"
	}

	result.Duration = time.Since(start)
	return result
}

// runTrainingSmoke trains one tiny task through the full protocol.
func (d *DoctorService) runTrainingSmoke() error {
	model, err := infraBackbone.NewMLP(infraBackbone.MLPConfig{
		InputDim:   4,
		HiddenDims: []int{6},
		OutputDim:  3,
		Seed:       1,
	})
	if err != nil {
		return err
	}
	opt, err := infraBackbone.NewSGD(model, infraBackbone.DefaultSGDConfig())
	if err != nil {
		return err
	}
	tr, err := appTrainer.NewContinualTrainer(model, opt, appTrainer.TrainerConfig{
		CTDR: domainReg.CTDRConfig{
			LambdaReg:        1.0,
			AlphaSensitivity: 1.0,
			Epsilon:          1e-8,
		},
		SweepBatchSize: 8,
	})
	if err != nil {
		return err
	}

	tasks, err := dataset.GenerateTasks(dataset.SyntheticConfig{
		Tasks:         1,
		Classes:       3,
		InputDim:      4,
		TrainPerClass: 4,
		TestPerClass:  2,
		ClusterSpread: 0.3,
		Seed:          1,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, batch := range tasks[0].Train.Batches(8) {
		if _, err := tr.Observe(ctx, batch); err != nil {
			return err
		}
	}
	if _, err := tr.EndTask(ctx, tasks[0].Train); err != nil {
		return err
	}
	if _, err := tr.Penalty(); err != nil {
		return err
	}
	return nil
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatReport formats a diagnostic report for display.
func FormatReport(report *DiagnosticReport, showFix bool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("CTDR Diagnostics (v%s)\n", report.Version))
	sb.WriteString(fmt.Sprintf("Platform: %s\n", report.Platform))
	sb.WriteString(fmt.Sprintf("Time: %s\n\n", report.Timestamp.Format(time.RFC3339)))

	for _, check := range report.Checks {
		icon := getStatusIcon(check.Status)
		sb.WriteString(fmt.Sprintf("%s %s: %s", icon, check.Name, check.Message))
		if check.Duration > 0 {
			sb.WriteString(fmt.Sprintf(" (%.0fms)", float64(check.Duration.Microseconds())/1000))
		}
		sb.WriteString("\n")

		if showFix && check.Fix != "" && check.Status != CheckStatusPass {
			sb.WriteString(fmt.Sprintf("  Fix: %s\n", check.Fix))
		}
	}

	sb.WriteString(fmt.Sprintf("\nSummary: %d passed, %d warnings, %d failed\n",
		report.Summary.Passed, report.Summary.Warnings, report.Summary.Failed))

	return sb.String()
}

// getStatusIcon returns the icon for a check status.
func getStatusIcon(status CheckStatus) string {
	switch status {
	case CheckStatusPass:
		return "[OK]"
	case CheckStatusWarn:
		return "[WARN]"
	case CheckStatusFail:
		return "[FAIL]"
	default:
		return "[?]"
	}
}
