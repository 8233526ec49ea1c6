package utility

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// clearOverrides blanks every CTDR_* variable the loader reads, so a
// developer's shell cannot leak into these tests.
func clearOverrides(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"CTDR_LAMBDA_REG",
		"CTDR_ALPHA_SENSITIVITY",
		"CTDR_EPSILON",
		"CTDR_EPOCHS",
		"CTDR_BATCH_SIZE",
		"CTDR_STORE_BACKEND",
		"CTDR_DB_PATH",
	} {
		t.Setenv(key, "")
	}
}

// newTestDoctor points the doctor at a throwaway home.
func newTestDoctor(t *testing.T, version string) *DoctorService {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	return NewDoctorService(version)
}

func findCheck(t *testing.T, report *DiagnosticReport, name string) CheckResult {
	t.Helper()

	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("report has no %q check: %+v", name, report.Checks)
	return CheckResult{}
}

func TestDoctorService_RunAllChecks(t *testing.T) {
	clearOverrides(t)
	doctor := newTestDoctor(t, "1.2.3")

	report := doctor.RunAllChecks()

	if report.Summary.Total != 8 {
		t.Fatalf("Summary.Total = %d, want 8", report.Summary.Total)
	}
	if got := report.Summary.Passed + report.Summary.Warnings + report.Summary.Failed; got != report.Summary.Total {
		t.Fatalf("summary does not add up: %+v", report.Summary)
	}
	if report.Platform == "" {
		t.Fatal("Platform not set")
	}

	// Checks run in parallel, so assert by name, not position.
	for _, name := range []string{
		"Version", "Go Runtime", "Configuration", "Environment Overrides",
		"Run Database", "Background Run", "Disk Space", "Training Stack",
	} {
		check := findCheck(t, report, name)
		if check.Status != CheckStatusPass && check.Status != CheckStatusWarn && check.Status != CheckStatusFail {
			t.Fatalf("%s: unexpected status %q", name, check.Status)
		}
	}

	version := findCheck(t, report, "Version")
	if !strings.Contains(version.Message, "1.2.3") {
		t.Fatalf("version message = %q, want it to carry 1.2.3", version.Message)
	}
}

func TestDoctorService_ConfigCheck(t *testing.T) {
	clearOverrides(t)
	doctor := newTestDoctor(t, "test")

	result, err := doctor.RunCheck("config")
	if err != nil {
		t.Fatalf("RunCheck(config) error = %v", err)
	}
	if result.Status != CheckStatusWarn {
		t.Fatalf("missing config: Status = %q, want warn", result.Status)
	}

	configDir := filepath.Join(os.Getenv("HOME"), ".ctdr")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("epochs: -1\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	result, err = doctor.RunCheck("config")
	if err != nil {
		t.Fatalf("RunCheck(config) error = %v", err)
	}
	if result.Status != CheckStatusFail {
		t.Fatalf("invalid config: Status = %q, want fail", result.Status)
	}

	if err := os.WriteFile(configPath, []byte("name: doctor-test\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	result, err = doctor.RunCheck("config")
	if err != nil {
		t.Fatalf("RunCheck(config) error = %v", err)
	}
	if result.Status != CheckStatusPass {
		t.Fatalf("valid config: Status = %q (%s), want pass", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "doctor-test") {
		t.Fatalf("message = %q, want the experiment name", result.Message)
	}
}

func TestDoctorService_EnvOverridesCheck(t *testing.T) {
	clearOverrides(t)
	doctor := newTestDoctor(t, "test")

	result, err := doctor.RunCheck("env")
	if err != nil {
		t.Fatalf("RunCheck(env) error = %v", err)
	}
	if result.Status != CheckStatusPass || !strings.Contains(result.Message, "No overrides") {
		t.Fatalf("clean env: got %q / %q", result.Status, result.Message)
	}

	t.Setenv("CTDR_LAMBDA_REG", "abc")
	result, _ = doctor.RunCheck("env")
	if result.Status != CheckStatusFail || !strings.Contains(result.Message, "CTDR_LAMBDA_REG") {
		t.Fatalf("unparseable float: got %q / %q", result.Status, result.Message)
	}

	t.Setenv("CTDR_LAMBDA_REG", "250")
	t.Setenv("CTDR_STORE_BACKEND", "memory")
	result, _ = doctor.RunCheck("env")
	if result.Status != CheckStatusPass {
		t.Fatalf("valid overrides: Status = %q (%s)", result.Status, result.Message)
	}
	if !strings.Contains(result.Message, "CTDR_LAMBDA_REG") || !strings.Contains(result.Message, "CTDR_STORE_BACKEND") {
		t.Fatalf("message = %q, want both active overrides listed", result.Message)
	}

	t.Setenv("CTDR_STORE_BACKEND", "etcd")
	result, _ = doctor.RunCheck("env")
	if result.Status != CheckStatusFail || !strings.Contains(result.Message, "CTDR_STORE_BACKEND") {
		t.Fatalf("unknown backend: got %q / %q", result.Status, result.Message)
	}
}

func TestDoctorService_BackgroundRunCheck(t *testing.T) {
	clearOverrides(t)
	doctor := newTestDoctor(t, "test")

	result, err := doctor.RunCheck("background")
	if err != nil {
		t.Fatalf("RunCheck(background) error = %v", err)
	}
	if result.Status != CheckStatusPass || !strings.Contains(result.Message, "No background run") {
		t.Fatalf("no pidfile: got %q / %q", result.Status, result.Message)
	}

	pidDir := filepath.Join(os.Getenv("HOME"), ".ctdr")
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	pidPath := filepath.Join(pidDir, trainPIDFile)

	// Our own PID is always alive.
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	result, _ = doctor.RunCheck("background")
	if result.Status != CheckStatusPass || !strings.Contains(result.Message, "active") {
		t.Fatalf("live pid: got %q / %q", result.Status, result.Message)
	}

	if err := os.WriteFile(pidPath, []byte("99999999"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	result, _ = doctor.RunCheck("background")
	if result.Status != CheckStatusWarn || !strings.Contains(result.Message, "Stale") {
		t.Fatalf("stale pid: got %q / %q", result.Status, result.Message)
	}
}

func TestDoctorService_TrainingStackCheck(t *testing.T) {
	clearOverrides(t)
	doctor := newTestDoctor(t, "test")

	result, err := doctor.RunCheck("stack")
	if err != nil {
		t.Fatalf("RunCheck(stack) error = %v", err)
	}
	if result.Status != CheckStatusPass {
		t.Fatalf("Status = %q (%s), want pass", result.Status, result.Message)
	}
	if result.Duration <= 0 {
		t.Fatalf("Duration = %v, want positive", result.Duration)
	}
}

func TestDoctorService_UnknownCheck(t *testing.T) {
	doctor := newTestDoctor(t, "test")

	if _, err := doctor.RunCheck("nope"); err == nil {
		t.Fatal("RunCheck(nope) returned no error")
	}
	if got := len(doctor.GetAvailableChecks()); got != 8 {
		t.Fatalf("GetAvailableChecks() length = %d, want 8", got)
	}
}

func TestFormatReport(t *testing.T) {
	report := &DiagnosticReport{
		Version:   "9.9.9",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Platform:  "linux/amd64",
		Checks: []CheckResult{
			{Name: "Version", Status: CheckStatusPass, Message: "ctdr 9.9.9", Duration: time.Millisecond},
			{Name: "Configuration", Status: CheckStatusFail, Message: "Invalid config", Fix: "Fix the file", Duration: time.Millisecond},
		},
		Summary: Summary{Passed: 1, Failed: 1, Total: 2},
	}

	out := FormatReport(report, true)
	for _, want := range []string{
		"CTDR Diagnostics (v9.9.9)",
		"[OK] Version: ctdr 9.9.9",
		"[FAIL] Configuration: Invalid config",
		"Fix: Fix the file",
		"Summary: 1 passed, 0 warnings, 1 failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("formatted report missing %q:\n%s", want, out)
		}
	}

	// Fixes are suppressed when not requested.
	out = FormatReport(report, false)
	if strings.Contains(out, "Fix:") {
		t.Fatalf("fix shown without showFix:\n%s", out)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
	}
	for _, tc := range cases {
		if got := formatBytes(tc.bytes); got != tc.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tc.bytes, got, tc.want)
		}
	}
}
