package utility

import (
	"bytes"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func newTestLauncher(t *testing.T) *LaunchService {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	service, err := NewLaunchService()
	if err != nil {
		t.Fatalf("NewLaunchService() error = %v", err)
	}
	return service
}

func TestLaunchService_StatusWithoutRun(t *testing.T) {
	service := newTestLauncher(t)

	state, err := service.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != LaunchStatusStopped {
		t.Fatalf("Status = %q, want stopped", state.Status)
	}
	if state.PID != 0 {
		t.Fatalf("PID = %d, want 0", state.PID)
	}
	if service.IsRunning() {
		t.Fatal("IsRunning() = true with no run")
	}
}

func TestLaunchService_StatusTracksLivePID(t *testing.T) {
	service := newTestLauncher(t)

	if err := service.writePID(os.Getpid()); err != nil {
		t.Fatalf("writePID() error = %v", err)
	}

	state, err := service.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != LaunchStatusRunning {
		t.Fatalf("Status = %q, want running", state.Status)
	}
	if state.PID != os.Getpid() {
		t.Fatalf("PID = %d, want %d", state.PID, os.Getpid())
	}
	if state.Uptime == "" {
		t.Fatal("Uptime not set for a running process")
	}
	if !service.IsRunning() {
		t.Fatal("IsRunning() = false for a live PID")
	}
}

func TestLaunchService_StatusStalePID(t *testing.T) {
	service := newTestLauncher(t)

	if err := service.writePID(99999999); err != nil {
		t.Fatalf("writePID() error = %v", err)
	}

	state, err := service.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if state.Status != LaunchStatusUnknown {
		t.Fatalf("Status = %q, want unknown for a dead PID", state.Status)
	}
}

func TestLaunchService_LaunchRefusesSecondRun(t *testing.T) {
	service := newTestLauncher(t)

	if err := service.writePID(os.Getpid()); err != nil {
		t.Fatalf("writePID() error = %v", err)
	}

	if _, err := service.Launch("train"); err == nil {
		t.Fatal("Launch() accepted a second run")
	} else if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("Launch() error = %v, want already-running", err)
	}
}

func TestLaunchService_StopTerminatesDetachedRun(t *testing.T) {
	service := newTestLauncher(t)

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting helper process: %v", err)
	}
	// Reap the child when it dies so the exit is visible to Stop's poll.
	go cmd.Wait()
	t.Cleanup(func() { cmd.Process.Kill() })

	if err := service.writePID(cmd.Process.Pid); err != nil {
		t.Fatalf("writePID() error = %v", err)
	}
	if !service.IsRunning() {
		t.Fatal("IsRunning() = false for the helper process")
	}

	if err := service.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if service.IsRunning() {
		t.Fatal("IsRunning() = true after Stop")
	}
	if _, err := os.Stat(service.pidFile); !os.IsNotExist(err) {
		t.Fatalf("pid file still present after Stop: %v", err)
	}
}

func TestLaunchService_StopWithoutRun(t *testing.T) {
	service := newTestLauncher(t)

	if err := service.Stop(); err == nil {
		t.Fatal("Stop() with no run returned no error")
	}
}

func TestLaunchService_GetLogs(t *testing.T) {
	service := newTestLauncher(t)

	lines, err := service.GetLogs(10)
	if err != nil {
		t.Fatalf("GetLogs() with no file error = %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("GetLogs() with no file = %v, want empty", lines)
	}

	content := "one\ntwo\nthree\nfour\nfive\n"
	if err := os.WriteFile(service.logFile, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	lines, err = service.GetLogs(3)
	if err != nil {
		t.Fatalf("GetLogs(3) error = %v", err)
	}
	if len(lines) != 3 || lines[0] != "three" || lines[2] != "five" {
		t.Fatalf("GetLogs(3) = %v, want last three lines", lines)
	}

	lines, err = service.GetLogs(10)
	if err != nil {
		t.Fatalf("GetLogs(10) error = %v", err)
	}
	if len(lines) != 5 {
		t.Fatalf("GetLogs(10) returned %d lines, want 5", len(lines))
	}
}

func TestLaunchService_TailLogsWritesTail(t *testing.T) {
	service := newTestLauncher(t)

	if err := os.WriteFile(service.logFile, []byte("first\nlast\n"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var buf bytes.Buffer
	if err := service.TailLogs(&buf, false); err != nil {
		t.Fatalf("TailLogs() error = %v", err)
	}
	if !strings.Contains(buf.String(), "last") {
		t.Fatalf("tail output %q missing last line", buf.String())
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		dur  time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{3*time.Hour + 5*time.Minute, "3h 5m"},
		{49 * time.Hour, "2d 1h"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.dur); got != tc.want {
			t.Fatalf("formatDuration(%v) = %q, want %q", tc.dur, got, tc.want)
		}
	}
}

func TestFormatLaunchState(t *testing.T) {
	state := &LaunchState{
		PID:       1234,
		Status:    LaunchStatusRunning,
		StartTime: time.Now().Add(-90 * time.Second),
		Uptime:    "1m 30s",
		LogFile:   "/tmp/train.log",
		PIDFile:   "/tmp/train.pid",
	}

	out := FormatLaunchState(state, true)
	for _, want := range []string{"[RUNNING]", "1234", "1m 30s", "/tmp/train.pid", "/tmp/train.log"} {
		if !strings.Contains(out, want) {
			t.Fatalf("formatted state missing %q:\n%s", want, out)
		}
	}

	out = FormatLaunchState(&LaunchState{Status: LaunchStatusStopped}, false)
	if !strings.Contains(out, "[STOPPED]") {
		t.Fatalf("formatted stopped state missing [STOPPED]:\n%s", out)
	}
	if strings.Contains(out, "PID File") {
		t.Fatalf("non-verbose output shows file paths:\n%s", out)
	}
}
