package utility

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Files under ~/.ctdr tracking the detached run.
const (
	trainPIDFile = "train.pid"
	trainLogFile = "train.log"
)

// LaunchStatus represents the state of a detached training run.
type LaunchStatus string

const (
	LaunchStatusRunning LaunchStatus = "running"
	LaunchStatusStopped LaunchStatus = "stopped"
	LaunchStatusUnknown LaunchStatus = "unknown"
)

// LaunchState describes the detached run, if any.
type LaunchState struct {
	PID       int          `json:"pid"`
	Status    LaunchStatus `json:"status"`
	StartTime time.Time    `json:"startTime,omitempty"`
	Uptime    string       `json:"uptime,omitempty"`
	LogFile   string       `json:"logFile"`
	PIDFile   string       `json:"pidFile"`
}

// LaunchService starts a training run as a detached process and
// supervises it: status, stop, and log access. At most one detached
// run is tracked at a time.
type LaunchService struct {
	basePath string
	pidFile  string
	logFile  string
}

// NewLaunchService creates a new launch service.
func NewLaunchService() (*LaunchService, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	basePath := filepath.Join(home, ".ctdr")
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return &LaunchService{
		basePath: basePath,
		pidFile:  filepath.Join(basePath, trainPIDFile),
		logFile:  filepath.Join(basePath, trainLogFile),
	}, nil
}

// Launch re-executes the current binary with the given arguments as a
// detached process whose output goes to the launch log. It returns the
// child PID.
func (s *LaunchService) Launch(args ...string) (int, error) {
	if s.IsRunning() {
		state, _ := s.Status()
		return 0, fmt.Errorf("training already running (PID %d)", state.PID)
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile, err := os.OpenFile(s.logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start detached run: %w", err)
	}

	if err := s.writePID(cmd.Process.Pid); err != nil {
		return 0, err
	}

	s.log(logFile, "Launched: %s %s (PID %d)",
		filepath.Base(executable), strings.Join(args, " "), cmd.Process.Pid)

	// The child is not reaped here; it outlives this process.
	_ = cmd.Process.Release()

	return cmd.Process.Pid, nil
}

// Stop terminates the detached run.
func (s *LaunchService) Stop() error {
	pid, err := s.readPID()
	if err != nil {
		return fmt.Errorf("no detached run: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		s.removePID()
		return fmt.Errorf("detached process not found")
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if err := process.Signal(syscall.SIGKILL); err != nil {
			s.removePID()
			return fmt.Errorf("failed to stop detached run: %w", err)
		}
	}

	// The child may not be ours to Wait on, so poll for exit instead.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if process.Signal(syscall.Signal(0)) != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if process.Signal(syscall.Signal(0)) == nil {
		process.Signal(syscall.SIGKILL)
	}

	s.removePID()

	if logFile, err := os.OpenFile(s.logFile, os.O_APPEND|os.O_WRONLY, 0644); err == nil {
		s.log(logFile, "Detached run stopped")
		logFile.Close()
	}

	return nil
}

// Status returns the current detached-run status.
func (s *LaunchService) Status() (*LaunchState, error) {
	state := &LaunchState{
		Status:  LaunchStatusStopped,
		LogFile: s.logFile,
		PIDFile: s.pidFile,
	}

	pid, err := s.readPID()
	if err != nil {
		return state, nil
	}

	state.PID = pid

	process, err := os.FindProcess(pid)
	if err != nil {
		return state, nil
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		state.Status = LaunchStatusUnknown
		return state, nil
	}

	state.Status = LaunchStatusRunning

	// PID file modification time stands in for the start time.
	if info, err := os.Stat(s.pidFile); err == nil {
		state.StartTime = info.ModTime()
		state.Uptime = formatDuration(time.Since(state.StartTime))
	}

	return state, nil
}

// IsRunning returns true if a detached run is active.
func (s *LaunchService) IsRunning() bool {
	state, _ := s.Status()
	return state.Status == LaunchStatusRunning
}

// LogPath returns the detached run's log file location.
func (s *LaunchService) LogPath() string {
	return s.logFile
}

// GetLogs returns the last lines of the launch log.
func (s *LaunchService) GetLogs(lines int) ([]string, error) {
	file, err := os.Open(s.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(allLines) <= lines {
		return allLines, nil
	}
	return allLines[len(allLines)-lines:], nil
}

// TailLogs writes the tail of the launch log to w, then keeps
// streaming new content when follow is set.
func (s *LaunchService) TailLogs(w io.Writer, follow bool) error {
	file, err := os.Open(s.logFile)
	if err != nil {
		return err
	}
	defer file.Close()

	info, _ := file.Stat()
	offset := info.Size() - 4096
	if offset < 0 {
		offset = 0
	}
	file.Seek(offset, 0)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}

	if !follow {
		return nil
	}

	for {
		line := make([]byte, 4096)
		n, err := file.Read(line)
		if n > 0 {
			w.Write(line[:n])
		}
		if err == io.EOF {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if err != nil {
			return err
		}
	}
}

// Private methods

func (s *LaunchService) writePID(pid int) error {
	return os.WriteFile(s.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (s *LaunchService) readPID() (int, error) {
	data, err := os.ReadFile(s.pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

func (s *LaunchService) removePID() error {
	return os.Remove(s.pidFile)
}

func (s *LaunchService) log(w io.Writer, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(w, "[%s] %s\n", timestamp, msg)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(dur time.Duration) string {
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	if dur < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(dur.Hours()), int(dur.Minutes())%60)
	}
	days := int(dur.Hours() / 24)
	hours := int(dur.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// FormatLaunchState formats the detached-run status for display.
func FormatLaunchState(state *LaunchState, verbose bool) string {
	var sb strings.Builder

	sb.WriteString("Background Training\n")
	sb.WriteString(strings.Repeat("=", 40) + "\n\n")

	statusIcon := "[STOPPED]"
	if state.Status == LaunchStatusRunning {
		statusIcon = "[RUNNING]"
	} else if state.Status == LaunchStatusUnknown {
		statusIcon = "[UNKNOWN]"
	}

	sb.WriteString(fmt.Sprintf("Status:    %s\n", statusIcon))

	if state.PID > 0 {
		sb.WriteString(fmt.Sprintf("PID:       %d\n", state.PID))
	}

	if !state.StartTime.IsZero() {
		sb.WriteString(fmt.Sprintf("Started:   %s\n", state.StartTime.Format("2006-01-02 15:04:05")))
		sb.WriteString(fmt.Sprintf("Uptime:    %s\n", state.Uptime))
	}

	if verbose {
		sb.WriteString(fmt.Sprintf("\nPID File:  %s\n", state.PIDFile))
		sb.WriteString(fmt.Sprintf("Log File:  %s\n", state.LogFile))
	}

	return sb.String()
}
