package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/process"
	"github.com/core-tools/hsu-proxykeeper/pkg/processstate"
)

const (
	DefaultAppName          = "hsu-proxykeeper"
	DefaultTerminateTimeout = 10 * time.Second
	DefaultKillTimeout      = 5 * time.Second

	exitPollInterval = 50 * time.Millisecond
)

// ProcessFileConfig holds configuration for the managed binary's PID file
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, an OS-appropriate runtime directory is used
	BaseDirectory string

	// Application name, used as a subdirectory of the default runtime directory
	AppName string

	// How long an orphan gets to exit after SIGTERM before it is killed
	TerminateTimeout time.Duration

	// How long to wait for an orphan to disappear after it is killed
	KillTimeout time.Duration
}

// ProcessFileManager records the PID of the managed binary so that a keeper
// restarted after a crash can find and stop an orphaned instance.
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.TerminateTimeout <= 0 {
		config.TerminateTimeout = DefaultTerminateTimeout
	}
	if config.KillTimeout <= 0 {
		config.KillTimeout = DefaultKillTimeout
	}
	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath returns the PID file path for the named process
func (m *ProcessFileManager) GeneratePIDFilePath(name string) string {
	if m.config.BaseDirectory != "" {
		return filepath.Join(m.config.BaseDirectory, name+".pid")
	}
	return filepath.Join(runtimeDirectory(), m.config.AppName, name+".pid")
}

func (m *ProcessFileManager) WritePIDFile(name string, pid int) error {
	path := m.GeneratePIDFilePath(name)
	m.logger.Debugf("Writing PID file, name: %s, pid: %d, path: %s", name, pid, path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext("pid_file", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, name: %s, pid: %d, path: %s, error: %v", name, pid, path, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, name: %s, pid: %d, path: %s", name, pid, path)
	return nil
}

func (m *ProcessFileManager) ReadPIDFile(name string) (int, error) {
	path := m.GeneratePIDFilePath(name)

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file does not exist", err).WithContext("pid_file", path)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", path)
	}

	pid, err := process.ValidatePID(string(content))
	if err != nil {
		return 0, errors.NewValidationError("invalid PID file content", err).WithContext("pid_file", path)
	}
	return pid, nil
}

func (m *ProcessFileManager) RemovePIDFile(name string) error {
	path := m.GeneratePIDFilePath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", path)
	}
	return nil
}

// TerminateOrphan stops a process left behind by a previous keeper run, if
// its PID file still points at a live process. The orphan is sent a
// termination signal, then killed if it outlives TerminateTimeout. The PID
// file is removed only once the process is gone. It reports whether an
// orphan was stopped.
func (m *ProcessFileManager) TerminateOrphan(name string) (bool, error) {
	pid, err := m.ReadPIDFile(name)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return false, nil
		}
		m.logger.Warnf("Ignoring unreadable PID file, name: %s, error: %v", name, err)
		return false, m.RemovePIDFile(name)
	}

	if process.IsSelf(pid) {
		m.logger.Warnf("PID file points at this process, name: %s, pid: %d", name, pid)
		return false, m.RemovePIDFile(name)
	}

	running, err := processstate.IsProcessRunning(pid)
	if err != nil || !running {
		m.logger.Debugf("Stale PID file, name: %s, pid: %d", name, pid)
		return false, m.RemovePIDFile(name)
	}

	m.logger.Warnf("Terminating orphaned process, name: %s, pid: %d", name, pid)
	if err := process.SendTerminationSignal(pid); err != nil {
		m.logger.Warnf("Failed to send termination signal to orphan, pid: %d, error: %v", pid, err)
	} else if m.waitForExit(pid, m.config.TerminateTimeout) {
		return true, m.RemovePIDFile(name)
	}

	m.logger.Warnf("Orphan did not exit, killing, name: %s, pid: %d", name, pid)
	if err := process.SendKillSignal(pid); err != nil {
		return false, errors.NewProcessError("failed to kill orphaned process", err).WithContext("pid", pid)
	}
	if !m.waitForExit(pid, m.config.KillTimeout) {
		return false, errors.NewTimeoutError("orphaned process did not exit after kill", nil).WithContext("pid", pid)
	}
	return true, m.RemovePIDFile(name)
}

func (m *ProcessFileManager) waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		running, err := processstate.IsProcessRunning(pid)
		if err == nil && !running {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(exitPollInterval)
	}
}

func runtimeDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		return os.TempDir()
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}
