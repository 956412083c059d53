package process

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string
	Args             []string
	Environment      []string
	WorkingDirectory string
	WaitDelay        time.Duration

	// Stdin is copied to the process' standard input until EOF; nil means no input
	Stdin io.Reader
}

// Execute starts the executable in its own process group with standard output
// and standard error discarded. The caller owns the returned command and must Wait on it.
func Execute(execution ExecutionConfig, logger logging.Logger) (*exec.Cmd, error) {
	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, error: %v", err)
		return nil, errors.NewValidationError("invalid execution configuration", err)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		absPath, err := filepath.Abs(execution.ExecutablePath)
		if err != nil {
			return nil, errors.NewIOError("failed to get absolute path", err).WithContext("executable_path", execution.ExecutablePath)
		}
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Executing process, executable path: '%s', args: %v, working directory: '%s'",
		execution.ExecutablePath, execution.Args, workDir)

	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.Stdin = execution.Stdin
	// nil Stdout/Stderr are connected to the null device
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.WaitDelay = execution.WaitDelay

	setupProcessAttributes(cmd)

	if err := cmd.Start(); err != nil {
		return nil, errors.NewProcessError("failed to start the process", err).WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Started process, executable path: %s, PID: %d", execution.ExecutablePath, cmd.Process.Pid)
	return cmd, nil
}
