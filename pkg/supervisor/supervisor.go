package supervisor

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/process"
)

// State is the lifecycle state of the managed process
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
)

// Transport selects how the config document reaches the managed binary
type Transport string

const (
	TransportFile  Transport = "file"  // written to ConfigPath, passed as "-c <ConfigPath>"
	TransportStdin Transport = "stdin" // piped to standard input
)

var DefaultStdinArgs = []string{"-c", "stdin:"}

const (
	defaultGracefulTimeout = 10 * time.Second
	defaultKillTimeout     = 5 * time.Second
)

type StartSpec struct {
	Path      string
	Config    []byte
	Transport Transport

	// ConfigPath is required for TransportFile
	ConfigPath string

	// Args precede the config arguments
	Args []string

	// StdinArgs tell the binary to read its config from standard input; DefaultStdinArgs when nil
	StdinArgs []string

	WorkDir string

	// Env is appended to the keeper's own environment, NAME=value each
	Env []string
}

type Options struct {
	GracefulTimeout time.Duration
	KillTimeout     time.Duration
}

// ManagedProcess is a handle to one spawned instance of the managed binary
type ManagedProcess struct {
	state   State
	cmd     *exec.Cmd
	pid     int
	started time.Time
	done    chan struct{}
	exitErr error
}

func (p *ManagedProcess) State() State {
	return p.state
}

func (p *ManagedProcess) PID() int {
	return p.pid
}

// Done is closed once the process has exited, for whatever reason
func (p *ManagedProcess) Done() <-chan struct{} {
	return p.done
}

// ExitErr is the result of waiting on the process; valid after Done is closed
func (p *ManagedProcess) ExitErr() error {
	return p.exitErr
}

func (p *ManagedProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor spawns and stops the managed binary. At most one instance is
// Running at a time. It has a single owner, the keeper control loop, and is
// therefore not synchronized. It never restarts a process on its own.
type Supervisor struct {
	options Options
	logger  logging.Logger
	current *ManagedProcess
}

func New(options Options, logger logging.Logger) *Supervisor {
	if options.GracefulTimeout <= 0 {
		options.GracefulTimeout = defaultGracefulTimeout
	}
	if options.KillTimeout <= 0 {
		options.KillTimeout = defaultKillTimeout
	}
	return &Supervisor{
		options: options,
		logger:  logger,
	}
}

// State reports the state of the current instance, NotStarted before the first Start
func (s *Supervisor) State() State {
	if s.current == nil {
		return StateNotStarted
	}
	return s.current.state
}

// Start spawns the binary with the complete config document already in place:
// written to disk before launch for the file transport, or buffered as the
// process' standard input for the stdin transport.
func (s *Supervisor) Start(spec StartSpec) (*ManagedProcess, error) {
	if s.current != nil && s.current.state == StateRunning {
		return nil, errors.NewConflictError("managed process already running", nil).WithContext("pid", s.current.pid)
	}
	if len(spec.Config) == 0 {
		return nil, errors.NewValidationError("config document is empty", nil)
	}

	execution := process.ExecutionConfig{
		ExecutablePath:   spec.Path,
		WorkingDirectory: spec.WorkDir,
		Args:             append([]string{}, spec.Args...),
		Environment:      spec.Env,
		WaitDelay:        s.options.KillTimeout,
	}

	switch spec.Transport {
	case TransportFile:
		if spec.ConfigPath == "" {
			return nil, errors.NewValidationError("config path is required for file transport", nil)
		}
		if err := writeConfigFile(spec.ConfigPath, spec.Config); err != nil {
			return nil, err
		}
		execution.Args = append(execution.Args, "-c", spec.ConfigPath)
	case TransportStdin:
		stdinArgs := spec.StdinArgs
		if stdinArgs == nil {
			stdinArgs = DefaultStdinArgs
		}
		execution.Args = append(execution.Args, stdinArgs...)
		execution.Stdin = bytes.NewReader(spec.Config)
	default:
		return nil, errors.NewValidationError("unsupported config transport: "+string(spec.Transport), nil)
	}

	s.logger.Infof("Starting managed process, path: %s, transport: %s, args: %v", spec.Path, spec.Transport, execution.Args)

	cmd, err := process.Execute(execution, s.logger)
	if err != nil {
		return nil, errors.NewProcessError("failed to spawn managed process", err).WithContext("path", spec.Path)
	}

	p := &ManagedProcess{
		state:   StateRunning,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	s.current = p
	s.logger.Infof("Managed process running, PID: %d", p.pid)
	return p, nil
}

// Stop terminates the current instance: a termination signal to its process
// group, then a kill of the whole group once GracefulTimeout passes. Calling Stop when no instance
// is Running is a caller bug and is reported as a conflict error.
func (s *Supervisor) Stop() error {
	p := s.current
	if p == nil || p.state != StateRunning {
		err := errors.NewConflictError("stop requested but no managed process is running", nil).WithContext("state", s.State())
		s.logger.Errorf("Invalid stop: %v", err)
		return err
	}
	defer func() { p.state = StateStopped }()

	if p.exited() {
		s.logger.Infof("Managed process PID %d had already exited: %v", p.pid, p.exitErr)
		return nil
	}

	s.logger.Infof("Sending termination signal to PID %d, timeout: %v", p.pid, s.options.GracefulTimeout)
	if err := process.SendTerminationSignal(p.pid); err != nil {
		s.logger.Warnf("Failed to send termination signal to PID %d: %v", p.pid, err)
	}

	select {
	case <-p.done:
		s.logger.Infof("Managed process PID %d terminated gracefully, uptime: %v", p.pid, time.Since(p.started))
		return nil
	case <-time.After(s.options.GracefulTimeout):
		s.logger.Warnf("Managed process PID %d did not terminate within %v, killing", p.pid, s.options.GracefulTimeout)
	}

	if err := process.SendKillSignal(p.pid); err != nil {
		return errors.NewProcessError("failed to kill managed process", err).WithContext("pid", p.pid)
	}

	select {
	case <-p.done:
		s.logger.Infof("Managed process PID %d killed", p.pid)
		return nil
	case <-time.After(s.options.KillTimeout):
		return errors.NewTimeoutError("managed process did not exit after kill", nil).WithContext("pid", p.pid)
	}
}

// writeConfigFile replaces path with data so the binary never reads a partial document
func writeConfigFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create config directory", err).WithContext("dir", dir)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return errors.NewIOError("failed to write config document", err).WithContext("path", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewIOError("failed to install config document", err).WithContext("path", path)
	}
	return nil
}
