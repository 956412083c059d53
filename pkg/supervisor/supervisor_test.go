package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
)

type SupervisorMockLogger struct{}

func (m *SupervisorMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *SupervisorMockLogger) Debugf(format string, args ...interface{})               {}
func (m *SupervisorMockLogger) Infof(format string, args ...interface{})                {}
func (m *SupervisorMockLogger) Warnf(format string, args ...interface{})                {}
func (m *SupervisorMockLogger) Errorf(format string, args ...interface{})               {}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "proxy.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func readEventually(t *testing.T, path string) string {
	t.Helper()
	var content []byte
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			return false
		}
		content = data
		return true
	}, 5*time.Second, 20*time.Millisecond)
	return string(content)
}

func TestSupervisor_InitialState(t *testing.T) {
	s := New(Options{}, &SupervisorMockLogger{})
	assert.Equal(t, StateNotStarted, s.State())
}

func TestSupervisor_StartFileTransport(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "seen.yml")
	script := writeScript(t, fmt.Sprintf("cp \"$2\" %q\nexec sleep 30", out))

	s := New(Options{GracefulTimeout: 2 * time.Second}, &SupervisorMockLogger{})
	configPath := filepath.Join(dir, "conf", "config.yml")
	config := []byte("log:\n  loglevel: info\n")

	p, err := s.Start(StartSpec{
		Path:       script,
		Config:     config,
		Transport:  TransportFile,
		ConfigPath: configPath,
	})
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s.State())
	assert.Greater(t, p.PID(), 0)

	written, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, config, written)

	assert.Equal(t, string(config), readEventually(t, out))

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, StateStopped, p.State())

	select {
	case <-p.Done():
	default:
		t.Fatal("process should have exited after stop")
	}
}

func TestSupervisor_StartStdinTransport(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "stdin.json")
	argsOut := filepath.Join(dir, "args")
	script := writeScript(t, fmt.Sprintf("echo \"$@\" > %q\ncat > %q\nexec sleep 30", argsOut, out))

	s := New(Options{GracefulTimeout: 2 * time.Second}, &SupervisorMockLogger{})
	config := []byte(`{"log":{"loglevel":"info"}}`)

	_, err := s.Start(StartSpec{
		Path:      script,
		Config:    config,
		Transport: TransportStdin,
	})
	require.NoError(t, err)

	assert.Equal(t, "-c stdin:\n", readEventually(t, argsOut))
	assert.Equal(t, string(config), readEventually(t, out))

	require.NoError(t, s.Stop())
}

func TestSupervisor_StartTwiceIsConflict(t *testing.T) {
	script := writeScript(t, "exec sleep 30")
	s := New(Options{GracefulTimeout: 2 * time.Second}, &SupervisorMockLogger{})

	spec := StartSpec{Path: script, Config: []byte("{}"), Transport: TransportStdin}
	first, err := s.Start(spec)
	require.NoError(t, err)
	defer func() { _ = s.Stop() }()

	_, err = s.Start(spec)
	assert.True(t, errors.IsConflictError(err))
	assert.Equal(t, StateRunning, first.State())
	assert.Equal(t, StateRunning, s.State())
}

func TestSupervisor_StopWithoutRunningIsConflict(t *testing.T) {
	s := New(Options{}, &SupervisorMockLogger{})
	assert.True(t, errors.IsConflictError(s.Stop()))
	assert.Equal(t, StateNotStarted, s.State())
}

func TestSupervisor_StopTwiceIsConflict(t *testing.T) {
	script := writeScript(t, "exec sleep 30")
	s := New(Options{GracefulTimeout: 2 * time.Second}, &SupervisorMockLogger{})

	_, err := s.Start(StartSpec{Path: script, Config: []byte("{}"), Transport: TransportStdin})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.True(t, errors.IsConflictError(s.Stop()))
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_KillsAfterGracefulTimeout(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nwhile true; do sleep 0.1; done")
	s := New(Options{GracefulTimeout: 300 * time.Millisecond, KillTimeout: 5 * time.Second}, &SupervisorMockLogger{})

	p, err := s.Start(StartSpec{Path: script, Config: []byte("{}"), Transport: TransportStdin})
	require.NoError(t, err)

	// let the shell install its trap
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	assert.Error(t, p.ExitErr())
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_PassesEnvironment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env")
	script := writeScript(t, fmt.Sprintf("echo \"$PROXY_ASSET_DIR\" > %q\nexec sleep 30", out))
	s := New(Options{GracefulTimeout: 2 * time.Second}, &SupervisorMockLogger{})

	_, err := s.Start(StartSpec{
		Path:      script,
		Config:    []byte("{}"),
		Transport: TransportStdin,
		Env:       []string{"PROXY_ASSET_DIR=/usr/share/proxy"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/usr/share/proxy\n", readEventually(t, out))
	require.NoError(t, s.Stop())
}

func TestSupervisor_RejectsMalformedEnvironment(t *testing.T) {
	s := New(Options{}, &SupervisorMockLogger{})

	_, err := s.Start(StartSpec{
		Path:      "/bin/true",
		Config:    []byte("{}"),
		Transport: TransportStdin,
		Env:       []string{"NOEQUALS"},
	})
	assert.True(t, errors.IsProcessError(err))
	assert.Equal(t, StateNotStarted, s.State())
}

func TestSupervisor_StopAfterExit(t *testing.T) {
	script := writeScript(t, "exit 3")
	s := New(Options{}, &SupervisorMockLogger{})

	p, err := s.Start(StartSpec{Path: script, Config: []byte("{}"), Transport: TransportStdin})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Error(t, p.ExitErr())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateStopped, s.State())
}

func TestSupervisor_StartValidation(t *testing.T) {
	s := New(Options{}, &SupervisorMockLogger{})

	_, err := s.Start(StartSpec{Path: "/bin/true", Transport: TransportStdin})
	assert.True(t, errors.IsValidationError(err))

	_, err = s.Start(StartSpec{Path: "/bin/true", Config: []byte("{}"), Transport: TransportFile})
	assert.True(t, errors.IsValidationError(err))

	_, err = s.Start(StartSpec{Path: "/bin/true", Config: []byte("{}"), Transport: "socket"})
	assert.True(t, errors.IsValidationError(err))

	assert.Equal(t, StateNotStarted, s.State())
}

func TestSupervisor_StartMissingBinary(t *testing.T) {
	s := New(Options{}, &SupervisorMockLogger{})

	_, err := s.Start(StartSpec{
		Path:      filepath.Join(t.TempDir(), "missing"),
		Config:    []byte("{}"),
		Transport: TransportStdin,
	})
	assert.True(t, errors.IsProcessError(err))
	assert.Equal(t, StateNotStarted, s.State())
}
