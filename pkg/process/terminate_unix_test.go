//go:build !windows

package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// exited treats zombies as gone; whether they get reaped depends on the host's init
func exited(pid int) bool {
	if err := unix.Kill(pid, 0); err == unix.ESRCH {
		return true
	}
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	fields := strings.Fields(string(stat[strings.LastIndex(string(stat), ")")+1:]))
	return len(fields) > 0 && fields[0] == "Z"
}

func TestIsSelf(t *testing.T) {
	assert.True(t, IsSelf(os.Getpid()))
	assert.True(t, IsSelf(unix.Getpgrp()))

	dir := t.TempDir()
	script := filepath.Join(dir, "server")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 0\n"), 0755))

	cmd, err := Execute(ExecutionConfig{ExecutablePath: script}, &nopLogger{})
	require.NoError(t, err)
	assert.False(t, IsSelf(cmd.Process.Pid))
	require.NoError(t, cmd.Wait())
}

func TestSendKillSignal_KillsWholeGroup(t *testing.T) {
	dir := t.TempDir()
	childFile := filepath.Join(dir, "child.pid")
	script := filepath.Join(dir, "server")
	body := fmt.Sprintf("#!/bin/sh\ntrap '' TERM\nsleep 30 &\necho $! > %q\nwait\n", childFile)
	require.NoError(t, os.WriteFile(script, []byte(body), 0755))

	cmd, err := Execute(ExecutionConfig{ExecutablePath: script}, &nopLogger{})
	require.NoError(t, err)

	var child int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(childFile)
		if err != nil {
			return false
		}
		child, err = strconv.Atoi(strings.TrimSpace(string(data)))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, SendTerminationSignal(cmd.Process.Pid))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, exited(child), "group ignores SIGTERM")

	require.NoError(t, SendKillSignal(cmd.Process.Pid))
	assert.Error(t, cmd.Wait())
	assert.Eventually(t, func() bool { return exited(child) }, 5*time.Second, 20*time.Millisecond)

	assert.NoError(t, SendKillSignal(cmd.Process.Pid), "group already gone")
}
