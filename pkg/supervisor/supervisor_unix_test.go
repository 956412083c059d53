//go:build !windows

package supervisor

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

// gone treats zombies as exited; reaping orphans is up to the host's init
func gone(pid int) bool {
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

func TestSupervisor_KillReachesWholeGroup(t *testing.T) {
	childFile := filepath.Join(t.TempDir(), "child.pid")
	script := writeScript(t, fmt.Sprintf("trap '' TERM\nsleep 30 &\necho $! > %q\nwait", childFile))
	s := New(Options{GracefulTimeout: 300 * time.Millisecond, KillTimeout: 5 * time.Second}, &SupervisorMockLogger{})

	p, err := s.Start(StartSpec{Path: script, Config: []byte("{}"), Transport: TransportStdin})
	require.NoError(t, err)

	child, err := strconv.Atoi(strings.TrimSpace(readEventually(t, childFile)))
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.Error(t, p.ExitErr())
	assert.Eventually(t, func() bool { return gone(child) }, 5*time.Second, 20*time.Millisecond,
		"background child of the managed process survived")
}
