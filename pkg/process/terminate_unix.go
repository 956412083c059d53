//go:build !windows

package process

import (
	"os"

	"golang.org/x/sys/unix"
)

// SendTerminationSignal sends SIGTERM to the process group led by pid
func SendTerminationSignal(pid int) error {
	return unix.Kill(-pid, unix.SIGTERM)
}

// SendKillSignal sends SIGKILL to the process group led by pid. A group that
// is already gone is not an error.
func SendKillSignal(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

// IsSelf reports whether pid is this process or the process group it belongs to
func IsSelf(pid int) bool {
	return pid == os.Getpid() || pid == unix.Getpgrp()
}
