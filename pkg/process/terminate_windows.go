//go:build windows

package process

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// SendTerminationSignal sends Ctrl+Break to the process group led by pid
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(pid))
}

// SendKillSignal terminates pid. A process that is already gone is not an error.
func SendKillSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	handle, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return nil
		}
		return err
	}
	defer windows.CloseHandle(handle)
	return windows.TerminateProcess(handle, 1)
}

func IsSelf(pid int) bool {
	return pid == os.Getpid()
}
