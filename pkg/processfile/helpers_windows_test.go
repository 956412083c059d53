//go:build windows

package processfile

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
