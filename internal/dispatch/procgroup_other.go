//go:build !unix

package dispatch

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup is a no-op; only the direct child is signalled here.
func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}
