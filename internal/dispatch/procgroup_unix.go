//go:build unix

package dispatch

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the worker the leader of a new process group so
// termination also reaches anything it forked (a node runtime's helpers, a
// shell's children).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the worker's whole process group. It returns
// os.ErrProcessDone when no process of the group is left.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
