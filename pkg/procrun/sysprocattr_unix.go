//go:build unix

package procrun

import (
	"os/exec"
	"syscall"
)

// platformSetup is a hook for one-time platform initialisation.
func platformSetup() {}

// setProcAttr places the child in its own process group so termination
// signals reach grandchildren too.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the child's process group.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	if err == syscall.ESRCH {
		return nil
	}

	return err
}
