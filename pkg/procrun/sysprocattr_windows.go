//go:build windows

package procrun

import "os/exec"

// platformSetup is a hook for one-time platform initialisation.
func platformSetup() {}

func setProcAttr(cmd *exec.Cmd) {}

// terminate kills the child directly; Windows has no process groups to
// signal.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	return cmd.Process.Kill()
}
