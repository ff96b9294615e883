//go:build !windows

package supervise

import (
	"os/exec"
	"syscall"
)

// spawnDetached starts the owner in its own session so it survives this
// process exiting and never receives its terminal signals.
func spawnDetached(binary string, env []string) error {
	cmd := exec.Command(binary)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	// Release the handle; the owner is not our child to wait on.
	return cmd.Process.Release()
}
