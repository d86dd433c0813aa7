//go:build !windows

package tmux

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// TerminateProcessGroup sends SIGTERM to the entire process group rooted
// at pid. The graceful signal lets the worker and its children flush and
// clean up; this is the operator escape hatch, deliberately not SIGKILL.
func TerminateProcessGroup(pid int) error {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return fmt.Errorf("resolving process group of %d: %w", pid, err)
	}
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signaling process group %d: %w", pgid, err)
	}
	return nil
}
