//go:build !windows

package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsProcessAlive checks if a process with the given PID is still running.
//
// Signal 0 performs the existence and permission checks without delivering
// a signal. EPERM means the process exists but belongs to another user, so it
// counts as alive. ESRCH and any other error count as dead.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
