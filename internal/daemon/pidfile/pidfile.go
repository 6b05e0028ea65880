// Package pidfile keeps one heartbeat watcher per session on a host.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/pkg/process"
)

// Lock is a PID file owned by the current process once acquired.
type Lock struct {
	path  string
	pid   int
	probe process.Probe
}

// New returns a lock at path for the current process.
func New(path string, probe process.Probe) *Lock {
	if probe == nil {
		probe = process.Local
	}
	return &Lock{path: path, pid: os.Getpid(), probe: probe}
}

// Path returns the PID file location.
func (l *Lock) Path() string { return l.path }

// Acquire writes our PID to the file. A file left by a dead process is
// replaced; one held by a live process other than us is a LOCK_HELD error.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(l.pid))
			cerr := f.Close()
			if werr != nil {
				return fmt.Errorf("failed to write pid file: %w", werr)
			}
			return cerr
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create pid file: %w", err)
		}

		holder, rerr := Read(l.path)
		if rerr == nil && holder == l.pid {
			return nil
		}
		if rerr == nil && l.probe.IsAlive(holder) {
			return errors.LockHeld(l.path, holder)
		}
		// Stale or unreadable; clear it and retry once.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}
	return errors.LockHeld(l.path, 0)
}

// Release removes the PID file if we still own it.
func (l *Lock) Release() error {
	holder, err := Read(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if holder != l.pid {
		return nil
	}
	return os.Remove(l.path)
}

// Read returns the PID recorded in the file.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// IsRunning reports whether the process recorded at path is alive.
func IsRunning(path string, probe process.Probe) (bool, int, error) {
	if probe == nil {
		probe = process.Local
	}
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return probe.IsAlive(pid), pid, nil
}
