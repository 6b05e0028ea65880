// Package process answers whether a local process id is still running.
package process

import (
	"regexp"
	"strconv"
)

// Probe checks process liveness on the local host.
type Probe interface {
	IsAlive(pid int) bool
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(pid int) bool

// IsAlive calls f(pid).
func (f ProbeFunc) IsAlive(pid int) bool { return f(pid) }

// Local probes processes with the operating system's null check.
var Local Probe = ProbeFunc(IsProcessAlive)

var sessionPIDSuffix = regexp.MustCompile(`_(\d+)$`)

// PIDFromSessionID extracts a trailing "_<digits>" process id from a session id.
func PIDFromSessionID(sessionID string) (int, bool) {
	m := sessionPIDSuffix.FindStringSubmatch(sessionID)
	if m == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// ResolvePID prefers an explicit positive pid and falls back to the
// session id suffix.
func ResolvePID(pid int, sessionID string) (int, bool) {
	if pid > 0 {
		return pid, true
	}
	return PIDFromSessionID(sessionID)
}
