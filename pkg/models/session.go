package models

import "time"

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusIdle     SessionStatus = "idle"
	StatusReleased SessionStatus = "released"
)

// HoldsClaim reports whether a session in this status can hold a claim.
func (s SessionStatus) HoldsClaim() bool {
	return s == StatusActive || s == StatusIdle
}

// Release reasons recorded on a released session.
const (
	ReleaseReasonManual     = "manual"
	ReleaseReasonGhostHeal  = "ghost_auto_heal"
	ReleaseReasonSessionEnd = "session_end"
	// ReleaseReasonRegistrationFailed marks a row created by a registration
	// whose claim could not be taken.
	ReleaseReasonRegistrationFailed = "registration_failed"
)

// SessionRecord is one row of the shared session table.
// Empty WorkKey means no claim; zero PID means the pid column is NULL.
type SessionRecord struct {
	SessionID   string        `json:"session_id" db:"session_id"`
	WorkKey     string        `json:"sd_id,omitempty" db:"sd_id"`
	Status      SessionStatus `json:"status" db:"status"`
	HeartbeatAt time.Time     `json:"heartbeat_at" db:"heartbeat_at"`
	PID         int           `json:"pid,omitempty" db:"pid"`
	Hostname    string        `json:"hostname,omitempty" db:"hostname"`
	TerminalID  string        `json:"terminal_id,omitempty" db:"terminal_id"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`

	ReleasedAt    *time.Time `json:"released_at,omitempty" db:"released_at"`
	ReleaseReason string     `json:"release_reason,omitempty" db:"release_reason"`
}

// HasClaim reports whether the session holds a live claim.
func (r SessionRecord) HasClaim() bool {
	return r.WorkKey != "" && r.Status.HoldsClaim()
}

// HeartbeatAge is the time since the last heartbeat, measured at now.
func (r SessionRecord) HeartbeatAge(now time.Time) time.Duration {
	if r.HeartbeatAt.IsZero() {
		return 0
	}
	return now.Sub(r.HeartbeatAt)
}

// IsStale reports whether the heartbeat is strictly older than threshold.
// A session that never heartbeated is stale.
func (r SessionRecord) IsStale(now time.Time, threshold time.Duration) bool {
	if r.HeartbeatAt.IsZero() {
		return true
	}
	return now.Sub(r.HeartbeatAt) > threshold
}
