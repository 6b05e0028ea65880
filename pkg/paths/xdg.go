// Package paths provides XDG-compliant path resolution for the claims tool.
//
// Resolution order:
// 1. GROVE_HOME (portable root) → $GROVE_HOME/{config,state}
// 2. XDG env vars → $XDG_*_HOME/grove
// 3. Platform defaults → ~/.config/grove, ~/.local/state/grove
package paths

import (
	"os"
	"path/filepath"
	"regexp"
)

// baseHome resolves one XDG base directory. groveSub is the child of
// GROVE_HOME, xdgEnv the XDG variable, and fallback the path under $HOME.
func baseHome(groveSub, xdgEnv string, fallback ...string) string {
	if groveHome := os.Getenv("GROVE_HOME"); groveHome != "" {
		return filepath.Join(groveHome, groveSub)
	}
	if dir := os.Getenv(xdgEnv); dir != "" {
		return dir
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(append([]string{homeDir}, fallback...)...)
	}
	return ""
}

func join(base string, elem ...string) string {
	if base == "" {
		return ""
	}
	return filepath.Join(append([]string{base, "grove"}, elem...)...)
}

// ConfigDir returns the Grove configuration directory.
// The global claims.yml lives here.
func ConfigDir() string {
	return join(baseHome("config", "XDG_CONFIG_HOME", ".config"))
}

// StateDir returns the Grove state directory.
// Used for runtime state, DBs, logs.
func StateDir() string {
	return join(baseHome("state", "XDG_STATE_HOME", ".local", "state"))
}

// ClaimsStateDir returns the directory holding claims-specific state.
func ClaimsStateDir() string {
	return join(baseHome("state", "XDG_STATE_HOME", ".local", "state"), "claims")
}

// DefaultDatabasePath is the sqlite file used when no DSN is configured.
func DefaultDatabasePath() string {
	dir := ClaimsStateDir()
	if dir == "" {
		return "claims.db"
	}
	return filepath.Join(dir, "claims.db")
}

// LogDir returns the directory for file log sinks.
func LogDir() string {
	dir := ClaimsStateDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "logs")
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// WatcherPidPath returns the PID file guarding the heartbeat watcher of a session.
func WatcherPidPath(sessionID string) string {
	name := unsafeFileChars.ReplaceAllString(sessionID, "_")
	return filepath.Join(ClaimsStateDir(), "watch", name+".pid")
}

// EnsureDirs creates the claims state directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ClaimsStateDir(), LogDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
