// Package signals collects the independent observations that claim health
// is judged from: session rows, work item flags and on-disk worktrees.
package signals

import (
	"context"
	"time"

	"github.com/grovetools/claims/pkg/models"
)

// Kind identifies which signal an update carries.
type Kind string

const (
	KindSessions  Kind = "sessions"
	KindWorkFlags Kind = "work_flags"
	KindWorktrees Kind = "worktrees"
)

// Scope narrows a collection pass. An empty WorkKey means every key.
type Scope struct {
	WorkKey string
}

// Matches reports whether key is inside the scope.
func (s Scope) Matches(key string) bool {
	return s.WorkKey == "" || s.WorkKey == key
}

// Update is the result of one collector run.
type Update struct {
	Kind    Kind
	Source  string // collector name
	Scanned int    // rows or directories examined
	// Truncated is set when the source hit its row or entry cap, so keys
	// beyond the cap are missing.
	Truncated bool
	Payload   interface{}
}

// Collector gathers one signal for a scope.
type Collector interface {
	// Name returns the collector's name for logging.
	Name() string

	// Collect reads the signal once. Collectors must not mutate shared state.
	Collect(ctx context.Context, scope Scope) (Update, error)
}

// Snapshot is the merged view of one collection pass, keyed by work key.
type Snapshot struct {
	Sessions  map[string]models.SessionRecord
	WorkFlags map[string]models.WorkItemFlag
	Worktrees map[string]models.WorktreeEvidence

	// Failed lists collectors that errored or panicked; their signal is
	// absent from the snapshot.
	Failed []string
	// Truncated lists collectors that hit their cap.
	Truncated   []string
	CollectedAt time.Time
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot(at time.Time) *Snapshot {
	return &Snapshot{
		Sessions:    make(map[string]models.SessionRecord),
		WorkFlags:   make(map[string]models.WorkItemFlag),
		Worktrees:   make(map[string]models.WorktreeEvidence),
		CollectedAt: at,
	}
}

// ApplyUpdate folds an update into the snapshot.
func (s *Snapshot) ApplyUpdate(u Update) {
	switch u.Kind {
	case KindSessions:
		if sessions, ok := u.Payload.(map[string]models.SessionRecord); ok {
			for k, v := range sessions {
				s.Sessions[k] = v
			}
		}
	case KindWorkFlags:
		if flags, ok := u.Payload.(map[string]models.WorkItemFlag); ok {
			for k, v := range flags {
				s.WorkFlags[k] = v
			}
		}
	case KindWorktrees:
		if trees, ok := u.Payload.(map[string]models.WorktreeEvidence); ok {
			for k, v := range trees {
				s.Worktrees[k] = v
			}
		}
	}
}

// Keys returns the union of work keys seen by any signal.
func (s *Snapshot) Keys() []string {
	seen := make(map[string]struct{}, len(s.Sessions)+len(s.WorkFlags)+len(s.Worktrees))
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for k := range s.Sessions {
		add(k)
	}
	for k := range s.WorkFlags {
		add(k)
	}
	for k := range s.Worktrees {
		add(k)
	}
	return keys
}

// Degraded reports whether any collector failed.
func (s *Snapshot) Degraded() bool {
	return len(s.Failed) > 0
}
