// Package triangulate cross-checks session, work flag, worktree and process
// signals per work key and sorts every key into one health category.
package triangulate

import "time"

// Category is the health bucket a work key lands in.
type Category string

const (
	CategoryHealthy     Category = "healthy"
	CategoryOrphaned    Category = "orphaned"
	CategoryGhost       Category = "ghost"
	CategoryDiscrepancy Category = "discrepancy"
)

// DiscrepancyKind refines CategoryDiscrepancy.
type DiscrepancyKind string

const (
	// KindStaleAlive: the claiming process runs but its heartbeat is stale.
	KindStaleAlive DiscrepancyKind = "stale_alive"
	// KindSessionOnly: a claim exists with no working flag and no worktree.
	KindSessionOnly DiscrepancyKind = "session_only"
)

// Vector holds the five boolean signals for one work key. PIDAlive and
// HeartbeatStale only mean something when HasSessionClaim is set.
type Vector struct {
	HasSessionClaim bool `json:"hasSessionClaim"`
	HasIsWorkingOn  bool `json:"hasIsWorkingOn"`
	HasWorktree     bool `json:"hasWorktree"`
	PIDAlive        bool `json:"pidAlive"`
	HeartbeatStale  bool `json:"heartbeatStale"`

	// PIDVerifiable is set when PIDAlive came from probing a local process.
	// Otherwise PIDAlive mirrors heartbeat freshness.
	PIDVerifiable bool `json:"pidVerifiable"`
}

// Verdict is the classification of one vector.
type Verdict struct {
	Category       Category
	Kind           DiscrepancyKind
	AutoReleasable bool
	Action         string
}

// Entry is one classified work key.
type Entry struct {
	WorkKey           string          `json:"workKey"`
	Category          Category        `json:"category"`
	Kind              DiscrepancyKind `json:"kind,omitempty"`
	AutoReleasable    bool            `json:"autoReleasable"`
	RecommendedAction string          `json:"recommendedAction"`
	Evidence          []string        `json:"evidence"`
	Signals           Vector          `json:"signals"`

	SessionID           string `json:"sessionId,omitempty"`
	PID                 int    `json:"pid,omitempty"`
	Hostname            string `json:"hostname,omitempty"`
	HeartbeatAgeSeconds int64  `json:"heartbeatAgeSeconds,omitempty"`
	WorktreePath        string `json:"worktreePath,omitempty"`
}

// Counts summarizes a Result.
type Counts struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Orphaned    int `json:"orphaned"`
	Ghost       int `json:"ghost"`
	Discrepancy int `json:"discrepancy"`
	// Omitted keys matched no category.
	Omitted int `json:"omitted"`
}

// Result partitions every classified work key into exactly one bucket.
type Result struct {
	Healthy       []Entry `json:"healthy"`
	Orphaned      []Entry `json:"orphaned"`
	Ghost         []Entry `json:"ghost"`
	Discrepancies []Entry `json:"discrepancies"`
	Summary       Counts  `json:"summary"`

	// Scope is the work key the pass was restricted to, if any.
	Scope string `json:"scope,omitempty"`
	// Degraded names signal sources that failed during collection.
	Degraded []string `json:"degraded,omitempty"`
	// Truncated names sources that hit their row cap; keys past the cap are
	// missing and orphan verdicts may be incomplete.
	Truncated   []string  `json:"truncated,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

func newResult(at time.Time, scope string) *Result {
	return &Result{
		Healthy:       []Entry{},
		Orphaned:      []Entry{},
		Ghost:         []Entry{},
		Discrepancies: []Entry{},
		Scope:         scope,
		GeneratedAt:   at,
	}
}

func (r *Result) add(e Entry) {
	switch e.Category {
	case CategoryHealthy:
		r.Healthy = append(r.Healthy, e)
		r.Summary.Healthy++
	case CategoryGhost:
		r.Ghost = append(r.Ghost, e)
		r.Summary.Ghost++
	case CategoryOrphaned:
		r.Orphaned = append(r.Orphaned, e)
		r.Summary.Orphaned++
	case CategoryDiscrepancy:
		r.Discrepancies = append(r.Discrepancies, e)
		r.Summary.Discrepancy++
	default:
		return
	}
	r.Summary.Total++
}

// Entries returns every classified entry, in bucket order.
func (r *Result) Entries() []Entry {
	all := make([]Entry, 0, r.Summary.Total)
	all = append(all, r.Healthy...)
	all = append(all, r.Ghost...)
	all = append(all, r.Orphaned...)
	all = append(all, r.Discrepancies...)
	return all
}

// Lookup returns the entry for a work key.
func (r *Result) Lookup(workKey string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.WorkKey == workKey {
			return e, true
		}
	}
	return Entry{}, false
}
