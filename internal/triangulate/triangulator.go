package triangulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/grovetools/claims/internal/signals"
	"github.com/grovetools/claims/logging"
	"github.com/grovetools/claims/pkg/models"
	"github.com/grovetools/claims/pkg/process"
	"github.com/sirupsen/logrus"
)

// Options wires a Triangulator.
type Options struct {
	Sessions  signals.SessionSource
	Flags     signals.WorkFlagSource
	Worktrees signals.WorktreeOptions

	Probe          process.Probe
	Hostname       string
	StaleThreshold time.Duration
	Now            func() time.Time
	Logger         *logrus.Entry
}

// Triangulator produces claim health reports. It never writes.
type Triangulator struct {
	collectors []signals.Collector
	probe      process.Probe
	hostname   string
	threshold  time.Duration
	now        func() time.Time
	logger     *logrus.Entry
}

// New creates a Triangulator from opts.
func New(opts Options) *Triangulator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Probe == nil {
		opts.Probe = process.Local
	}
	if opts.Worktrees.Now == nil {
		opts.Worktrees.Now = opts.Now
	}

	var collectors []signals.Collector
	if opts.Sessions != nil {
		collectors = append(collectors, signals.NewSessionCollector(opts.Sessions, opts.Logger))
	}
	if opts.Flags != nil {
		collectors = append(collectors, signals.NewWorkFlagCollector(opts.Flags))
	}
	collectors = append(collectors, signals.NewWorktreeCollector(opts.Worktrees, opts.Logger))

	return &Triangulator{
		collectors: collectors,
		probe:      opts.Probe,
		hostname:   opts.Hostname,
		threshold:  opts.StaleThreshold,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Triangulate collects all signals, optionally for a single work key, and
// classifies every key seen. Keys are sorted within each bucket.
func (t *Triangulator) Triangulate(ctx context.Context, workKey string) *Result {
	now := t.now()
	snap := signals.Gather(ctx, t.logger, signals.Scope{WorkKey: workKey}, now, t.collectors...)

	result := newResult(now, workKey)
	result.Degraded = snap.Failed
	result.Truncated = snap.Truncated

	keys := snap.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		entry, ok := t.classify(key, snap, now)
		if !ok {
			result.Summary.Omitted++
			t.logger.WithField("work_key", key).Debug("Work key matches no category")
			continue
		}
		result.add(entry)
	}

	t.logger.WithFields(logrus.Fields{
		"total":       result.Summary.Total,
		"healthy":     result.Summary.Healthy,
		"orphaned":    result.Summary.Orphaned,
		"ghost":       result.Summary.Ghost,
		"discrepancy": result.Summary.Discrepancy,
		"degraded":    len(result.Degraded),
		"truncated":   len(result.Truncated),
	}).Debug("Triangulation complete")
	return result
}

// Vector derives the signal vector for a work key from a snapshot. Liveness is
// probed only for sessions on this host with a resolvable pid; otherwise
// heartbeat freshness stands in for it.
func (t *Triangulator) Vector(key string, snap *signals.Snapshot, now time.Time) Vector {
	var v Vector
	_, v.HasIsWorkingOn = snap.WorkFlags[key]
	_, v.HasWorktree = snap.Worktrees[key]

	sess, ok := snap.Sessions[key]
	if !ok {
		return v
	}
	v.HasSessionClaim = true
	v.HeartbeatStale = sess.IsStale(now, t.threshold)

	pid, resolved := process.ResolvePID(sess.PID, sess.SessionID)
	if resolved && t.sameHost(sess) {
		v.PIDVerifiable = true
		v.PIDAlive = t.probe.IsAlive(pid)
	} else {
		v.PIDAlive = !v.HeartbeatStale
	}
	return v
}

// sameHost is true only when both hostnames are known and equal. A pid from
// an unknown host cannot be probed meaningfully.
func (t *Triangulator) sameHost(sess models.SessionRecord) bool {
	return sess.Hostname != "" && t.hostname != "" && sess.Hostname == t.hostname
}

func (t *Triangulator) classify(key string, snap *signals.Snapshot, now time.Time) (Entry, bool) {
	v := t.Vector(key, snap, now)
	verdict, ok := Classify(v)
	if !ok {
		return Entry{}, false
	}

	entry := Entry{
		WorkKey:           key,
		Category:          verdict.Category,
		Kind:              verdict.Kind,
		AutoReleasable:    verdict.AutoReleasable,
		RecommendedAction: verdict.Action,
		Signals:           v,
		Evidence:          []string{},
	}

	if sess, ok := snap.Sessions[key]; ok {
		pid, _ := process.ResolvePID(sess.PID, sess.SessionID)
		entry.SessionID = sess.SessionID
		entry.PID = pid
		entry.Hostname = sess.Hostname
		entry.HeartbeatAgeSeconds = int64(sess.HeartbeatAge(now) / time.Second)

		entry.Evidence = append(entry.Evidence, "session="+sess.SessionID)
		switch {
		case !v.PIDVerifiable:
			entry.Evidence = append(entry.Evidence, "pid=unverified")
		case v.PIDAlive:
			entry.Evidence = append(entry.Evidence, fmt.Sprintf("pid=%d alive", pid))
		default:
			entry.Evidence = append(entry.Evidence, fmt.Sprintf("pid=%d dead", pid))
		}
		if v.HeartbeatStale {
			entry.Evidence = append(entry.Evidence, fmt.Sprintf("heartbeat_stale=%ds", entry.HeartbeatAgeSeconds))
		}
	}
	if v.HasIsWorkingOn {
		entry.Evidence = append(entry.Evidence, "is_working_on=true")
	}
	if wt, ok := snap.Worktrees[key]; ok {
		entry.WorktreePath = wt.Path
		entry.Evidence = append(entry.Evidence, "worktree="+wt.Path)
		if wt.HasChanges {
			entry.Evidence = append(entry.Evidence, "worktree_recent_changes")
		}
	}

	return entry, true
}
