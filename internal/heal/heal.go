// Package heal releases ghost claims: sessions on this host whose heartbeat
// went stale and whose process is gone. It runs once per heartbeat tick and
// reads a narrow stale-session query instead of a full triangulation.
package heal

import (
	"context"
	"fmt"
	"time"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/logging"
	"github.com/grovetools/claims/pkg/models"
	"github.com/grovetools/claims/pkg/process"
	"github.com/sirupsen/logrus"
)

// Skip reasons.
const (
	SkipSelf            = "self"
	SkipAlive           = "alive"
	SkipPIDUnresolved   = "pid_unresolved"
	SkipAlreadyReleased = "already_released"
)

// SessionLister returns claimed sessions matching a query.
type SessionLister interface {
	ListClaimedSessions(ctx context.Context, q store.SessionQuery) ([]models.SessionRecord, error)
}

// Releaser releases a session's claim. Releasing an already released
// session must not fail.
type Releaser interface {
	ReleaseSession(ctx context.Context, sessionID, reason string) (store.ReleaseOutcome, error)
}

// Config wires a Healer.
type Config struct {
	Sessions SessionLister
	Releaser Releaser
	Probe    process.Probe

	// Hostname is the local host. Empty means unknown: no row counts as
	// local and nothing is released.
	Hostname       string
	StaleThreshold time.Duration
	// Budget is the soft time limit for one pass; zero disables it.
	Budget time.Duration

	Now    func() time.Time
	Logger *logrus.Entry
}

// Options controls one pass.
type Options struct {
	DryRun bool
}

// Candidate identifies a session the pass looked at.
type Candidate struct {
	SessionID           string `json:"sessionId"`
	WorkKey             string `json:"sdId"`
	PID                 int    `json:"pid,omitempty"`
	Hostname            string `json:"hostname,omitempty"`
	HeartbeatAgeSeconds int64  `json:"heartbeatAgeSeconds"`
}

// Skipped is a candidate left alone, with the reason.
type Skipped struct {
	Candidate
	Reason string `json:"reason"`
}

// Failure is a candidate whose release errored. SessionID is empty when the
// candidate query itself failed.
type Failure struct {
	SessionID string `json:"sessionId,omitempty"`
	WorkKey   string `json:"sdId,omitempty"`
	Error     string `json:"error"`
}

// Result aggregates one pass. No field is nil.
type Result struct {
	Released   []Candidate `json:"released"`
	Advisories []string    `json:"advisories"`
	Orphans    []Candidate `json:"orphans"`
	Skipped    []Skipped   `json:"skipped"`
	Errors     []Failure   `json:"errors"`
	Deferred   []Candidate `json:"deferred"`

	DryRun  bool          `json:"dryRun"`
	Elapsed time.Duration `json:"elapsedNs"`
}

func newResult(dryRun bool) *Result {
	return &Result{
		Released:   []Candidate{},
		Advisories: []string{},
		Orphans:    []Candidate{},
		Skipped:    []Skipped{},
		Errors:     []Failure{},
		Deferred:   []Candidate{},
		DryRun:     dryRun,
	}
}

// Healer runs self-heal passes. It holds no state between passes.
type Healer struct {
	cfg Config
}

// New creates a Healer, filling unset clock, probe and logger.
func New(cfg Config) *Healer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Probe == nil {
		cfg.Probe = process.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Healer{cfg: cfg}
}

// SelfHeal runs one pass on behalf of currentSessionID, which is never
// released. Problems with individual candidates, or with the candidate
// query, are reported in the result; the error is only for bad input.
func (h *Healer) SelfHeal(ctx context.Context, currentSessionID string, opts Options) (*Result, error) {
	if currentSessionID == "" {
		return nil, errors.InvalidInput("current session id is required")
	}

	start := h.cfg.Now()
	result := newResult(opts.DryRun)
	log := h.cfg.Logger.WithFields(logrus.Fields{
		"session_id": currentSessionID,
		"dry_run":    opts.DryRun,
	})

	queryCtx := ctx
	if h.cfg.Budget > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, h.cfg.Budget)
		defer cancel()
	}

	candidates, err := h.cfg.Sessions.ListClaimedSessions(queryCtx, store.SessionQuery{
		StaleBefore: start.Add(-h.cfg.StaleThreshold),
	})
	if err != nil {
		log.WithError(err).Warn("Ghost candidate query failed")
		result.Errors = append(result.Errors, Failure{Error: err.Error()})
		result.Elapsed = h.cfg.Now().Sub(start)
		return result, nil
	}

	for i, sess := range candidates {
		cand := Candidate{
			SessionID:           sess.SessionID,
			WorkKey:             sess.WorkKey,
			Hostname:            sess.Hostname,
			HeartbeatAgeSeconds: int64(sess.HeartbeatAge(start) / time.Second),
		}

		if h.cfg.Budget > 0 && h.cfg.Now().Sub(start) > h.cfg.Budget {
			result.Deferred = append(result.Deferred, cand)
			for _, rest := range candidates[i+1:] {
				result.Deferred = append(result.Deferred, Candidate{
					SessionID:           rest.SessionID,
					WorkKey:             rest.WorkKey,
					Hostname:            rest.Hostname,
					HeartbeatAgeSeconds: int64(rest.HeartbeatAge(start) / time.Second),
				})
			}
			log.WithError(errors.BudgetExceeded(h.cfg.Budget, len(result.Deferred))).
				Warn("Deferring remaining ghost candidates")
			break
		}
		if ctx.Err() != nil {
			result.Deferred = append(result.Deferred, cand)
			continue
		}

		h.handle(ctx, log, currentSessionID, sess, cand, opts, result)
	}

	result.Elapsed = h.cfg.Now().Sub(start)
	log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"released":   len(result.Released),
		"orphans":    len(result.Orphans),
		"errors":     len(result.Errors),
		"elapsed":    result.Elapsed,
	}).Debug("Self-heal pass complete")
	return result, nil
}

func (h *Healer) handle(ctx context.Context, log *logrus.Entry, self string, sess models.SessionRecord, cand Candidate, opts Options, result *Result) {
	log = log.WithFields(logrus.Fields{"candidate": sess.SessionID, "sd_id": sess.WorkKey})

	if sess.SessionID == self {
		result.Skipped = append(result.Skipped, Skipped{Candidate: cand, Reason: SkipSelf})
		return
	}
	if !h.sameHost(sess.Hostname) {
		result.Orphans = append(result.Orphans, cand)
		log.WithField("hostname", sess.Hostname).Debug("Stale claim not provably on this host, left for orphan detection")
		return
	}

	pid, ok := process.ResolvePID(sess.PID, sess.SessionID)
	if !ok {
		result.Skipped = append(result.Skipped, Skipped{Candidate: cand, Reason: SkipPIDUnresolved})
		log.WithError(errors.PIDUnresolved(sess.SessionID)).Debug("Skipping candidate")
		return
	}
	cand.PID = pid
	if h.cfg.Probe.IsAlive(pid) {
		result.Skipped = append(result.Skipped, Skipped{Candidate: cand, Reason: SkipAlive})
		return
	}

	if opts.DryRun {
		result.Advisories = append(result.Advisories, fmt.Sprintf(
			"would release %s (sd=%s pid=%d heartbeat %ds old)",
			sess.SessionID, sess.WorkKey, pid, cand.HeartbeatAgeSeconds))
		return
	}

	outcome, err := h.cfg.Releaser.ReleaseSession(ctx, sess.SessionID, models.ReleaseReasonGhostHeal)
	if err != nil {
		log.WithError(err).Warn("Ghost release failed")
		result.Errors = append(result.Errors, Failure{
			SessionID: sess.SessionID,
			WorkKey:   sess.WorkKey,
			Error:     err.Error(),
		})
		return
	}
	if outcome != store.OutcomeReleased {
		result.Skipped = append(result.Skipped, Skipped{Candidate: cand, Reason: SkipAlreadyReleased})
		return
	}

	log.WithField("pid", pid).Info("Released ghost claim")
	result.Released = append(result.Released, cand)
}

// sameHost is true only when both hostnames are known and equal.
func (h *Healer) sameHost(hostname string) bool {
	return hostname != "" && h.cfg.Hostname != "" && hostname == h.cfg.Hostname
}
