// Package registry registers agent sessions against the session store,
// consulting the collision guard before reusing a terminal's row.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/internal/guard"
	"github.com/grovetools/claims/internal/store"
	"github.com/grovetools/claims/logging"
	"github.com/grovetools/claims/pkg/models"
	"github.com/sirupsen/logrus"
)

// Store is the part of the session store registration needs.
type Store interface {
	FindSessionByTerminal(ctx context.Context, terminalID string) (*models.SessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	CreateSession(ctx context.Context, rec models.SessionRecord) error
	ReuseSession(ctx context.Context, sessionID string, pid int, hostname string) error
	ClaimWorkItem(ctx context.Context, sessionID, workKey string) error
	ReleaseSession(ctx context.Context, sessionID, reason string) (store.ReleaseOutcome, error)
}

// RegisterRequest describes the session being registered.
type RegisterRequest struct {
	TerminalID string
	Hostname   string
	PID        int
	// WorkKey, if set, is claimed for the session after registration.
	WorkKey string
}

// Registration is the outcome of Register.
type Registration struct {
	Session  models.SessionRecord `json:"session"`
	Decision guard.ClaimDecision  `json:"decision"`
	Reused   bool                 `json:"reused"`
}

// Registry registers sessions.
type Registry struct {
	store  Store
	newID  func(pid int) string
	logger *logrus.Entry
}

// New creates a Registry over st.
func New(st Store, logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{store: st, newID: NewSessionID, logger: logger}
}

// NewSessionID returns "sess_<uuid>_<pid>", which keeps the pid recoverable
// from the id alone. A non-positive pid yields "sess_<uuid>".
func NewSessionID(pid int) string {
	id := "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if pid > 0 {
		id = fmt.Sprintf("%s_%d", id, pid)
	}
	return id
}

// Register finds the session recorded for the terminal and either reuses it
// or, when the guard says so, creates a fresh row. The old row keeps its
// claim untouched in that case. If the work key cannot be claimed, a row
// created by this call is released again; a reused row is left as it was.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	if req.TerminalID == "" {
		return nil, errors.InvalidInput("terminal id is required")
	}

	existing, err := r.store.FindSessionByTerminal(ctx, req.TerminalID)
	if err != nil {
		return nil, err
	}
	decision := guard.ShouldCreateNewSession(existing)

	log := r.logger.WithFields(logrus.Fields{
		"terminal_id": req.TerminalID,
		"reason":      decision.Reason,
	})

	var (
		sessionID string
		reused    bool
	)
	if existing != nil && !decision.ShouldCreateNew {
		sessionID = existing.SessionID
		if err := r.store.ReuseSession(ctx, sessionID, req.PID, req.Hostname); err != nil {
			return nil, err
		}
		reused = true
		log.WithField("session_id", sessionID).Info("Reusing session")
	} else {
		sessionID = r.newID(req.PID)
		if err := r.store.CreateSession(ctx, models.SessionRecord{
			SessionID:  sessionID,
			Status:     models.StatusActive,
			PID:        req.PID,
			Hostname:   req.Hostname,
			TerminalID: req.TerminalID,
		}); err != nil {
			return nil, err
		}
		if decision.ShouldCreateNew {
			log = log.WithFields(logrus.Fields{
				"existing_session": decision.ExistingSessionID,
				"claimed_sd":       decision.ClaimedSD,
			})
		}
		log.WithField("session_id", sessionID).Info("Created session")
	}

	if req.WorkKey != "" {
		if err := r.store.ClaimWorkItem(ctx, sessionID, req.WorkKey); err != nil {
			if !reused {
				r.discard(ctx, log, sessionID)
			}
			return nil, err
		}
	}

	rec, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Registration{Session: *rec, Decision: decision, Reused: reused}, nil
}

// discard releases a row created by a failed registration.
func (r *Registry) discard(ctx context.Context, log *logrus.Entry, sessionID string) {
	log = log.WithField("session_id", sessionID)
	if _, err := r.store.ReleaseSession(ctx, sessionID, models.ReleaseReasonRegistrationFailed); err != nil {
		log.WithError(err).Warn("Failed to release session after claim failure")
		return
	}
	log.Debug("Released session after claim failure")
}
