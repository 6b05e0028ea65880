package store

import (
	"context"
	"fmt"

	"github.com/grovetools/claims/errors"
	"github.com/grovetools/claims/pkg/models"
	"github.com/sirupsen/logrus"
)

// ReleaseOutcome says what a ReleaseSession call found.
type ReleaseOutcome string

const (
	// OutcomeReleased means this call released the claim.
	OutcomeReleased ReleaseOutcome = "released"
	// OutcomeAlreadyReleased means the session was released before this call.
	OutcomeAlreadyReleased ReleaseOutcome = "already_released"
	// OutcomeNotFound means no session row has the id.
	OutcomeNotFound ReleaseOutcome = "not_found"
)

// ReleaseSession releases a session's claim in one transaction: the session
// is marked released with its work key cleared, and any work item pointing
// at it loses its working flag. Releasing twice is not an error; the second
// call reports OutcomeAlreadyReleased.
func (s *Store) ReleaseSession(ctx context.Context, sessionID, reason string) (ReleaseOutcome, error) {
	if sessionID == "" {
		return "", errors.InvalidInput("session id is required")
	}
	if reason == "" {
		reason = models.ReleaseReasonManual
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.ReleaseFailed(sessionID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET status = ?, sd_id = NULL, released_at = ?, release_reason = ? WHERE session_id = ? AND status <> ?",
		s.sessions),
		string(models.StatusReleased), millis(s.now()), reason, sessionID, string(models.StatusReleased))
	if err != nil {
		return "", errors.ReleaseFailed(sessionID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", errors.ReleaseFailed(sessionID, err)
	}

	outcome := OutcomeReleased
	if affected == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE session_id = ?", s.sessions), sessionID).Scan(&count); err != nil {
			return "", errors.ReleaseFailed(sessionID, err)
		}
		if count == 0 {
			return OutcomeNotFound, nil
		}
		outcome = OutcomeAlreadyReleased
	}

	// Clear flags even on a repeat release so a half-applied earlier release converges.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"UPDATE %s SET is_working_on = ?, active_session_id = NULL WHERE active_session_id = ?", s.workItems),
		false, sessionID); err != nil {
		return "", errors.ReleaseFailed(sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", errors.ReleaseFailed(sessionID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"reason":     reason,
		"outcome":    outcome,
	}).Debug("Released session")
	return outcome, nil
}
