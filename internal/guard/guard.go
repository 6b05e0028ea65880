// Package guard decides whether a registering session may reuse the session
// row already recorded for its terminal.
package guard

import "github.com/grovetools/claims/pkg/models"

// Reason explains a ClaimDecision.
type Reason string

const (
	ReasonNoExistingSession       Reason = "no_existing_session"
	ReasonExistingSessionHasClaim Reason = "existing_session_has_claim"
	ReasonNoActiveClaim           Reason = "no_active_claim"
)

// ClaimDecision is the outcome of ShouldCreateNewSession.
type ClaimDecision struct {
	ShouldCreateNew   bool   `json:"shouldCreateNew"`
	Reason            Reason `json:"reason"`
	ClaimedSD         string `json:"claimedSd,omitempty"`
	ExistingSessionID string `json:"existingSessionId,omitempty"`
}

// ShouldCreateNewSession inspects the session found for a terminal. A row that
// still owns a live claim is never reused, so the old claim stays separately
// releasable; anything else may be reused.
func ShouldCreateNewSession(existing *models.SessionRecord) ClaimDecision {
	if existing == nil {
		return ClaimDecision{Reason: ReasonNoExistingSession}
	}
	if existing.HasClaim() {
		return ClaimDecision{
			ShouldCreateNew:   true,
			Reason:            ReasonExistingSessionHasClaim,
			ClaimedSD:         existing.WorkKey,
			ExistingSessionID: existing.SessionID,
		}
	}
	return ClaimDecision{Reason: ReasonNoActiveClaim}
}
