package triangulate

// Recommended actions.
const (
	ActionNone         = "none"
	ActionReleaseGhost = "release the claim: the session process is gone"
	ActionVerifyGhost  = "verify the session on its host, then release the claim"
	ActionCheckAlive   = "check the session: process alive but heartbeat stale"
	ActionReclaim      = "re-claim the work item or clear its working flag"
	ActionConfirmStart = "confirm work started: no working flag or worktree"
)

// Classify maps a vector to exactly one verdict. Rules are tried in
// precedence order; ok is false when none applies and the key is omitted.
func Classify(v Vector) (verdict Verdict, ok bool) {
	hasEvidence := v.HasIsWorkingOn || v.HasWorktree

	switch {
	case v.HasSessionClaim && v.PIDAlive && !v.HeartbeatStale:
		return Verdict{Category: CategoryHealthy, Action: ActionNone}, true

	case v.HasSessionClaim && !v.PIDAlive && v.HeartbeatStale:
		if v.PIDVerifiable {
			return Verdict{Category: CategoryGhost, AutoReleasable: true, Action: ActionReleaseGhost}, true
		}
		return Verdict{Category: CategoryGhost, Action: ActionVerifyGhost}, true

	case v.HasSessionClaim && v.PIDAlive && v.HeartbeatStale:
		return Verdict{Category: CategoryDiscrepancy, Kind: KindStaleAlive, Action: ActionCheckAlive}, true

	case !v.HasSessionClaim && hasEvidence:
		return Verdict{Category: CategoryOrphaned, Action: ActionReclaim}, true

	case v.HasSessionClaim && !hasEvidence:
		return Verdict{Category: CategoryDiscrepancy, Kind: KindSessionOnly, Action: ActionConfirmStart}, true
	}

	return Verdict{}, false
}
