package sync

import "time"

// DefaultCooldown is the minimum spacing between two syncs for one user.
const DefaultCooldown = 600 * time.Second

// GateDecision is the outcome of the rate-limit check.
type GateDecision struct {
	Allowed           bool
	RetryAfterSeconds int
	Reason            string
}

// CheckRateLimit decides whether a sync attempt may proceed given the last
// successful sync time. It is a pure check against the stored timestamp,
// not a mutual-exclusion lock; callers that can race must hold a per-user
// lease around the whole invocation (see Orchestrator).
func CheckRateLimit(lastSyncAt *time.Time, now time.Time, cooldown time.Duration) GateDecision {
	if lastSyncAt == nil {
		return GateDecision{Allowed: true}
	}

	elapsed := now.Sub(*lastSyncAt)
	if elapsed >= cooldown {
		return GateDecision{Allowed: true}
	}

	remaining := cooldown - elapsed
	retryAfter := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		retryAfter++ // round up partial seconds
	}
	return GateDecision{
		Allowed:           false,
		RetryAfterSeconds: retryAfter,
		Reason:            "cooldown",
	}
}
