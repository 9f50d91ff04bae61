package vlock

// Policy selects between the simple and the adaptive unlock behavior of the
// pessimistic lock. In adaptive mode, each unlock sets the word's optimistic
// hint bit with probability UnlockOptChance (drawn from the unlocking
// thread's own random source), and each write-lock acquisition clears the
// hint, since a fresh writer makes it stale.
//
// The policy is process-wide and must be configured before any LockVersion
// is used; it is not safe to change while locks are live.
type Policy struct {
	// Adaptive enables the randomized optimistic-hint unlock paths.
	Adaptive bool

	// UnlockOptChance is the probability that an adaptive unlock sets the
	// optimistic hint bit. The original system left this knob undefined;
	// 0.1 is this implementation's documented default.
	UnlockOptChance float64
}

// policy is the active process-wide policy. Simple (non-adaptive) by default.
var policy = Policy{Adaptive: false, UnlockOptChance: 0.1}

// SetPolicy installs the process-wide lock policy. Call once at startup,
// before any lock is exercised.
func SetPolicy(p Policy) {
	policy = p
}

// ActivePolicy returns the process-wide lock policy.
func ActivePolicy() Policy {
	return policy
}
