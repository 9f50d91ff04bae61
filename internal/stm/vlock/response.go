package vlock

// Response is the closed set of lock-acquisition outcomes. Acquisition never
// fails irrecoverably; callers interpret these as control-flow signals.
type Response int

const (
	// Locked: the lock was acquired.
	Locked Response = iota

	// Failed: the attempt lost definitively (hybrid ownership races).
	Failed

	// Optimistic: no lock was taken; the caller received the observed word
	// and must validate against it later instead of holding a read lock.
	Optimistic

	// Spin: a conflicting holder is present; the caller may retry later or
	// fall back, but must not assume any state was changed.
	Spin
)

// String returns the response name for logs and test failures.
func (r Response) String() string {
	switch r {
	case Locked:
		return "locked"
	case Failed:
		return "failed"
	case Optimistic:
		return "optimistic"
	case Spin:
		return "spin"
	default:
		return "unknown"
	}
}
