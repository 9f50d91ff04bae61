// Package spin provides the two waiting primitives the lock and contention
// layers are allowed to use: a CPU relaxation hint and a bounded busy-wait.
//
// Neither primitive sleeps, parks, or yields to the OS scheduler. A failed
// compare-and-swap is followed by Relax and an immediate retry; the only
// place real delay is introduced is the contention manager's rollback
// backoff, which burns a computed cycle count through WaitCycles.
package spin

// pause is a call the compiler cannot eliminate or inline, approximating a
// PAUSE instruction's bus-pressure relief on platforms where we cannot emit
// one directly.
//
//go:noinline
func pause() {}

// Relax is the relaxation hint issued between attempts of a CAS retry loop.
func Relax() {
	pause()
}

// WaitCycles busy-waits for roughly n loop iterations without yielding.
// Used by the contention manager's randomized backoff.
func WaitCycles(n uint64) {
	for i := uint64(0); i < n; i++ {
		pause()
	}
}
