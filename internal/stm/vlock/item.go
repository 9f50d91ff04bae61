package vlock

import (
	"github.com/kolganov/stmlock/internal/stm/threadid"
	"github.com/kolganov/stmlock/internal/stm/vword"
)

// TrackedItem is the lock-side view of a transaction's per-object access
// record. The commit hooks consult it to decide which unlock path applies.
// The full read-set/write-set bookkeeping lives with the enclosing
// transaction framework, not here.
type TrackedItem interface {
	// NeedsUnlock reports whether this item recorded a lock that must be
	// released at commit or abort.
	NeedsUnlock() bool

	// HasWrite reports whether the recorded access was a write.
	HasWrite() bool

	// HasRead reports whether the recorded access was a read.
	HasRead() bool
}

// ObjectLock is the strategy surface shared by the two lock flavors. The
// enclosing transaction selects a flavor per transactional object type and
// drives it exclusively through this interface.
type ObjectLock interface {
	// Load returns the current version word.
	Load() vword.Word

	// AcquireWrite attempts to take exclusive write ownership for tid.
	// Returns Locked on success, Failed on a definitive ownership loss,
	// or Spin when the claim may be retried.
	AcquireWrite(tid int) Response

	// ObserveRead prepares a read. The pessimistic flavor takes a bounded
	// read lock (Locked) or degrades to Optimistic with the observed word;
	// the hybrid flavor always returns Optimistic. Spin means a writer is
	// present and the caller must retry or abort.
	ObserveRead() (vword.Word, Response)

	// CommitTryLock acquires the commit-phase lock for an item tracked by
	// this object.
	CommitTryLock(tid int) bool

	// CommitUnlock releases whichever lock the item recorded. The item must
	// report NeedsUnlock; violating that is a fatal programming error.
	// The source feeds the adaptive unlock heuristic and may be nil.
	CommitUnlock(item TrackedItem, g threadid.Source)

	// StampVersion writes the committing version number into the word.
	// The caller must hold the write lock.
	StampVersion(v uint64)

	// Validate reports whether an optimistically observed word is still
	// current and safe to have read from.
	Validate(observed vword.Word) bool
}
