// Copyright 2025 The stmlock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vlock

import (
	"sync/atomic"

	"github.com/kolganov/stmlock/internal/stm/spin"
	"github.com/kolganov/stmlock/internal/stm/threadid"
	"github.com/kolganov/stmlock/internal/stm/vword"
)

// SwissVersion is the hybrid versioned lock: optimistic reads, pessimistic
// commit.
//
// A single exclusive owner claims the word by embedding its thread id next
// to the lock bit, so ownership is recoverable from the word alone. Readers
// never lock; they record the observed word (ObserveRead) and compare it
// against the live word at validation time. The commit phase sets a separate
// dirty bit, distinct from the eager lock bit; that bit is what optimistic
// readers must check to detect "object is mid-commit".
//
// Opacity is a per-instantiation configuration: when enabled, the word is
// stamped with the nonopaque marker at construction. The marker is consumed
// by the surrounding validation protocol and never interpreted here.
type SwissVersion struct {
	w atomic.Uint64
}

// NewSwissVersion returns an unlocked hybrid lock. With opaque set, the
// nonopaque marker bit is stamped into the word at construction.
func NewSwissVersion(opaque bool) *SwissVersion {
	sv := &SwissVersion{}
	if opaque {
		sv.w.Store(uint64(vword.NonopaqueBit))
	}
	return sv
}

// NewInsertedSwissVersion returns a lock for a freshly inserted object,
// already write-locked by the creating thread. The word carries
// v | lock bit | tid (plus the nonopaque marker when opaque), so the
// inserting transaction owns the object until its commit or abort unlocks it.
func NewInsertedSwissVersion(v vword.Word, tid int, opaque bool) *SwissVersion {
	if tid < 0 || tid >= vword.MaxThreads {
		panic("vlock: thread id out of slot range")
	}
	sv := &SwissVersion{}
	w := v.WithLock(tid)
	if opaque {
		w |= vword.NonopaqueBit
	}
	sv.w.Store(uint64(w))
	return sv
}

// Load returns the current version word.
func (sv *SwissVersion) Load() vword.Word {
	return vword.Word(sv.w.Load())
}

// TryLock attempts to claim exclusive ownership for tid with a single
// compare-and-swap. It succeeds only if the word is currently unlocked.
func (sv *SwissVersion) TryLock(tid int) bool {
	if tid < 0 || tid >= vword.MaxThreads {
		panic("vlock: thread id out of slot range")
	}
	vv := vword.Word(sv.w.Load())
	if vv.IsLocked() {
		return false
	}
	return sv.w.CompareAndSwap(uint64(vv), uint64(vv.WithLock(tid)))
}

// IsLockedHere reports whether tid currently owns the word.
func (sv *SwissVersion) IsLockedHere(tid int) bool {
	vv := vword.Word(sv.w.Load())
	return vv.IsLocked() && vv.ThreadID() == tid
}

// IsLockedElsewhere reports whether a thread other than tid owns the word.
func (sv *SwissVersion) IsLockedElsewhere(tid int) bool {
	vv := vword.Word(sv.w.Load())
	return vv.IsLocked() && vv.ThreadID() != tid
}

// IsDirty reports whether a commit is in flight on this object.
func (sv *SwissVersion) IsDirty() bool {
	return vword.Word(sv.w.Load()).IsDirty()
}

// IsNonopaque reports whether the construction-time opacity marker is set.
func (sv *SwissVersion) IsNonopaque() bool {
	return vword.Word(sv.w.Load()).IsNonopaque()
}

// AcquireWrite implements ObjectLock: a single ownership claim for tid.
// A word already owned by another thread is a definitive loss (Failed);
// a claim that merely raced a concurrent transition may be retried (Spin).
func (sv *SwissVersion) AcquireWrite(tid int) Response {
	if sv.TryLock(tid) {
		return Locked
	}
	if sv.IsLockedElsewhere(tid) {
		return Failed
	}
	return Spin
}

// ObserveRead records the currently observed word for later revalidation.
// It never blocks and never acquires a lock; conflicts are detected at
// validation time, not by preventing writers from proceeding.
func (sv *SwissVersion) ObserveRead() (vword.Word, Response) {
	return vword.Word(sv.w.Load()), Optimistic
}

// CommitTryLock marks the commit phase by setting the dirty bit with release
// ordering, so all mutations by the committing thread are visible to any
// thread that subsequently observes the bit. Precondition: tid already owns
// the exclusive lock; once that holds the operation always succeeds.
func (sv *SwissVersion) CommitTryLock(tid int) bool {
	if !sv.IsLockedHere(tid) {
		panic("vlock: CommitTryLock without ownership of the word")
	}
	sv.w.Or(uint64(vword.DirtyBit))
	return true
}

// CommitUnlock fully clears lock state (owner id, lock bit, dirty bit) if
// the word is currently locked. Safe to call on commit or on abort. The item
// must need an unlock; the source is unused by this flavor.
func (sv *SwissVersion) CommitUnlock(item TrackedItem, _ threadid.Source) {
	if !item.NeedsUnlock() {
		panic("vlock: CommitUnlock on an item that needs no unlock")
	}
	for {
		vv := vword.Word(sv.w.Load())
		if !vv.IsLocked() {
			return
		}
		if sv.w.CompareAndSwap(uint64(vv), uint64(vv.ClearLockState())) {
			return
		}
		spin.Relax()
	}
}

// StampVersion implements ObjectLock. Caller must own the word.
func (sv *SwissVersion) StampVersion(v uint64) {
	vv := vword.Word(sv.w.Load())
	if !vv.IsLocked() {
		panic("vlock: StampVersion without the write lock")
	}
	sv.w.Store(uint64(vv.WithVersion(v)))
}

// Validate reports whether an optimistically observed word is still current:
// the live word is unchanged and no commit was or is in flight against it.
func (sv *SwissVersion) Validate(observed vword.Word) bool {
	cur := vword.Word(sv.w.Load())
	return cur == observed && !observed.IsDirty() && !observed.IsLocked()
}

var _ ObjectLock = (*SwissVersion)(nil)
