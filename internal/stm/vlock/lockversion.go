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

// LockVersion is the pessimistic reader/writer versioned lock.
//
// The whole lock is one atomic version word. Readers occupy the low slot
// field (at most vword.MaxReaders concurrently); a writer sets the lock bit,
// which excludes readers and other writers. All transitions are single-CAS:
// no field is ever mutated independently of the rest of the word, so the
// invariant "lock bit and non-zero reader count never coexist" holds at
// every instant.
//
// None of the methods block. A reader meeting a writer gets Spin; a reader
// meeting a full reader field gets Optimistic together with the observed
// word and validates later instead of waiting.
type LockVersion struct {
	w atomic.Uint64
}

// NewLockVersion returns a lock whose word starts at v.
func NewLockVersion(v vword.Word) *LockVersion {
	lv := &LockVersion{}
	lv.w.Store(uint64(v))
	return lv
}

// Load returns the current version word.
func (lv *LockVersion) Load() vword.Word {
	return vword.Word(lv.w.Load())
}

// TryLockRead attempts to take a read lock.
//
// Returns Spin when a writer holds the word, Optimistic (with the observed
// word) when all reader slots are occupied, and Locked after a successful
// CAS incrementing the reader count. A failed CAS re-reads and retries with
// no backoff at this layer.
func (lv *LockVersion) TryLockRead() (Response, vword.Word) {
	for {
		vv := vword.Word(lv.w.Load())
		if vv.IsLocked() {
			return Spin, 0
		}
		if vv.ReaderCount() >= vword.MaxReaders {
			return Optimistic, vv
		}
		if lv.w.CompareAndSwap(uint64(vv), uint64(vv.WithReaders(vv.ReaderCount()+1))) {
			return Locked, 0
		}
		spin.Relax()
	}
}

// TryLockWrite attempts to take the exclusive write lock.
//
// Returns Spin while the word is write-locked or any reader is present.
// In adaptive mode the acquiring CAS simultaneously clears the optimistic
// hint bit: a fresh writer makes the hint stale.
func (lv *LockVersion) TryLockWrite() Response {
	for {
		vv := vword.Word(lv.w.Load())
		if vv.IsLocked() || vv.ReaderCount() != 0 {
			return Spin
		}
		next := vv | vword.LockBit
		if policy.Adaptive {
			next &^= vword.OptBit
		}
		if lv.w.CompareAndSwap(uint64(vv), uint64(next)) {
			return Locked
		}
		spin.Relax()
	}
}

// TryUpgrade attempts to convert a held read lock into the write lock.
// It succeeds only when the caller is the sole reader; otherwise Spin.
// Calling without holding a read lock is a programming error.
func (lv *LockVersion) TryUpgrade() Response {
	vv := vword.Word(lv.w.Load())
	if vv.IsLocked() {
		panic("vlock: TryUpgrade on a write-locked word")
	}
	if vv.ReaderCount() < 1 {
		panic("vlock: TryUpgrade without a held read lock")
	}
	if vv.ReaderCount() == 1 && lv.w.CompareAndSwap(uint64(vv), uint64((vv-1)|vword.LockBit)) {
		return Locked
	}
	return Spin
}

// UnlockRead releases one read lock.
//
// Simple mode is a single atomic decrement. Adaptive mode runs a CAS loop
// that, with probability Policy.UnlockOptChance drawn from g, also sets the
// optimistic hint bit while decrementing.
func (lv *LockVersion) UnlockRead(g threadid.Source) {
	if !policy.Adaptive {
		nv := vword.Word(lv.w.Add(^uint64(0)))
		if nv.ReaderCount() == int(vword.SlotMask) {
			panic("vlock: UnlockRead without a held read lock")
		}
		return
	}
	for {
		vv := vword.Word(lv.w.Load())
		if vv.ReaderCount() < 1 {
			panic("vlock: UnlockRead without a held read lock")
		}
		nv := vv - 1
		if g != nil && g.Chance(policy.UnlockOptChance) {
			nv |= vword.OptBit
		}
		if lv.w.CompareAndSwap(uint64(vv), uint64(nv)) {
			return
		}
		spin.Relax()
	}
}

// UnlockWrite releases the write lock with release ordering, so every write
// performed under the lock is visible to any thread that subsequently
// observes the cleared bit. In adaptive mode the optimistic hint bit is set
// with probability Policy.UnlockOptChance.
//
// While the write lock is held no other thread mutates the word (readers
// spin out before their CAS), so a plain atomic store suffices here.
func (lv *LockVersion) UnlockWrite(g threadid.Source) {
	vv := vword.Word(lv.w.Load())
	if !vv.IsLocked() {
		panic("vlock: UnlockWrite on an unlocked word")
	}
	nv := vv &^ vword.LockBit
	if policy.Adaptive && g != nil && g.Chance(policy.UnlockOptChance) {
		nv |= vword.OptBit
	}
	lv.w.Store(uint64(nv))
}

// HintOptimistic exposes the optimistic hint bit as advisory state for the
// surrounding protocol's choice between pessimistic locking and lock-free
// reading. It carries no correctness obligation by itself.
func (lv *LockVersion) HintOptimistic() bool {
	return vword.Word(lv.w.Load()).IsOptimistic()
}

// AcquireWrite implements ObjectLock. The thread id is not embedded in
// pessimistic words; it is accepted for interface parity with the hybrid
// flavor.
func (lv *LockVersion) AcquireWrite(int) Response {
	return lv.TryLockWrite()
}

// ObserveRead implements ObjectLock by taking a bounded read lock, degrading
// to Optimistic at reader exhaustion.
func (lv *LockVersion) ObserveRead() (vword.Word, Response) {
	resp, observed := lv.TryLockRead()
	return observed, resp
}

// CommitTryLock acquires the write lock for an item during the commit phase.
// Precondition: this attempt does not already hold the word.
func (lv *LockVersion) CommitTryLock(int) bool {
	return lv.TryLockWrite() == Locked
}

// CommitUnlock releases whichever of read/write lock the item recorded,
// selecting by the item's access kind. The item must need an unlock.
func (lv *LockVersion) CommitUnlock(item TrackedItem, g threadid.Source) {
	if !item.NeedsUnlock() {
		panic("vlock: CommitUnlock on an item that needs no unlock")
	}
	if item.HasWrite() {
		lv.UnlockWrite(g)
		return
	}
	if !item.HasRead() {
		panic("vlock: CommitUnlock on an item with no recorded access")
	}
	lv.UnlockRead(g)
}

// StampVersion implements ObjectLock. Caller must hold the write lock, which
// excludes every other mutator of the word.
func (lv *LockVersion) StampVersion(v uint64) {
	vv := vword.Word(lv.w.Load())
	if !vv.IsLocked() {
		panic("vlock: StampVersion without the write lock")
	}
	lv.w.Store(uint64(vv.WithVersion(v)))
}

// Validate reports whether a word observed by an optimistic reader is still
// current: same version number and no writer in place.
func (lv *LockVersion) Validate(observed vword.Word) bool {
	cur := vword.Word(lv.w.Load())
	return cur.Version() == observed.Version() && !cur.IsLocked()
}

var _ ObjectLock = (*LockVersion)(nil)
