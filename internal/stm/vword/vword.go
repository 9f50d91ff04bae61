// Copyright 2025 The stmlock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vword defines the version word: a bit-packed 64-bit integer, one
// per transactional object, encoding lock state, ownership, and hint bits.
//
// Layout (low bits to high bits):
//
//	Bits   Field       Meaning
//	-----  -----       -------
//	0-6    slot        reader count (pessimistic lock) or owner thread id (hybrid lock)
//	7      lock        exclusive write lock held
//	8      opt         adaptive hint: object is a good optimistic-read candidate
//	9      dirty       commit in flight (hybrid commit-time marker)
//	10     nonopaque   stamped at construction when opacity tracking is enabled
//	11-63  version     version number written by the surrounding commit protocol
//
// The low slot field is shared by the two lock flavors: the pessimistic lock
// uses it as a reader count (capped at MaxReaders), the hybrid lock uses it
// to embed the owning thread id, so ownership is recoverable from the word
// alone.
//
// Word is a plain value type. Atomicity belongs to the locks that own a word
// (see package vlock); no function in this package touches shared memory.
package vword

import "strconv"

// Word is the version word shared per transactional object.
type Word uint64

const (
	// SlotBits is the width of the low slot field. It bounds both the
	// reader count and the embeddable thread id.
	SlotBits = 7

	// SlotMask extracts the slot field (0x7f).
	SlotMask = Word(1)<<SlotBits - 1

	// LockBit marks an exclusive write lock.
	LockBit = Word(1) << 7

	// OptBit is the adaptive optimistic-read hint.
	OptBit = Word(1) << 8

	// DirtyBit marks a commit in flight (hybrid lock only). Readers doing
	// optimistic validation must check this bit, not LockBit, to detect a
	// mid-commit object.
	DirtyBit = Word(1) << 9

	// NonopaqueBit is stamped once at construction when the hybrid lock is
	// instantiated with opacity tracking. It is interpreted by the
	// surrounding validation protocol, never by the locks themselves.
	NonopaqueBit = Word(1) << 10

	// VersionShift is the bit position of the version number field.
	VersionShift = 11

	// VersionInc is the increment unit for the version number field.
	VersionInc = Word(1) << VersionShift
)

const (
	// MaxReaders is the maximum number of concurrently held read locks.
	// A pessimistic reader arriving at a full word degrades to optimistic
	// reading instead of blocking.
	MaxReaders = 16

	// MaxThreads is the thread-slot capacity. Thread ids embedded in the
	// slot field must stay below this value, which must fit in SlotBits.
	MaxThreads = 128
)

// IsLocked reports whether the exclusive write lock is held.
func (w Word) IsLocked() bool { return w&LockBit != 0 }

// IsDirty reports whether a commit is in flight on this object.
func (w Word) IsDirty() bool { return w&DirtyBit != 0 }

// IsOptimistic reports whether the adaptive optimistic-read hint is set.
func (w Word) IsOptimistic() bool { return w&OptBit != 0 }

// IsNonopaque reports whether the construction-time opacity marker is set.
func (w Word) IsNonopaque() bool { return w&NonopaqueBit != 0 }

// ReaderCount returns the slot field interpreted as a reader count.
func (w Word) ReaderCount() int { return int(w & SlotMask) }

// ThreadID returns the slot field interpreted as the owning thread id.
// Meaningful only while IsLocked() on a hybrid-lock word.
func (w Word) ThreadID() int { return int(w & SlotMask) }

// Version returns the version number field.
func (w Word) Version() uint64 { return uint64(w >> VersionShift) }

// WithReaders returns w with the slot field replaced by n.
func (w Word) WithReaders(n int) Word {
	return (w &^ SlotMask) | (Word(n) & SlotMask)
}

// WithLock returns w with the lock bit set and the owning thread id embedded
// in the slot field.
func (w Word) WithLock(tid int) Word {
	return (w &^ SlotMask) | LockBit | (Word(tid) & SlotMask)
}

// WithVersion returns w with the version number field replaced by v.
func (w Word) WithVersion(v uint64) Word {
	return (w & (VersionInc - 1)) | Word(v)<<VersionShift
}

// ClearLockState returns w with owner id, lock bit, and dirty bit cleared.
// Hint and opacity bits survive.
func (w Word) ClearLockState() Word {
	return w &^ (SlotMask | LockBit | DirtyBit)
}

// Consistent reports whether the word satisfies the core invariant of the
// pessimistic lock: the lock bit and a non-zero reader count are mutually
// exclusive. Only meaningful for words owned by a pessimistic lock; the
// hybrid lock stores a thread id in the slot field while locked.
func (w Word) Consistent() bool {
	return !w.IsLocked() || w.ReaderCount() == 0
}

// String returns a debug representation, e.g. "v42 [locked tid=3 dirty]".
// Not used on hot paths.
func (w Word) String() string {
	s := "v" + strconv.FormatUint(w.Version(), 10)
	flags := ""
	if w.IsLocked() {
		flags += " locked tid=" + strconv.Itoa(w.ThreadID())
	} else if n := w.ReaderCount(); n > 0 {
		flags += " readers=" + strconv.Itoa(n)
	}
	if w.IsDirty() {
		flags += " dirty"
	}
	if w.IsOptimistic() {
		flags += " opt"
	}
	if w.IsNonopaque() {
		flags += " nonopaque"
	}
	if flags == "" {
		return s
	}
	return s + " [" + flags[1:] + "]"
}
