// Copyright 2025 The stmlock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cm implements the contention manager: per-thread conflict-history
// state and the policy that decides backoff duration after an abort and
// transaction priority via monotonically increasing timestamps.
//
// Each thread owns one slot, indexed by its thread id and padded to a full
// cache line so no two slots share a line. Slots are written only by their
// owning thread; the single genuinely shared mutable value is the global
// timestamp counter, advanced only by atomic fetch-and-add. The remote-abort
// flag is the one slot field another thread may touch, so it is atomic.
package cm

import (
	"sync/atomic"

	"github.com/kolganov/stmlock/internal/stm/spin"
	"github.com/kolganov/stmlock/internal/stm/threadid"
	"github.com/kolganov/stmlock/internal/stm/vword"
)

// UnassignedTS is the sentinel priority of a transaction that has not yet
// invested enough work to claim a timestamp. Lower timestamps win conflicts,
// so the sentinel is the lowest possible priority.
const UnassignedTS = ^uint64(0)

// Options are the contention-manager policy knobs. They tune behavior under
// contention; changing them does not break the protocol.
type Options struct {
	// TSThreshold is the write-set size at which an attempt claims a
	// priority timestamp from the global counter.
	TSThreshold uint64

	// SuccAbortsMax caps the consecutive-abort counter, bounding backoff
	// growth after many aborts of the same logical transaction.
	SuccAbortsMax uint64

	// WaitCyclesMultiplicator scales the backoff range: after n consecutive
	// aborts the wait is drawn uniformly from [0, n*WaitCyclesMultiplicator).
	WaitCyclesMultiplicator uint64
}

// DefaultOptions returns the stock policy values.
func DefaultOptions() Options {
	return Options{
		TSThreshold:             10,
		SuccAbortsMax:           10,
		WaitCyclesMultiplicator: 8000,
	}
}

// cacheLineSize spaces the per-thread slots so threads updating their own
// slot never contend on a line.
const cacheLineSize = 64

// slot is one thread's contention state. Written only by the owning thread,
// except the atomic aborted flag.
type slot struct {
	timestamp    uint64
	writeSetSize uint64
	abortCount   uint64
	rng          threadid.Source
	aborted      atomic.Uint32

	_ [cacheLineSize - 44]byte
}

// Manager is the process-wide contention manager.
type Manager struct {
	opts Options

	// ts is the global monotonically increasing timestamp counter, the only
	// cross-thread contention point in this component.
	ts atomic.Uint64

	slots [vword.MaxThreads]slot
}

// New returns a manager with one slot per thread and an independent default
// random source installed in each.
func New(opts Options) *Manager {
	if opts.TSThreshold == 0 || opts.SuccAbortsMax == 0 || opts.WaitCyclesMultiplicator == 0 {
		panic("cm: options must be non-zero")
	}
	m := &Manager{opts: opts}
	for i := range m.slots {
		m.slots[i].timestamp = UnassignedTS
		m.slots[i].rng = threadid.NewPCG(uint64(i)+1, 0x2545f4914f6cdd1d)
	}
	return m
}

// Start resets tid's slot for a new transaction attempt. The timestamp
// returns to the unassigned sentinel and the write-set counter to zero. When
// the attempt restarts the same logical transaction, the consecutive-abort
// counter survives so backoff keeps growing across retries; a brand-new
// transaction clears it too.
func (m *Manager) Start(tid int, restarted bool) {
	s := &m.slots[tid]
	s.timestamp = UnassignedTS
	s.writeSetSize = 0
	s.aborted.Store(0)
	if !restarted {
		s.abortCount = 0
	}
}

// OnWrite records one successful write acquisition. The first time the
// write-set size reaches TSThreshold within an attempt whose timestamp is
// still unassigned, the next value of the global counter is claimed as this
// thread's priority timestamp. Large transactions thereby become high
// priority and are expected (by the caller's convention) to win conflicts,
// so they are not perpetually starved by small ones.
func (m *Manager) OnWrite(tid int) {
	s := &m.slots[tid]
	s.writeSetSize++
	if s.timestamp == UnassignedTS && s.writeSetSize == m.opts.TSThreshold {
		s.timestamp = m.ts.Add(1) - 1
	}
}

// OnRollback records an abort of tid's attempt: the consecutive-abort
// counter rises to its cap, and the thread busy-waits a duration drawn
// uniformly from a range that scales with the capped counter, using the
// thread's own random state. Returns the number of cycles waited.
func (m *Manager) OnRollback(tid int) uint64 {
	s := &m.slots[tid]
	if s.abortCount < m.opts.SuccAbortsMax {
		s.abortCount++
	}
	cycles := s.rng.Uint64() % (s.abortCount * m.opts.WaitCyclesMultiplicator)
	spin.WaitCycles(cycles)
	return cycles
}

// Timestamp returns tid's assigned priority, or UnassignedTS.
func (m *Manager) Timestamp(tid int) uint64 {
	return m.slots[tid].timestamp
}

// AbortCount returns tid's consecutive-abort counter.
func (m *Manager) AbortCount(tid int) uint64 {
	return m.slots[tid].abortCount
}

// WriteSetSize returns the number of successful writes in tid's current
// attempt.
func (m *Manager) WriteSetSize(tid int) uint64 {
	return m.slots[tid].writeSetSize
}

// SetAborted flags tid's attempt as aborted by another transaction. Safe to
// call from any thread.
func (m *Manager) SetAborted(tid int) {
	m.slots[tid].aborted.Store(1)
}

// Aborted reports whether tid's attempt was flagged for abort.
func (m *Manager) Aborted(tid int) bool {
	return m.slots[tid].aborted.Load() != 0
}

// SetSource replaces tid's random source. Intended for tests that need the
// probabilistic backoff pinned to a deterministic sequence.
func (m *Manager) SetSource(tid int, src threadid.Source) {
	m.slots[tid].rng = src
}
