// Copyright 2025 The stmlock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stmlock

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/kolganov/stmlock/internal/stm/cm"
	"github.com/kolganov/stmlock/internal/stm/threadid"
	"github.com/kolganov/stmlock/internal/stm/vlock"
	"github.com/kolganov/stmlock/internal/stm/vword"
)

// ErrConflict signals that the current attempt lost a conflict and must
// abort. Atomically treats it as a retry request; any other error aborts the
// transaction and propagates.
var ErrConflict = errors.New("stmlock: transaction conflict")

// Runtime bundles the thread registry, the contention manager, and the
// commit-version clock into one transaction-running context.
type Runtime struct {
	reg *threadid.Registry
	mgr *cm.Manager

	// clock issues commit version numbers stamped into object words.
	clock atomic.Uint64

	commits atomic.Uint64
	aborts  atomic.Uint64
}

// NewRuntime returns a runtime with a fresh registry and a contention
// manager configured by opts.
func NewRuntime(opts ManagerOptions) *Runtime {
	return &Runtime{
		reg: threadid.NewRegistry(),
		mgr: cm.New(opts),
	}
}

// Register claims a thread slot for the calling goroutine. Every goroutine
// that runs transactions must register first and Unregister when done.
func (rt *Runtime) Register() (int, error) { return rt.reg.Acquire() }

// Unregister returns the calling goroutine's slot to the pool.
func (rt *Runtime) Unregister() { rt.reg.Release() }

// Registry exposes the runtime's thread-identity service.
func (rt *Runtime) Registry() *Registry { return rt.reg }

// Manager exposes the runtime's contention manager.
func (rt *Runtime) Manager() *Manager { return rt.mgr }

// Stats is a snapshot of the runtime's transaction counters.
type Stats struct {
	Commits uint64
	Aborts  uint64
}

// Stats returns the current commit/abort counters.
func (rt *Runtime) Stats() Stats {
	return Stats{Commits: rt.commits.Load(), Aborts: rt.aborts.Load()}
}

// Atomically runs fn in a transaction, retrying with contention-manager
// backoff until a conflict-free attempt commits. A non-conflict error from
// fn aborts the transaction and is returned as-is.
func (rt *Runtime) Atomically(fn func(*Txn) error) error {
	restarted := false
	for {
		t := rt.begin(restarted)
		err := fn(t)
		switch {
		case err == nil:
			if t.commit() {
				return nil
			}
		case errors.Is(err, ErrConflict):
			t.abort(true)
		default:
			t.abort(false)
			return err
		}
		restarted = true
	}
}

func (rt *Runtime) begin(restarted bool) *Txn {
	tid := rt.reg.Current()
	rt.mgr.Start(tid, restarted)
	return &Txn{
		rt:        rt,
		tid:       tid,
		gen:       rt.reg.Gen(tid),
		restarted: restarted,
	}
}

// Txn is one transaction attempt: the concrete realization of the
// transaction collaborator the locks and the contention manager consume. It
// tracks one Item per touched object, write-locks eagerly at encounter time,
// and validates optimistic reads at commit.
type Txn struct {
	rt        *Runtime
	tid       int
	gen       threadid.Source
	restarted bool
	items     []*Item
}

// ThreadID returns the small integer slot identifying this attempt's thread.
func (t *Txn) ThreadID() int { return t.tid }

// IsRestarted reports whether this attempt restarts a prior logical
// transaction.
func (t *Txn) IsRestarted() bool { return t.restarted }

// Item is one tracked per-object access record. It implements TrackedItem
// for the locks' commit hooks.
type Item struct {
	lock       vlock.ObjectLock
	hasRead    bool
	hasWrite   bool
	readLocked bool       // pessimistic read lock currently held
	observed   vword.Word // word recorded for optimistic validation
	pending    any        // value written by this attempt, for read-your-writes
	apply      func()     // publishes pending while the write lock is held
}

// NeedsUnlock implements TrackedItem.
func (it *Item) NeedsUnlock() bool { return it.readLocked || it.hasWrite }

// HasWrite implements TrackedItem.
func (it *Item) HasWrite() bool { return it.hasWrite }

// HasRead implements TrackedItem.
func (it *Item) HasRead() bool { return it.hasRead }

// lookup returns the existing item for l, or nil.
func (t *Txn) lookup(l vlock.ObjectLock) *Item {
	for _, it := range t.items {
		if it.lock == l {
			return it
		}
	}
	return nil
}

func (t *Txn) item(l vlock.ObjectLock) *Item {
	if it := t.lookup(l); it != nil {
		return it
	}
	it := &Item{lock: l}
	t.items = append(t.items, it)
	return it
}

// Read tracks a read of the object guarded by l. Depending on the flavor it
// either takes a bounded read lock or records the observed word for commit
// validation. Returns ErrConflict when a writer is present or the object is
// mid-commit.
func (t *Txn) Read(l vlock.ObjectLock) error {
	it := t.item(l)
	if it.hasRead || it.hasWrite {
		return nil
	}
	w, resp := l.ObserveRead()
	switch resp {
	case vlock.Locked:
		it.readLocked = true
	case vlock.Optimistic:
		// A word already marked dirty or owned elsewhere is doomed to fail
		// validation; abort now rather than at commit.
		if w.IsDirty() || w.IsLocked() {
			return ErrConflict
		}
		it.observed = w
	default:
		return ErrConflict
	}
	it.hasRead = true
	return nil
}

// Write acquires the object's write lock at encounter time and registers the
// pending value. apply must publish pending to the object's storage; it runs
// during commit while the lock is still held.
func (t *Txn) Write(l vlock.ObjectLock, pending any, apply func()) error {
	it := t.item(l)
	if !it.hasWrite {
		if it.readLocked {
			// Read-then-write on the pessimistic flavor upgrades in place.
			lv, ok := l.(*vlock.LockVersion)
			if !ok || lv.TryUpgrade() != vlock.Locked {
				return ErrConflict
			}
			it.readLocked = false
			it.hasWrite = true
		} else {
			if l.AcquireWrite(t.tid) != vlock.Locked {
				return ErrConflict
			}
			// The lock is held from here on; release() unlocks it on abort.
			it.hasWrite = true
			// An optimistic read promoted to a write is only as fresh as the
			// word it recorded. Recheck it under the lock: a commit that
			// landed between the observation and this acquisition bumped the
			// version, and writing over it would lose that update.
			if it.hasRead && l.Load().Version() != it.observed.Version() {
				return ErrConflict
			}
		}
		t.rt.mgr.OnWrite(t.tid)
	}
	it.pending = pending
	it.apply = apply
	return nil
}

// commit runs the commit phase: mark hybrid write items as mid-commit,
// validate optimistic reads, publish pending values and stamp the commit
// version, then release every held lock. Returns false after an internal
// abort (with backoff) when validation fails.
func (t *Txn) commit() bool {
	// Hybrid write items flip their dirty bit so optimistic readers see the
	// commit in flight. Pessimistic write items already hold the write lock
	// from encounter time and must not be commit-locked again.
	for _, it := range t.items {
		if !it.hasWrite {
			continue
		}
		if sv, ok := it.lock.(*vlock.SwissVersion); ok {
			sv.CommitTryLock(t.tid)
		}
	}

	for _, it := range t.items {
		if it.hasRead && !it.readLocked && !it.hasWrite {
			if !it.lock.Validate(it.observed) {
				t.abort(true)
				return false
			}
		}
	}

	v := t.rt.clock.Add(1)
	for _, it := range t.items {
		if it.hasWrite {
			it.apply()
			it.lock.StampVersion(v)
		}
	}

	t.release()
	t.rt.commits.Add(1)
	return true
}

// abort releases every held lock and, when the abort came from a conflict,
// charges the contention manager's randomized backoff before returning.
func (t *Txn) abort(backoff bool) {
	t.release()
	t.rt.aborts.Add(1)
	if backoff {
		t.rt.mgr.OnRollback(t.tid)
	}
}

func (t *Txn) release() {
	for _, it := range t.items {
		if it.NeedsUnlock() {
			it.lock.CommitUnlock(it, t.gen)
			it.readLocked = false
			it.hasWrite = false
		}
	}
}
