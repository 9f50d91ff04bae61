// Package stmlock provides the public API for the STM versioned-lock and
// contention-manager core.
//
// The concurrency substrate lives in internal packages; this package exposes
// it through type aliases plus a minimal transaction harness (Runtime, Txn,
// TArray) implementing the collaborator surface the locks consume. The
// harness supplies encounter-time write locking, commit-time validation of
// optimistic reads, and contention-manager driven retry; the full
// cross-object commit ordering protocol of a complete STM remains with the
// embedding system.
package stmlock

import (
	"github.com/kolganov/stmlock/internal/stm/cm"
	"github.com/kolganov/stmlock/internal/stm/threadid"
	"github.com/kolganov/stmlock/internal/stm/vlock"
	"github.com/kolganov/stmlock/internal/stm/vword"
)

// Word is the bit-packed version word shared per transactional object.
type Word = vword.Word

// Response is the closed set of lock-acquisition outcomes.
type Response = vlock.Response

// Lock-acquisition outcomes.
const (
	Locked     = vlock.Locked
	Failed     = vlock.Failed
	Optimistic = vlock.Optimistic
	Spin       = vlock.Spin
)

// LockVersion is the pessimistic reader/writer versioned lock.
type LockVersion = vlock.LockVersion

// SwissVersion is the hybrid optimistic-read, pessimistic-commit lock.
type SwissVersion = vlock.SwissVersion

// ObjectLock is the strategy surface shared by the two lock flavors.
type ObjectLock = vlock.ObjectLock

// TrackedItem is the lock-side view of a per-object access record.
type TrackedItem = vlock.TrackedItem

// Policy selects the pessimistic lock's unlock behavior.
type Policy = vlock.Policy

// Manager is the contention manager.
type Manager = cm.Manager

// ManagerOptions are the contention-manager policy knobs.
type ManagerOptions = cm.Options

// Registry is the thread-identity and randomness service.
type Registry = threadid.Registry

// Source supplies per-thread randomness.
type Source = threadid.Source

// UnassignedTS is the priority sentinel of an attempt that has not yet
// claimed a timestamp.
const UnassignedTS = cm.UnassignedTS

// MaxReaders is the pessimistic lock's bounded reader-slot count.
const MaxReaders = vword.MaxReaders

// MaxThreads is the thread-slot capacity of a Registry.
const MaxThreads = vword.MaxThreads

// NewLockVersion returns a pessimistic lock whose word starts at v.
func NewLockVersion(v Word) *LockVersion { return vlock.NewLockVersion(v) }

// NewSwissVersion returns an unlocked hybrid lock, optionally opaque.
func NewSwissVersion(opaque bool) *SwissVersion { return vlock.NewSwissVersion(opaque) }

// NewInsertedSwissVersion returns a hybrid lock for a freshly inserted
// object, already owned by the creating thread.
func NewInsertedSwissVersion(v Word, tid int, opaque bool) *SwissVersion {
	return vlock.NewInsertedSwissVersion(v, tid, opaque)
}

// NewManager returns a contention manager with the given policy knobs.
func NewManager(opts ManagerOptions) *Manager { return cm.New(opts) }

// DefaultManagerOptions returns the stock contention-manager policy.
func DefaultManagerOptions() ManagerOptions { return cm.DefaultOptions() }

// NewRegistry returns a thread-slot registry with all slots free.
func NewRegistry() *Registry { return threadid.NewRegistry() }

// SetPolicy installs the process-wide pessimistic-lock policy. Call once at
// startup, before any lock is exercised.
func SetPolicy(p Policy) { vlock.SetPolicy(p) }

// ActivePolicy returns the process-wide pessimistic-lock policy.
func ActivePolicy() Policy { return vlock.ActivePolicy() }
