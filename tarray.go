package stmlock

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/kolganov/stmlock/internal/stm/vlock"
)

// Flavor selects the versioned-lock discipline guarding each element of a
// transactional container.
type Flavor int

const (
	// FlavorLock guards elements with the pessimistic reader/writer lock.
	FlavorLock Flavor = iota

	// FlavorSwiss guards elements with the hybrid optimistic-commit lock.
	FlavorSwiss
)

// TArray is a fixed-capacity array adapted to transactional access: one
// version word per element, values published through an atomic pointer so
// optimistic readers never observe a torn value. It is the minimal concrete
// consumer of the lock strategy surface, used by the integration tests and
// the stress harness.
type TArray[T any] struct {
	locks []vlock.ObjectLock
	vals  []atomic.Pointer[T]
}

// NewTArray returns a transactional array of n zero-valued elements guarded
// by the given lock flavor. opaque applies to the hybrid flavor only.
func NewTArray[T any](n int, flavor Flavor, opaque bool) *TArray[T] {
	a := &TArray[T]{
		locks: make([]vlock.ObjectLock, n),
		vals:  make([]atomic.Pointer[T], n),
	}
	for i := 0; i < n; i++ {
		if flavor == FlavorSwiss {
			a.locks[i] = vlock.NewSwissVersion(opaque)
		} else {
			a.locks[i] = vlock.NewLockVersion(0)
		}
		a.vals[i].Store(new(T))
	}
	return a
}

// Len returns the array capacity.
func (a *TArray[T]) Len() int { return len(a.locks) }

// UnsafePut stores v at index i with no transactional protection. Setup and
// single-threaded use only.
func (a *TArray[T]) UnsafePut(i int, v T) {
	a.vals[i].Store(&v)
}

// UnsafeGet reads index i with no transactional protection.
func (a *TArray[T]) UnsafeGet(i int) T {
	return *a.vals[i].Load()
}

// TransGet reads index i within t. A value written earlier in the same
// attempt is returned directly (read-your-writes); otherwise the read is
// tracked through the element's lock and the current value returned.
func (a *TArray[T]) TransGet(t *Txn, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(a.locks) {
		return zero, errors.Newf("stmlock: index %d out of range [0,%d)", i, len(a.locks))
	}
	if it := t.lookup(a.locks[i]); it != nil && it.hasWrite {
		return it.pending.(T), nil
	}
	if err := t.Read(a.locks[i]); err != nil {
		return zero, err
	}
	return *a.vals[i].Load(), nil
}

// TransPut writes v at index i within t. The element's write lock is taken
// at encounter time; the value is published at commit.
func (a *TArray[T]) TransPut(t *Txn, i int, v T) error {
	if i < 0 || i >= len(a.locks) {
		return errors.Newf("stmlock: index %d out of range [0,%d)", i, len(a.locks))
	}
	return t.Write(a.locks[i], v, func() {
		a.vals[i].Store(&v)
	})
}

// Lock exposes the version lock guarding element i, for callers that drive
// the primitives directly.
func (a *TArray[T]) Lock(i int) vlock.ObjectLock {
	return a.locks[i]
}
