// Copyright 2025 The stmlock Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package threadid implements the thread-identity and randomness service
// consumed by the versioned locks and the contention manager.
//
// Every worker goroutine that participates in transactions registers with a
// Registry and receives a small integer slot (0..vword.MaxThreads-1). The
// slot is the goroutine's identity everywhere else in the system: it is
// embedded into hybrid lock words, indexes the contention manager's padded
// slot array, and selects the per-thread random generator that drives the
// adaptive unlock heuristic and backoff.
//
// Slots are a fixed small resource. They are handed out from a free list and
// must be returned with Release when a worker exits; Acquire fails once all
// slots are taken.
package threadid

import (
	"math/rand/v2"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/petermattis/goid"

	"github.com/kolganov/stmlock/internal/stm/vword"
)

// Source supplies per-thread randomness for the adaptive unlock heuristic
// and the contention manager's backoff. The contract is only "Uint64 returns
// the next value; Chance(p) is true with probability p". Tests inject
// deterministic sources, production slots get an independent PCG each.
type Source interface {
	// Uint64 returns the next random value.
	Uint64() uint64

	// Chance reports true with probability p (0 <= p <= 1).
	Chance(p float64) bool
}

// pcgSource is the default Source: an independent PCG per slot.
type pcgSource struct {
	rng *rand.Rand
}

// NewPCG returns the default per-slot Source, seeded deterministically from
// the two given values.
func NewPCG(seed1, seed2 uint64) Source {
	return &pcgSource{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

func (s *pcgSource) Uint64() uint64 { return s.rng.Uint64() }

func (s *pcgSource) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.rng.Float64() < p
}

// Registry maps goroutines to thread slots and owns the per-slot random
// generators.
//
// Slot allocation mirrors a fixed free-list pool: slots are popped on
// Acquire and pushed back on Release, so ids stay small and dense, which is
// what the contention manager's slot array and the lock words' 7-bit slot
// field require.
type Registry struct {
	mu    sync.Mutex
	free  []int         // available slots, popped from the tail
	byGID map[int64]int // registered goroutines: goid -> slot
	gens  [vword.MaxThreads]Source
}

// NewRegistry returns a registry with all vword.MaxThreads slots free and a
// deterministic default generator installed per slot.
func NewRegistry() *Registry {
	r := &Registry{
		free:  make([]int, 0, vword.MaxThreads),
		byGID: make(map[int64]int),
	}
	// Free list in reverse so slot 0 is handed out first.
	for i := vword.MaxThreads - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	for i := range r.gens {
		r.gens[i] = NewPCG(uint64(i)+1, 0x9e3779b97f4a7c15)
	}
	return r
}

// Acquire registers the calling goroutine and returns its slot. It fails
// once all slots are taken or if the goroutine is already registered.
func (r *Registry) Acquire() (int, error) {
	gid := goid.Get()
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.byGID[gid]; ok {
		return slot, errors.Newf("threadid: goroutine %d already holds slot %d", gid, slot)
	}
	if len(r.free) == 0 {
		return -1, errors.Newf("threadid: all %d thread slots in use", vword.MaxThreads)
	}
	slot := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.byGID[gid] = slot
	return slot, nil
}

// Release returns the calling goroutine's slot to the pool. Releasing from
// an unregistered goroutine is a programming error.
func (r *Registry) Release() {
	gid := goid.Get()
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.byGID[gid]
	if !ok {
		panic("threadid: Release from unregistered goroutine")
	}
	delete(r.byGID, gid)
	r.free = append(r.free, slot)
}

// Current returns the calling goroutine's slot. The goroutine must have
// registered with Acquire first; calling Current unregistered is a
// programming error.
func (r *Registry) Current() int {
	gid := goid.Get()
	r.mu.Lock()
	slot, ok := r.byGID[gid]
	r.mu.Unlock()
	if !ok {
		panic("threadid: Current from unregistered goroutine")
	}
	return slot
}

// Gen returns the random source owned by the given slot.
func (r *Registry) Gen(slot int) Source {
	return r.gens[slot]
}

// SetGen replaces the random source for a slot. Intended for tests that
// need a deterministic source behind the probabilistic paths.
func (r *Registry) SetGen(slot int, s Source) {
	r.gens[slot] = s
}
