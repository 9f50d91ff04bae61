// Package vlock implements the two versioned-lock flavors over the shared
// version word (package vword):
//
//   - LockVersion: a pessimistic reader/writer lock. Readers take one of 16
//     bounded reader slots before work begins; at slot exhaustion a reader
//     degrades to optimistic mode and revalidates later instead of blocking.
//     An optional adaptive heuristic probabilistically sets the word's
//     optimistic hint bit on unlock, letting lightly written objects drift
//     toward lock-free reads.
//
//   - SwissVersion: a hybrid single-owner lock. Writers claim exclusive
//     ownership by embedding their thread id in the word; readers never lock
//     at all; they record the observed word and revalidate at commit time.
//     The commit phase marks the word with a dirty bit so optimistic readers
//     can detect a commit in flight.
//
// Every transition is a lock-free retry loop: read the current word, compute
// a candidate, compare-and-swap, relax and retry on mismatch. Nothing in
// this package blocks, sleeps, or takes a mutex. Acquisition outcomes are
// control-flow signals (Response values), never errors. Violated
// preconditions (unlocking a word that is not held, commit-locking an
// object the caller does not own) panic, because correct callers can never
// reach them.
//
// Retry, backoff, and abort decisions live with the caller: the enclosing
// transaction decides how long to spin on Spin responses and consults the
// contention manager (package cm) after an abort.
package vlock
