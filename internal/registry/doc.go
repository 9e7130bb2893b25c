// Package registry holds the authoritative in-memory state of every
// operation. It is the only component allowed to mutate an operation, and it
// enforces the single terminal write: once an operation is succeeded, failed,
// timed out or cancelled, every further transition is rejected with
// ErrAlreadyTerminal.
//
// Operations are spread across lock shards keyed by id so that unrelated
// operations never contend on a single mutex.
package registry
