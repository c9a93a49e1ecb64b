// Package store defines the persistence contract of the delivery queue.
//
// A Repository is the only component allowed to mutate persisted tasks.
// The queue drives every state change through it:
//
//	Put -> pending
//	Claim -> inflight (atomic, one owner)
//	Complete -> removed
//	Requeue -> pending (with updated attempts and NotBefore)
//	DeadLetter -> dead
//	Withdraw -> removed (pending only)
//	Recover -> every inflight task back to pending, attempts unchanged
//
// Three backends are provided: NewKVRepository over any storage.KV (memory
// or files), store/sqlite, and store/redis. Swapping backends does not
// change queue behaviour.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package store
