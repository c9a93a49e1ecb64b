// Package storage defines the durable key-value surface the delivery queue
// persists to.
//
// A KV keeps byte values under string keys and must survive process
// restarts for anything other than tests. Two backends ship with eventship:
//
//   - memory: process-local map, for tests and ephemeral sessions.
//   - file: one file per key under a directory, written atomically.
//
// The queue never talks to a KV directly; it goes through
// store.NewKVRepository, which owns the persisted-state layout.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package storage
