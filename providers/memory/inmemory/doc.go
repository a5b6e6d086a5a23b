// Package inmemory provides a concurrency-safe, slice-backed implementation
// of the [memory.Provider] interface for storing chat message history in
// process memory. Messages are kept in insertion order alongside an id index,
// so lookups by identifier are constant time regardless of history length.
// It is designed for single-process use cases where persistence across
// restarts is not required.
// The main entry point is [New], which returns a ready-to-use [ArrayMemory].
package inmemory
