// Package memory defines the Provider interface for short-term conversation
// memory. A provider keeps an ordered list of [ai.Message] values, stamps an
// identifier on every message stored without one, and answers "everything in
// insertion order" and "message by id" queries.
//
// Identifier generation is pluggable through [IDGenerator]: [UUIDGenerator]
// is the default and [SequenceGenerator] gives deterministic ids for tests.
// Storing an explicit id that is already present fails with a
// [*DuplicateIDError]; absence on lookup is reported with a false flag, never
// an error.
//
// The bundled reference implementation lives in the sibling package
// [github.com/leofalp/shortmem/providers/memory/inmemory]; persistent backends
// live in pgmemory, sqlitememory and redismemory.
package memory
