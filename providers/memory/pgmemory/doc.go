// Package pgmemory provides a PostgreSQL-backed implementation of the
// [memory.Provider] interface for persisting chat message history across
// process restarts. Each [PgMemory] instance is scoped to a single session
// (conversation or thread), and uses pgx/v5 for efficient, pool-safe queries.
//
// Message ids are unique per session, enforced by a UNIQUE constraint, and
// insertion order is the BIGSERIAL seq column. Writers to the same session are
// serialized with a transaction-scoped advisory lock so concurrent batches
// never interleave.
//
// The main entry point is [New], which returns a ready-to-use [PgMemory]
// bound to a specific session. Use [PgMemory.EnsureSchema] during development
// to auto-create the required table; production deployments should manage
// schema migrations with dedicated tooling (goose, migrate, etc.).
package pgmemory
