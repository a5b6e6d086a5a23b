package pgmemory

import (
	"context"
	"fmt"
)

// createTableSQL is the DDL statement that creates the messages table.
// All ai.Message fields are persisted so that messages read back are equal to
// the ones stored.
//
// The seq column (BIGSERIAL) provides monotonic ordering within a session,
// avoiding timestamp collisions from rapid-fire messages within the same
// microsecond. message_id is the caller-visible identifier.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    seq             BIGSERIAL PRIMARY KEY,
    session_id      TEXT NOT NULL,
    message_id      TEXT NOT NULL,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL DEFAULT '',
    tool_calls      JSONB,
    tool_call_id    TEXT,
    name            TEXT,
    refusal         TEXT,
    reasoning       TEXT,
    metadata        JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (session_id, message_id)
)`

// createSessionSeqIndexSQL creates the primary lookup index: all messages
// for a session ordered by insertion sequence.
const createSessionSeqIndexSQL = `CREATE INDEX IF NOT EXISTS %s
    ON %s (session_id, seq)`

// createSessionRoleIndexSQL creates an index for role-based filtering
// within a session (used by FilterByRole).
const createSessionRoleIndexSQL = `CREATE INDEX IF NOT EXISTS %s
    ON %s (session_id, role)`

// EnsureSchema creates the messages table and its indexes if they do not
// already exist. This is a convenience helper for development and
// prototyping; production deployments should use proper migration tooling
// (goose, golang-migrate, etc.) to manage schema changes.
func (m *PgMemory) EnsureSchema(ctx context.Context) error {
	tableSQL := fmt.Sprintf(createTableSQL, m.tableName)
	if _, err := m.db.Exec(ctx, tableSQL); err != nil {
		return fmt.Errorf("pgmemory: create table: %w", err)
	}

	seqIdxSQL := fmt.Sprintf(createSessionSeqIndexSQL, m.indexName("session_seq"), m.tableName)
	if _, err := m.db.Exec(ctx, seqIdxSQL); err != nil {
		return fmt.Errorf("pgmemory: create session_seq index: %w", err)
	}

	roleIdxSQL := fmt.Sprintf(createSessionRoleIndexSQL, m.indexName("session_role"), m.tableName)
	if _, err := m.db.Exec(ctx, roleIdxSQL); err != nil {
		return fmt.Errorf("pgmemory: create session_role index: %w", err)
	}

	return nil
}
