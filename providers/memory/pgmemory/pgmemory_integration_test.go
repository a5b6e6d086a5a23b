//go:build integration

package pgmemory

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
	"github.com/leofalp/shortmem/providers/memory/memorytest"
)

// testPool is a shared connection pool created once in TestMain
// and reused across all integration test functions.
var testPool *pgxpool.Pool

// TestMain spins up a PostgreSQL container via testcontainers-go, creates the
// schema, and tears everything down after all tests complete.
func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shortmem_test"),
		postgres.WithUsername("shortmem"),
		postgres.WithPassword("shortmem"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("pgmemory: failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("pgmemory: failed to get connection string: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("pgmemory: failed to create pool: %v", err)
	}

	// Create the schema once for all tests.
	if err := New(testPool, "setup").EnsureSchema(ctx); err != nil {
		log.Fatalf("pgmemory: failed to create schema: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Printf("pgmemory: failed to terminate container: %v", err)
	}

	os.Exit(code)
}

// newTestMemory returns a PgMemory scoped to a unique session, guaranteeing
// test isolation without needing per-test table cleanup.
func newTestMemory(t *testing.T) *PgMemory {
	t.Helper()
	return New(testPool, "test-"+t.Name())
}

func TestPgMemory_Conformance(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) memory.Provider {
		return newTestMemory(t)
	})
}

// TestPgMemory_SessionIsolation verifies that messages and ids from different
// sessions do not leak into each other.
func TestPgMemory_SessionIsolation(t *testing.T) {
	ctx := context.Background()
	sessionA := New(testPool, "isolation-session-a-"+t.Name())
	sessionB := New(testPool, "isolation-session-b-"+t.Name())

	if err := sessionA.Put(ctx, &ai.Message{ID: "shared", Role: ai.RoleUser, Content: "from A"}); err != nil {
		t.Fatalf("Put for session A returned error: %v", err)
	}
	// The same id in another session is not a duplicate.
	if err := sessionB.Put(ctx, &ai.Message{ID: "shared", Role: ai.RoleUser, Content: "from B"}); err != nil {
		t.Fatalf("Put for session B returned error: %v", err)
	}

	messagesA, err := sessionA.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll for session A returned error: %v", err)
	}
	if len(messagesA) != 1 || messagesA[0].Content != "from A" {
		t.Fatalf("session A should only see its own message, got: %v", messagesA)
	}

	msg, found, err := sessionB.GetByID(ctx, "shared")
	if err != nil {
		t.Fatalf("GetByID for session B returned error: %v", err)
	}
	if !found || msg.Content != "from B" {
		t.Fatalf("session B lookup returned %+v (found=%v)", msg, found)
	}
}

// TestPgMemory_ExternalTransaction verifies that a caller-owned pgx.Tx can be
// used as the Querier and that a rollback discards the batch.
func TestPgMemory_ExternalTransaction(t *testing.T) {
	ctx := context.Background()
	sessionID := "tx-" + t.Name()

	tx, err := testPool.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	inTx := New(tx, sessionID)
	if err := inTx.PutMany(ctx, []*ai.Message{
		{Role: ai.RoleUser, Content: "one"},
		{Role: ai.RoleAssistant, Content: "two"},
	}); err != nil {
		t.Fatalf("PutMany inside transaction returned error: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback returned error: %v", err)
	}

	count, err := New(testPool, sessionID).Count(ctx)
	if err != nil {
		t.Fatalf("Count returned unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rolled back batch to leave no rows, got %d", count)
	}
}

// TestPgMemory_WithTableName verifies that a custom table name is respected.
func TestPgMemory_WithTableName(t *testing.T) {
	ctx := context.Background()
	customTable := "custom_messages"

	mem := New(testPool, "custom-"+t.Name(), WithTableName(customTable))

	// Create the custom table.
	if err := mem.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema for custom table returned error: %v", err)
	}

	if err := mem.Put(ctx, &ai.Message{Role: ai.RoleUser, Content: "custom table test"}); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	count, err := mem.Count(ctx)
	if err != nil {
		t.Fatalf("Count returned unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 message in custom table, got %d", count)
	}

	// Clean up the custom table after the test.
	t.Cleanup(func() {
		_, _ = testPool.Exec(context.Background(), "DROP TABLE IF EXISTS "+customTable)
	})
}
