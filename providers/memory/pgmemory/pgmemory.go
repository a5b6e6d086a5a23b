package pgmemory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
	"github.com/leofalp/shortmem/providers/observability"
)

const (
	// defaultTableName is the PostgreSQL table used when no custom name is provided.
	defaultTableName = "shortmem_messages"

	backendName = "pgmemory"

	// uniqueViolation is the SQLSTATE raised when UNIQUE (session_id, message_id) fails.
	uniqueViolation = "23505"
)

// messageColumns lists the columns read back into an ai.Message, in scan order.
const messageColumns = `message_id, role, content, tool_calls, tool_call_id, name, refusal, reasoning, metadata`

// Querier abstracts the pgx query methods needed by PgMemory.
// Both *pgxpool.Pool and pgx.Tx satisfy this interface, allowing
// callers to inject either a connection pool or a single transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxQuerier extends Querier with transaction support. *pgxpool.Pool satisfies
// this interface but pgx.Tx does not. PutMany attempts a type assertion to
// TxQuerier and runs the batch in its own transaction; with a plain Querier
// the batch runs on the caller's connection or transaction as-is.
type TxQuerier interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgMemory implements [memory.Provider] with PostgreSQL persistence.
// Each instance is scoped to a single session (conversation or thread).
// Writers to the same session take a transaction-scoped advisory lock, so
// concurrent batches are stored contiguously and in commit order.
type PgMemory struct {
	db        Querier
	sessionID string
	tableName string

	idGen    memory.IDGenerator
	observer observability.Provider
}

// Compile-time check: PgMemory must implement memory.Provider.
var _ memory.Provider = (*PgMemory)(nil)

// Option configures optional PgMemory behavior.
type Option func(*PgMemory)

// WithTableName overrides the default table name ("shortmem_messages").
// The name is sanitized via pgx.Identifier to prevent SQL injection,
// since it is interpolated into queries via fmt.Sprintf.
func WithTableName(name string) Option {
	return func(m *PgMemory) {
		m.tableName = pgx.Identifier{name}.Sanitize()
	}
}

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen memory.IDGenerator) Option {
	return func(m *PgMemory) {
		if gen != nil {
			m.idGen = gen
		}
	}
}

// WithObserver reports writes and rejections to observer.
func WithObserver(observer observability.Provider) Option {
	return func(m *PgMemory) {
		m.observer = observer
	}
}

// New creates a PostgreSQL-backed memory provider for the given session.
// The db parameter must be a pgx-compatible query executor (typically
// *pgxpool.Pool). The sessionID scopes all reads and writes to a single
// conversation thread.
func New(db Querier, sessionID string, opts ...Option) *PgMemory {
	pgMemory := &PgMemory{
		db:        db,
		sessionID: sessionID,
		tableName: defaultTableName,
		idGen:     memory.DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt(pgMemory)
	}
	return pgMemory
}

// indexName derives an index name from the table name so that two tables
// configured via WithTableName never share index names.
func (m *PgMemory) indexName(suffix string) string {
	return pgx.Identifier{"idx_" + strings.Trim(m.tableName, `"`) + "_" + suffix}.Sanitize()
}

// Put persists message. See PutMany.
func (m *PgMemory) Put(ctx context.Context, message *ai.Message) error {
	return m.PutMany(ctx, []*ai.Message{message})
}

// PutMany persists messages in order after everything already stored for the
// session. When the underlying db implements TxQuerier (e.g., *pgxpool.Pool),
// the batch is atomic: BEGIN → advisory lock → id checks → INSERTs → COMMIT.
//
// With a plain Querier the same statements run on db directly. If db is a
// pgx.Tx owned by the caller, atomicity is the caller's transaction. If db
// autocommits, a failure part way through leaves the already inserted prefix
// stored; explicit duplicates are still detected before the first INSERT.
func (m *PgMemory) PutMany(ctx context.Context, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, message := range messages {
		if message == nil {
			memory.ObserveRejected(ctx, m.observer, backendName, memory.ErrNilMessage)
			return memory.ErrNilMessage
		}
	}

	var (
		ids []string
		err error
	)
	if txDB, ok := m.db.(TxQuerier); ok {
		ids, err = m.putManyAtomic(ctx, txDB, messages)
	} else {
		ids, err = m.insertBatch(ctx, m.db, messages)
	}
	if err != nil {
		memory.ObserveRejected(ctx, m.observer, backendName, err)
		return err
	}

	memory.StampIDs(messages, ids)
	memory.ObserveStored(ctx, m.observer, backendName, messages, -1)
	return nil
}

// putManyAtomic wraps insertBatch in a transaction so either the whole batch
// is committed or nothing is.
func (m *PgMemory) putManyAtomic(ctx context.Context, txDB TxQuerier, messages []*ai.Message) ([]string, error) {
	tx, err := txDB.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgmemory: put begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	ids, err := m.insertBatch(ctx, tx, messages)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("pgmemory: put commit tx: %w", err)
	}
	return ids, nil
}

// insertBatch locks the session, resolves every id and inserts the rows.
// The advisory lock is released when the surrounding transaction ends.
func (m *PgMemory) insertBatch(ctx context.Context, q Querier, messages []*ai.Message) ([]string, error) {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, m.sessionID); err != nil {
		return nil, fmt.Errorf("pgmemory: lock session: %w", err)
	}

	existsQuery := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE session_id = $1 AND message_id = $2)`, m.tableName)
	exists := func(id string) (bool, error) {
		var found bool
		if err := q.QueryRow(ctx, existsQuery, m.sessionID, id).Scan(&found); err != nil {
			return false, fmt.Errorf("pgmemory: check id: %w", err)
		}
		return found, nil
	}

	ids, err := memory.AssignIDs(messages, m.idGen, exists)
	if err != nil {
		return nil, err
	}

	insertQuery := fmt.Sprintf(`INSERT INTO %s
		(session_id, message_id, role, content, tool_calls, tool_call_id, name, refusal, reasoning, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, m.tableName)

	for i, message := range messages {
		toolCallsJSON, err := marshalNullableJSON(message.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("pgmemory: encode tool calls: %w", err)
		}
		metadataJSON, err := marshalNullableJSON(message.Metadata)
		if err != nil {
			return nil, fmt.Errorf("pgmemory: encode metadata: %w", err)
		}

		_, err = q.Exec(ctx, insertQuery,
			m.sessionID,
			ids[i],
			string(message.Role),
			message.Content,
			toolCallsJSON,
			message.ToolCallID,
			message.Name,
			message.Refusal,
			message.Reasoning,
			metadataJSON,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, &memory.DuplicateIDError{ID: ids[i]}
			}
			return nil, fmt.Errorf("pgmemory: insert message: %w", err)
		}
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// GetAll returns all messages for this session in insertion order
// (ordered by the monotonic seq column).
func (m *PgMemory) GetAll(ctx context.Context) ([]ai.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE session_id = $1 ORDER BY seq ASC`, messageColumns, m.tableName)

	rows, err := m.db.Query(ctx, query, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("pgmemory: get all: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetByID returns the message stored under id in this session. A missing id
// is reported as found == false with a nil error.
func (m *PgMemory) GetByID(ctx context.Context, id string) (ai.Message, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE session_id = $1 AND message_id = $2`, messageColumns, m.tableName)

	msg, err := scanMessage(m.db.QueryRow(ctx, query, m.sessionID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ai.Message{}, false, nil
		}
		return ai.Message{}, false, fmt.Errorf("pgmemory: get by id: %w", err)
	}
	return msg, true, nil
}

// Count returns the number of messages stored for this session.
func (m *PgMemory) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE session_id = $1`, m.tableName)

	var count int
	if err := m.db.QueryRow(ctx, query, m.sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("pgmemory: count: %w", err)
	}
	return count, nil
}

// LastMessages returns the last n messages in chronological order using an
// efficient SQL pattern: fetch the n most recent rows (ORDER BY seq DESC
// LIMIT n), then reverse them so the caller receives oldest-first order.
// Returns an empty slice when n is zero or negative.
func (m *PgMemory) LastMessages(ctx context.Context, n int) ([]ai.Message, error) {
	if n <= 0 {
		return []ai.Message{}, nil
	}

	// Subquery fetches newest-first, outer query re-orders oldest-first.
	query := fmt.Sprintf(`SELECT %s
		FROM (
			SELECT seq, %s
			FROM %s WHERE session_id = $1 ORDER BY seq DESC LIMIT $2
		) sub ORDER BY sub.seq ASC`, messageColumns, messageColumns, m.tableName)

	rows, err := m.db.Query(ctx, query, m.sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("pgmemory: last messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// FilterByRole returns all messages matching the given role for this session,
// in chronological order. Returns an empty slice when no messages match.
func (m *PgMemory) FilterByRole(ctx context.Context, role ai.MessageRole) ([]ai.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE session_id = $1 AND role = $2 ORDER BY seq ASC`, messageColumns, m.tableName)

	rows, err := m.db.Query(ctx, query, m.sessionID, string(role))
	if err != nil {
		return nil, fmt.Errorf("pgmemory: filter by role: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// scanMessages iterates over pgx.Rows and returns a slice of ai.Message.
// Returns an empty non-nil slice when no rows are present.
func scanMessages(rows pgx.Rows) ([]ai.Message, error) {
	messages := []ai.Message{}

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("pgmemory: scan row: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmemory: iterate rows: %w", err)
	}
	return messages, nil
}

// scanMessage reads one row laid out as messageColumns. Nullable TEXT
// columns are scanned as *string; nil means SQL NULL. pgx.ErrNoRows is
// returned unwrapped.
func scanMessage(row pgx.Row) (ai.Message, error) {
	var messageID, role, content string
	var toolCallsJSON, metadataJSON []byte
	var toolCallID, name, refusal, reasoning *string

	if err := row.Scan(
		&messageID, &role, &content, &toolCallsJSON,
		&toolCallID, &name, &refusal, &reasoning, &metadataJSON,
	); err != nil {
		return ai.Message{}, err
	}

	msg := ai.Message{
		ID:         messageID,
		Role:       ai.MessageRole(role),
		Content:    content,
		ToolCallID: derefString(toolCallID),
		Name:       derefString(name),
		Refusal:    derefString(refusal),
		Reasoning:  derefString(reasoning),
	}
	if len(toolCallsJSON) > 0 {
		if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
			return ai.Message{}, fmt.Errorf("decode tool calls of %q: %w", messageID, err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return ai.Message{}, fmt.Errorf("decode metadata of %q: %w", messageID, err)
		}
	}
	return msg, nil
}

// marshalNullableJSON marshals value to JSON, returning nil when the
// underlying slice or map is empty. This maps Go zero-values to SQL NULL
// instead of storing "[]" or "{}" in JSONB columns.
func marshalNullableJSON(value any) ([]byte, error) {
	switch v := value.(type) {
	case []ai.ToolCall:
		if len(v) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(value)
}

// derefString safely dereferences a *string, returning "" for nil.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
