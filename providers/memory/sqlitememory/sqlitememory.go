package sqlitememory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
	"github.com/leofalp/shortmem/providers/observability"
)

const backendName = "sqlitememory"

const messageColumns = `message_id, role, content, tool_calls, tool_call_id, name, refusal, reasoning, metadata`

// SQLiteMemory stores the messages of one session in a SQLite database.
// Writes from the same process are serialized; writes from other processes
// are serialized by SQLite itself when the DSN requests immediate
// transactions (see DSNForFile).
type SQLiteMemory struct {
	db        *sql.DB
	sessionID string

	writeMu  sync.Mutex
	idGen    memory.IDGenerator
	observer observability.Provider
}

var _ memory.Provider = (*SQLiteMemory)(nil)

// Option configures optional SQLiteMemory behavior.
type Option func(*SQLiteMemory)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen memory.IDGenerator) Option {
	return func(s *SQLiteMemory) {
		if gen != nil {
			s.idGen = gen
		}
	}
}

// WithObserver reports writes and rejections to observer.
func WithObserver(observer observability.Provider) Option {
	return func(s *SQLiteMemory) {
		s.observer = observer
	}
}

// New opens dsn, creates the schema if needed and returns a store scoped to
// sessionID.
func New(dsn, sessionID string, opts ...Option) (*SQLiteMemory, error) {
	if dsn == "" {
		return nil, errors.New("sqlitememory: empty dsn")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("sqlitememory: empty session id")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitememory: open")
	}
	s := &SQLiteMemory{
		db:        db,
		sessionID: sessionID,
		idGen:     memory.DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DSNForFile returns a go-sqlite3 DSN for the database file at path.
func DSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlitememory: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	// Immediate transactions take the write lock at BEGIN.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

// Close closes the underlying database.
func (s *SQLiteMemory) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteMemory) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shortmem_messages (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  session_id TEXT NOT NULL,
		  message_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL DEFAULT '',
		  tool_calls TEXT,
		  tool_call_id TEXT NOT NULL DEFAULT '',
		  name TEXT NOT NULL DEFAULT '',
		  refusal TEXT NOT NULL DEFAULT '',
		  reasoning TEXT NOT NULL DEFAULT '',
		  metadata TEXT,
		  created_at_ms INTEGER NOT NULL,
		  UNIQUE (session_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS shortmem_messages_by_session
		  ON shortmem_messages(session_id, seq);`,
		`CREATE INDEX IF NOT EXISTS shortmem_messages_by_role
		  ON shortmem_messages(session_id, role, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrap(err, "sqlitememory: migrate")
		}
	}
	return nil
}

// Put persists message. See PutMany.
func (s *SQLiteMemory) Put(ctx context.Context, message *ai.Message) error {
	return s.PutMany(ctx, []*ai.Message{message})
}

// PutMany persists messages, in order, in one transaction. Nothing is stored
// and no message is modified when any id conflicts.
func (s *SQLiteMemory) PutMany(ctx context.Context, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	s.writeMu.Lock()
	ids, err := s.insertBatch(ctx, messages)
	s.writeMu.Unlock()
	if err != nil {
		memory.ObserveRejected(ctx, s.observer, backendName, err)
		return err
	}

	memory.StampIDs(messages, ids)
	memory.ObserveStored(ctx, s.observer, backendName, messages, -1)
	return nil
}

func (s *SQLiteMemory) insertBatch(ctx context.Context, messages []*ai.Message) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitememory: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	exists := func(id string) (bool, error) {
		var found bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM shortmem_messages WHERE session_id = ? AND message_id = ?)
		`, s.sessionID, id).Scan(&found)
		if err != nil {
			return false, errors.Wrap(err, "sqlitememory: check id")
		}
		return found, nil
	}

	ids, err := memory.AssignIDs(messages, s.idGen, exists)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	for i, message := range messages {
		toolCallsJSON, err := marshalNullableJSON(message.ToolCalls)
		if err != nil {
			return nil, errors.Wrap(err, "sqlitememory: marshal tool calls")
		}
		metadataJSON, err := marshalNullableJSON(message.Metadata)
		if err != nil {
			return nil, errors.Wrap(err, "sqlitememory: marshal metadata")
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO shortmem_messages(
				session_id, message_id, role, content, tool_calls, tool_call_id, name, refusal, reasoning, metadata, created_at_ms
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, s.sessionID, ids[i], string(message.Role), message.Content, toolCallsJSON,
			message.ToolCallID, message.Name, message.Refusal, message.Reasoning, metadataJSON, now); err != nil {
			if isUniqueViolation(err) {
				return nil, &memory.DuplicateIDError{ID: ids[i]}
			}
			return nil, errors.Wrap(err, "sqlitememory: insert message")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "sqlitememory: commit tx")
	}
	committed = true
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// GetAll returns every message of the session in insertion order.
func (s *SQLiteMemory) GetAll(ctx context.Context) ([]ai.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM shortmem_messages
		WHERE session_id = ?
		ORDER BY seq ASC
	`, s.sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitememory: get all")
	}
	return scanMessages(rows)
}

// GetByID returns the message stored under id, with found == false when the
// session holds no such id.
func (s *SQLiteMemory) GetByID(ctx context.Context, id string) (ai.Message, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM shortmem_messages
		WHERE session_id = ? AND message_id = ?
	`, s.sessionID, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ai.Message{}, false, nil
	}
	if err != nil {
		return ai.Message{}, false, errors.Wrap(err, "sqlitememory: get by id")
	}
	return msg, true, nil
}

// Count returns the number of messages in the session.
func (s *SQLiteMemory) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM shortmem_messages WHERE session_id = ?
	`, s.sessionID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "sqlitememory: count")
	}
	return count, nil
}

// LastMessages returns the last n messages, oldest first.
func (s *SQLiteMemory) LastMessages(ctx context.Context, n int) ([]ai.Message, error) {
	if n <= 0 {
		return []ai.Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT seq, `+messageColumns+`
			FROM shortmem_messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`, s.sessionID, n)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitememory: last messages")
	}
	return scanMessages(rows)
}

// FilterByRole returns the session's messages with the given role in
// insertion order.
func (s *SQLiteMemory) FilterByRole(ctx context.Context, role ai.MessageRole) ([]ai.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM shortmem_messages
		WHERE session_id = ? AND role = ?
		ORDER BY seq ASC
	`, s.sessionID, string(role))
	if err != nil {
		return nil, errors.Wrap(err, "sqlitememory: filter by role")
	}
	return scanMessages(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessages(rows *sql.Rows) ([]ai.Message, error) {
	defer func() { _ = rows.Close() }()

	messages := []ai.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlitememory: scan message")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlitememory: iterate messages")
	}
	return messages, nil
}

func scanMessage(row rowScanner) (ai.Message, error) {
	var (
		msg           ai.Message
		role          string
		toolCallsJSON sql.NullString
		metadataJSON  sql.NullString
	)
	if err := row.Scan(
		&msg.ID,
		&role,
		&msg.Content,
		&toolCallsJSON,
		&msg.ToolCallID,
		&msg.Name,
		&msg.Refusal,
		&msg.Reasoning,
		&metadataJSON,
	); err != nil {
		return ai.Message{}, err
	}
	msg.Role = ai.MessageRole(role)
	if toolCallsJSON.Valid && toolCallsJSON.String != "" {
		if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
			return ai.Message{}, errors.Wrapf(err, "decode tool calls of %q", msg.ID)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &msg.Metadata); err != nil {
			return ai.Message{}, errors.Wrapf(err, "decode metadata of %q", msg.ID)
		}
	}
	return msg, nil
}

// marshalNullableJSON maps empty slices and maps to SQL NULL.
func marshalNullableJSON(value any) (sql.NullString, error) {
	switch v := value.(type) {
	case []ai.ToolCall:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(v) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
