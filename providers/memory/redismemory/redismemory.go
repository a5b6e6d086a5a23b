package redismemory

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
	"github.com/leofalp/shortmem/providers/observability"
)

const (
	backendName      = "redismemory"
	defaultKeyPrefix = "shortmem:"
)

// RedisMemory stores the messages of one session in Redis.
type RedisMemory struct {
	client    redis.UniversalClient
	sessionID string
	keyPrefix string
	ttl       time.Duration

	idGen    memory.IDGenerator
	observer observability.Provider
}

var _ memory.Provider = (*RedisMemory)(nil)

// Option configures optional RedisMemory behavior.
type Option func(*RedisMemory)

// WithKeyPrefix overrides the default key prefix ("shortmem:").
func WithKeyPrefix(prefix string) Option {
	return func(m *RedisMemory) {
		m.keyPrefix = prefix
	}
}

// WithTTL makes the session expire ttl after its last write. Zero, the
// default, keeps it forever.
//
// Expiry removes the whole session, ids included. Once it has happened the
// session reads as empty and any id it held can be stored again, so ids are
// only unique among messages written since the last expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *RedisMemory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen memory.IDGenerator) Option {
	return func(m *RedisMemory) {
		if gen != nil {
			m.idGen = gen
		}
	}
}

// WithObserver reports writes and rejections to observer.
func WithObserver(observer observability.Provider) Option {
	return func(m *RedisMemory) {
		m.observer = observer
	}
}

// New returns a store for sessionID backed by client.
func New(client redis.UniversalClient, sessionID string, opts ...Option) *RedisMemory {
	m := &RedisMemory{
		client:    client,
		sessionID: sessionID,
		keyPrefix: defaultKeyPrefix,
		idGen:     memory.DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// The hash tag keeps both keys of a session in one cluster slot, which the
// scripts require.
func (m *RedisMemory) messagesKey() string {
	return m.keyPrefix + "{" + m.sessionID + "}:messages"
}

func (m *RedisMemory) orderKey() string {
	return m.keyPrefix + "{" + m.sessionID + "}:order"
}

func (m *RedisMemory) keys() []string {
	return []string{m.messagesKey(), m.orderKey()}
}

// Put persists message. See PutMany.
func (m *RedisMemory) Put(ctx context.Context, message *ai.Message) error {
	return m.PutMany(ctx, []*ai.Message{message})
}

// PutMany persists messages in order. Ids are resolved first; the append
// script then re-checks every id and writes the batch only if none of them is
// stored, so a batch is never partially written.
func (m *RedisMemory) PutMany(ctx context.Context, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	total, ids, err := m.appendBatch(ctx, messages)
	if err != nil {
		memory.ObserveRejected(ctx, m.observer, backendName, err)
		return err
	}

	memory.StampIDs(messages, ids)
	memory.ObserveStored(ctx, m.observer, backendName, messages, total)
	return nil
}

func (m *RedisMemory) appendBatch(ctx context.Context, messages []*ai.Message) (int, []string, error) {
	exists := func(id string) (bool, error) {
		found, err := m.client.HExists(ctx, m.messagesKey(), id).Result()
		if err != nil {
			return false, errors.Wrap(err, "redismemory: check id")
		}
		return found, nil
	}

	ids, err := memory.AssignIDs(messages, m.idGen, exists)
	if err != nil {
		return 0, nil, err
	}

	args := make([]any, 0, 1+2*len(messages))
	args = append(args, m.ttl.Milliseconds())
	for i, message := range messages {
		stored := *message
		stored.ID = ids[i]
		payload, err := json.Marshal(stored)
		if err != nil {
			return 0, nil, errors.Wrap(err, "redismemory: encode message")
		}
		args = append(args, ids[i], payload)
	}

	reply, err := appendScript.Run(ctx, m.client, m.keys(), args...).Slice()
	if err != nil {
		return 0, nil, errors.Wrap(err, "redismemory: append")
	}
	total, err := parseAppendReply(reply)
	if err != nil {
		return 0, nil, err
	}
	return total, ids, nil
}

func parseAppendReply(reply []any) (int, error) {
	if len(reply) != 2 {
		return 0, errors.Errorf("redismemory: unexpected append reply %v", reply)
	}
	status, ok := reply[0].(int64)
	if !ok {
		return 0, errors.Errorf("redismemory: unexpected append status %v", reply[0])
	}
	if status == 0 {
		id, _ := reply[1].(string)
		return 0, &memory.DuplicateIDError{ID: id}
	}
	total, ok := reply[1].(int64)
	if !ok {
		return 0, errors.Errorf("redismemory: unexpected append total %v", reply[1])
	}
	return int(total), nil
}

// GetAll returns every message of the session in insertion order.
func (m *RedisMemory) GetAll(ctx context.Context) ([]ai.Message, error) {
	return m.readRange(ctx, 0, -1, "get all")
}

// GetByID returns the message stored under id, with found == false when the
// session holds no such id.
func (m *RedisMemory) GetByID(ctx context.Context, id string) (ai.Message, bool, error) {
	payload, err := m.client.HGet(ctx, m.messagesKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return ai.Message{}, false, nil
	}
	if err != nil {
		return ai.Message{}, false, errors.Wrap(err, "redismemory: get by id")
	}
	var msg ai.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ai.Message{}, false, errors.Wrapf(err, "redismemory: decode message %q", id)
	}
	return msg, true, nil
}

// Count returns the number of messages in the session.
func (m *RedisMemory) Count(ctx context.Context) (int, error) {
	n, err := m.client.LLen(ctx, m.orderKey()).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redismemory: count")
	}
	return int(n), nil
}

// LastMessages returns the last n messages, oldest first.
func (m *RedisMemory) LastMessages(ctx context.Context, n int) ([]ai.Message, error) {
	if n <= 0 {
		return []ai.Message{}, nil
	}
	return m.readRange(ctx, -int64(n), -1, "last messages")
}

// FilterByRole returns the session's messages with the given role in
// insertion order. Roles live inside the stored payloads, so the filter runs
// client-side over a full read.
func (m *RedisMemory) FilterByRole(ctx context.Context, role ai.MessageRole) ([]ai.Message, error) {
	all, err := m.readRange(ctx, 0, -1, "filter by role")
	if err != nil {
		return nil, err
	}
	filtered := []ai.Message{}
	for _, msg := range all {
		if msg.Role == role {
			filtered = append(filtered, msg)
		}
	}
	return filtered, nil
}

func (m *RedisMemory) readRange(ctx context.Context, start, stop int64, op string) ([]ai.Message, error) {
	reply, err := rangeScript.Run(ctx, m.client, m.keys(),
		strconv.FormatInt(start, 10), strconv.FormatInt(stop, 10)).Slice()
	if err != nil {
		return nil, errors.Wrapf(err, "redismemory: %s", op)
	}

	messages := make([]ai.Message, 0, len(reply))
	for _, item := range reply {
		payload, ok := item.(string)
		if !ok {
			return nil, errors.Errorf("redismemory: %s: unexpected payload type %T", op, item)
		}
		var msg ai.Message
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return nil, errors.Wrapf(err, "redismemory: %s: decode message", op)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
