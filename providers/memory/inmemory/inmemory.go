package inmemory

import (
	"context"
	"sync"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
	"github.com/leofalp/shortmem/providers/observability"
)

const backendName = "inmemory"

// ArrayMemory is a concurrency-safe in-memory message store.
// Writers hold the write lock for the whole of Put or PutMany, so readers
// observe a batch either entirely or not at all.
type ArrayMemory struct {
	mu       sync.RWMutex
	messages []ai.Message
	index    map[string]int // message id -> position in messages

	idGen    memory.IDGenerator
	observer observability.Provider
}

// Ensure ArrayMemory implements memory.Provider at compile time.
var _ memory.Provider = (*ArrayMemory)(nil)

// Option configures optional ArrayMemory behavior.
type Option func(*ArrayMemory)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen memory.IDGenerator) Option {
	return func(m *ArrayMemory) {
		if gen != nil {
			m.idGen = gen
		}
	}
}

// WithObserver reports writes and rejections to observer.
func WithObserver(observer observability.Provider) Option {
	return func(m *ArrayMemory) {
		m.observer = observer
	}
}

// New returns a new, empty [ArrayMemory] ready for immediate use.
func New(opts ...Option) *ArrayMemory {
	m := &ArrayMemory{
		messages: []ai.Message{},
		index:    map[string]int{},
		idGen:    memory.DefaultIDGenerator(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put stores a copy of message at the end of the history. When message has no
// ID a fresh one is generated and written back to message. An ID that is
// already stored yields a *memory.DuplicateIDError and leaves the store as it
// was.
func (m *ArrayMemory) Put(ctx context.Context, message *ai.Message) error {
	return m.PutMany(ctx, []*ai.Message{message})
}

// PutMany stores messages in order after everything already stored. The batch
// is all-or-nothing: ids are resolved for every message before any of them is
// appended, so a duplicate anywhere in the batch stores nothing and stamps
// nothing.
func (m *ArrayMemory) PutMany(ctx context.Context, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	m.mu.Lock()
	ids, err := memory.AssignIDs(messages, m.idGen, m.exists)
	if err != nil {
		m.mu.Unlock()
		memory.ObserveRejected(ctx, m.observer, backendName, err)
		return err
	}

	for i, message := range messages {
		stored := message.Clone()
		stored.ID = ids[i]
		m.index[stored.ID] = len(m.messages)
		m.messages = append(m.messages, stored)
	}
	memory.StampIDs(messages, ids)
	totalMessages := len(m.messages)
	m.mu.Unlock()

	memory.ObserveStored(ctx, m.observer, backendName, messages, totalMessages)
	return nil
}

// exists must be called with mu held.
func (m *ArrayMemory) exists(id string) (bool, error) {
	_, ok := m.index[id]
	return ok, nil
}

// GetAll returns a copy of all messages in insertion order.
// The context parameter is accepted for interface compliance but is not used
// by the in-memory implementation. The returned error is always nil.
func (m *ArrayMemory) GetAll(_ context.Context) ([]ai.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneAll(m.messages), nil
}

// GetByID returns the message stored under id. found is false, and the
// returned message is the zero value, when no such id was ever stored.
// The returned error is always nil.
func (m *ArrayMemory) GetByID(_ context.Context, id string) (ai.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.index[id]
	if !ok {
		return ai.Message{}, false, nil
	}
	return m.messages[pos].Clone(), true, nil
}

// Count returns the number of messages stored.
// The returned error is always nil.
func (m *ArrayMemory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	n := len(m.messages)
	m.mu.RUnlock()
	return n, nil
}

// LastMessages returns up to the last n messages as a new, independent slice.
// If n exceeds the total number of stored messages, all messages are returned.
// Returns an empty, non-nil slice when n is zero or negative, or when the store is empty.
// The returned error is always nil.
func (m *ArrayMemory) LastMessages(_ context.Context, n int) ([]ai.Message, error) {
	if n <= 0 {
		return []ai.Message{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n > len(m.messages) {
		n = len(m.messages)
	}
	return cloneAll(m.messages[len(m.messages)-n:]), nil
}

// FilterByRole returns a copy of all messages whose role matches the given role.
// The returned slice is always non-nil; an empty slice is returned when no messages match.
// The returned error is always nil.
func (m *ArrayMemory) FilterByRole(_ context.Context, role ai.MessageRole) ([]ai.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	filtered := []ai.Message{}
	for _, msg := range m.messages {
		if msg.Role == role {
			filtered = append(filtered, msg.Clone())
		}
	}
	return filtered, nil
}

func cloneAll(messages []ai.Message) []ai.Message {
	out := make([]ai.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg.Clone()
	}
	return out
}
