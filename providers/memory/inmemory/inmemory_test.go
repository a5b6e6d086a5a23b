package inmemory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
	"github.com/leofalp/shortmem/providers/memory/memorytest"
	"github.com/leofalp/shortmem/providers/observability"
	"github.com/leofalp/shortmem/providers/observability/slogobs"
)

func TestArrayMemory_Conformance(t *testing.T) {
	memorytest.Run(t, func(t *testing.T) memory.Provider {
		return New()
	})
}

// TestArrayMemory_SequenceGenerator verifies that an injected generator is
// used and that a generated id colliding with an explicit one is skipped.
func TestArrayMemory_SequenceGenerator(t *testing.T) {
	ctx := context.Background()
	m := New(WithIDGenerator(memory.NewSequenceGenerator("msg")))

	if err := m.Put(ctx, &ai.Message{ID: "msg-1", Role: ai.RoleUser, Content: "explicit"}); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}

	generated := &ai.Message{Role: ai.RoleAssistant, Content: "generated"}
	if err := m.Put(ctx, generated); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}
	if generated.ID != "msg-2" {
		t.Fatalf("expected generator to skip the taken msg-1 and issue msg-2, got %q", generated.ID)
	}
}

// TestArrayMemory_SequenceWalksPastLongRunOfTakenIDs verifies that a
// sequential generator is not cut off by MaxIDAttempts when callers already
// stored many of its upcoming ids.
func TestArrayMemory_SequenceWalksPastLongRunOfTakenIDs(t *testing.T) {
	ctx := context.Background()
	m := New(WithIDGenerator(memory.NewSequenceGenerator("msg")))

	taken := 3 * memory.MaxIDAttempts
	for i := 1; i <= taken; i++ {
		if err := m.Put(ctx, &ai.Message{ID: fmt.Sprintf("msg-%d", i), Role: ai.RoleUser}); err != nil {
			t.Fatalf("Put(msg-%d) returned unexpected error: %v", i, err)
		}
	}

	generated := &ai.Message{Role: ai.RoleUser, Content: "generated"}
	if err := m.Put(ctx, generated); err != nil {
		t.Fatalf("Put returned unexpected error: %v", err)
	}
	if want := fmt.Sprintf("msg-%d", taken+1); generated.ID != want {
		t.Fatalf("expected %s, got %q", want, generated.ID)
	}
}

// TestArrayMemory_GeneratedIDAvoidsLaterExplicitSibling verifies that a
// generated id never equals an explicit id appearing later in the same batch.
func TestArrayMemory_GeneratedIDAvoidsLaterExplicitSibling(t *testing.T) {
	ctx := context.Background()
	m := New(WithIDGenerator(memory.NewSequenceGenerator("msg")))

	batch := []*ai.Message{
		{Role: ai.RoleUser, Content: "first"},
		{ID: "msg-1", Role: ai.RoleUser, Content: "second"},
	}
	if err := m.PutMany(ctx, batch); err != nil {
		t.Fatalf("PutMany returned unexpected error: %v", err)
	}
	if batch[0].ID != "msg-2" {
		t.Fatalf("expected msg-2 for the first message, got %q", batch[0].ID)
	}
}

// TestArrayMemory_GeneratorExhausted verifies that a generator stuck on a
// taken id produces ErrIDExhausted instead of looping or overwriting.
func TestArrayMemory_GeneratorExhausted(t *testing.T) {
	ctx := context.Background()
	stuck := memory.IDGeneratorFunc(func() (string, error) { return "same", nil })
	m := New(WithIDGenerator(stuck))

	if err := m.Put(ctx, &ai.Message{Role: ai.RoleUser, Content: "1"}); err != nil {
		t.Fatalf("first Put returned unexpected error: %v", err)
	}
	err := m.Put(ctx, &ai.Message{Role: ai.RoleUser, Content: "2"})
	if !errors.Is(err, memory.ErrIDExhausted) {
		t.Fatalf("expected ErrIDExhausted, got %v", err)
	}
	if count, _ := m.Count(ctx); count != 1 {
		t.Fatalf("expected 1 message after exhausted generation, got %d", count)
	}
}

// TestArrayMemory_GeneratorError verifies generator failures propagate unchanged.
func TestArrayMemory_GeneratorError(t *testing.T) {
	genErr := errors.New("entropy unavailable")
	m := New(WithIDGenerator(memory.IDGeneratorFunc(func() (string, error) { return "", genErr })))

	err := m.Put(context.Background(), &ai.Message{Role: ai.RoleUser, Content: "x"})
	if !errors.Is(err, genErr) {
		t.Fatalf("expected generator error, got %v", err)
	}
}

// TestArrayMemory_ObserverCountsWrites verifies that stored messages and
// duplicate rejections are reported through the configured observer.
func TestArrayMemory_ObserverCountsWrites(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	observer := slogobs.New(slogobs.WithFormat(slogobs.FormatJSON), slogobs.WithLevel(slog.LevelDebug), slogobs.WithOutput(&buf))
	m := New(WithObserver(observer))

	if err := m.PutMany(ctx, []*ai.Message{
		{ID: "a", Role: ai.RoleUser, Content: "1"},
		{Role: ai.RoleAssistant, Content: "2"},
	}); err != nil {
		t.Fatalf("PutMany returned unexpected error: %v", err)
	}
	if err := m.Put(ctx, &ai.Message{ID: "a", Role: ai.RoleUser, Content: "dup"}); !memory.IsDuplicateID(err) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}

	if got := observer.CounterValue(observability.MetricMemoryPutCount); got != 2 {
		t.Errorf("put counter = %d, want 2", got)
	}
	if got := observer.CounterValue(observability.MetricMemoryDuplicateCount); got != 1 {
		t.Errorf("duplicate counter = %d, want 1", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("duplicate message id rejected")) {
		t.Errorf("expected a warning for the duplicate id, got %s", buf.String())
	}
}

// TestArrayMemory_SpanEvents verifies that each stored message is recorded as
// an event on the span carried by the context.
func TestArrayMemory_SpanEvents(t *testing.T) {
	span := &recordingSpan{}
	ctx := observability.ContextWithSpan(context.Background(), span)
	m := New()

	if err := m.PutMany(ctx, []*ai.Message{
		{Role: ai.RoleUser, Content: "hello"},
		{Role: ai.RoleAssistant, Content: "hi there"},
	}); err != nil {
		t.Fatalf("PutMany returned unexpected error: %v", err)
	}

	if len(span.events) != 2 {
		t.Fatalf("expected 2 append events, got %d", len(span.events))
	}
	if span.events[0] != observability.EventMemoryAppend {
		t.Errorf("event name = %q, want %q", span.events[0], observability.EventMemoryAppend)
	}
	if span.attrs[observability.AttrMemoryTotalMessages] != 2 {
		t.Errorf("total messages attribute = %v, want 2", span.attrs[observability.AttrMemoryTotalMessages])
	}
}

type recordingSpan struct {
	mu     sync.Mutex
	events []string
	attrs  map[string]any
	errs   []error
}

func (s *recordingSpan) End() {}

func (s *recordingSpan) SetStatus(observability.StatusCode, string) {}

func (s *recordingSpan) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSpan) AddEvent(name string, _ ...observability.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *recordingSpan) SetAttributes(attrs ...observability.Attribute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attrs == nil {
		s.attrs = map[string]any{}
	}
	for _, attr := range attrs {
		s.attrs[attr.Key] = attr.Value
	}
}

func BenchmarkArrayMemory_GetByID(b *testing.B) {
	ctx := context.Background()
	m := New()
	var last *ai.Message
	for i := 0; i < 10000; i++ {
		last = &ai.Message{Role: ai.RoleUser, Content: "x"}
		_ = m.Put(ctx, last)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = m.GetByID(ctx, last.ID)
	}
}
