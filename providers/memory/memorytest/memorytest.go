// Package memorytest holds the behavioral suite shared by every
// memory.Provider implementation. Backend tests call [Run] with a factory that
// returns a fresh, empty provider for each subtest.
package memorytest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/memory"
)

// Factory returns an empty provider isolated from every other one it returns.
type Factory func(t *testing.T) memory.Provider

// Run executes the full suite against providers built by newProvider.
func Run(t *testing.T, newProvider Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, p memory.Provider)
	}{
		{"EmptyStore", testEmptyStore},
		{"PutExplicitThenGenerated", testPutExplicitThenGenerated},
		{"PutManyMixedIDs", testPutManyMixedIDs},
		{"PutDuplicateLeavesStoreUnchanged", testPutDuplicateLeavesStoreUnchanged},
		{"PutManyDuplicateIsAllOrNothing", testPutManyDuplicateIsAllOrNothing},
		{"PutManySiblingDuplicate", testPutManySiblingDuplicate},
		{"PutNilMessage", testPutNilMessage},
		{"InsertionOrderAcrossCalls", testInsertionOrderAcrossCalls},
		{"LookupIsIdempotent", testLookupIsIdempotent},
		{"FieldsRoundTrip", testFieldsRoundTrip},
		{"ReturnedValuesAreCopies", testReturnedValuesAreCopies},
		{"LastMessages", testLastMessages},
		{"FilterByRole", testFilterByRole},
		{"ConcurrentPuts", testConcurrentPuts},
		{"ConcurrentBatchesStayContiguous", testConcurrentBatchesStayContiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newProvider(t))
		})
	}
}

func testEmptyStore(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.NotNil(t, all)
	require.Empty(t, all)

	count, err := p.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, p.PutMany(ctx, nil))
	count, err = p.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func testPutExplicitThenGenerated(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	first := &ai.Message{ID: "msg-1", Role: ai.RoleUser, Content: "Message 1"}
	second := &ai.Message{Role: ai.RoleAssistant, Content: "Message 2"}
	require.NoError(t, p.Put(ctx, first))
	require.NoError(t, p.Put(ctx, second))

	require.Equal(t, "msg-1", first.ID)
	require.NotEmpty(t, second.ID)
	require.NotEqual(t, "msg-1", second.ID)

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "msg-1", all[0].ID)
	require.Equal(t, "Message 1", all[0].Content)
	require.Equal(t, second.ID, all[1].ID)
	require.Equal(t, "Message 2", all[1].Content)

	got, found, err := p.GetByID(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Message 1", got.Content)
	require.Equal(t, ai.RoleUser, got.Role)

	got, found, err = p.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Message 2", got.Content)

	got, found, err = p.GetByID(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, ai.Message{}, got)
}

func testPutManyMixedIDs(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	batch := []*ai.Message{
		{ID: "msg-1", Role: ai.RoleUser, Content: "Message 1"},
		{Role: ai.RoleAssistant, Content: "Message 2"},
		{Role: ai.RoleUser, Content: "Message 3"},
	}
	require.NoError(t, p.PutMany(ctx, batch))

	require.Equal(t, "msg-1", batch[0].ID)
	require.NotEmpty(t, batch[1].ID)
	require.NotEmpty(t, batch[2].ID)
	require.NotEqual(t, batch[1].ID, batch[2].ID)
	require.NotEqual(t, "msg-1", batch[1].ID)
	require.NotEqual(t, "msg-1", batch[2].ID)

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, msg := range all {
		require.Equal(t, batch[i].ID, msg.ID)
		require.Equal(t, fmt.Sprintf("Message %d", i+1), msg.Content)
	}

	got, found, err := p.GetByID(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Message 1", got.Content)
}

func testPutDuplicateLeavesStoreUnchanged(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, &ai.Message{ID: "msg-1", Role: ai.RoleUser, Content: "original"}))
	before, err := p.GetAll(ctx)
	require.NoError(t, err)

	err = p.Put(ctx, &ai.Message{ID: "msg-1", Role: ai.RoleAssistant, Content: "impostor"})
	require.Error(t, err)
	require.True(t, errors.Is(err, memory.ErrDuplicateID))
	var dupErr *memory.DuplicateIDError
	require.True(t, errors.As(err, &dupErr))
	require.Equal(t, "msg-1", dupErr.ID)

	after, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)

	got, found, err := p.GetByID(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "original", got.Content)
}

func testPutManyDuplicateIsAllOrNothing(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, &ai.Message{ID: "taken", Role: ai.RoleUser, Content: "first"}))

	batch := []*ai.Message{
		{Role: ai.RoleUser, Content: "a"},
		{ID: "fresh", Role: ai.RoleUser, Content: "b"},
		{ID: "taken", Role: ai.RoleUser, Content: "c"},
		{Role: ai.RoleUser, Content: "d"},
	}
	err := p.PutMany(ctx, batch)
	require.True(t, memory.IsDuplicateID(err), "expected duplicate id error, got %v", err)

	count, err := p.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, found, err := p.GetByID(ctx, "fresh")
	require.NoError(t, err)
	require.False(t, found)

	require.Empty(t, batch[0].ID, "rejected batch must not stamp ids")
	require.Empty(t, batch[3].ID, "rejected batch must not stamp ids")
}

func testPutManySiblingDuplicate(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	err := p.PutMany(ctx, []*ai.Message{
		{ID: "twin", Role: ai.RoleUser, Content: "one"},
		{ID: "twin", Role: ai.RoleUser, Content: "two"},
	})
	var dupErr *memory.DuplicateIDError
	require.True(t, errors.As(err, &dupErr), "expected *DuplicateIDError, got %v", err)
	require.Equal(t, "twin", dupErr.ID)

	count, err := p.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func testPutNilMessage(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	require.ErrorIs(t, p.Put(ctx, nil), memory.ErrNilMessage)
	require.ErrorIs(t, p.PutMany(ctx, []*ai.Message{{Role: ai.RoleUser, Content: "x"}, nil}), memory.ErrNilMessage)

	count, err := p.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func testInsertionOrderAcrossCalls(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	require.NoError(t, p.Put(ctx, &ai.Message{Role: ai.RoleSystem, Content: "0"}))
	require.NoError(t, p.PutMany(ctx, []*ai.Message{
		{Role: ai.RoleUser, Content: "1"},
		{ID: "explicit", Role: ai.RoleAssistant, Content: "2"},
		{Role: ai.RoleUser, Content: "3"},
	}))
	require.NoError(t, p.Put(ctx, &ai.Message{Role: ai.RoleAssistant, Content: "4"}))
	require.NoError(t, p.PutMany(ctx, []*ai.Message{
		{Role: ai.RoleUser, Content: "5"},
		{Role: ai.RoleAssistant, Content: "6"},
	}))

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 7)
	seen := map[string]bool{}
	for i, msg := range all {
		require.Equal(t, fmt.Sprint(i), msg.Content)
		require.NotEmpty(t, msg.ID)
		require.False(t, seen[msg.ID], "id %q issued twice", msg.ID)
		seen[msg.ID] = true
	}
}

func testLookupIsIdempotent(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	message := &ai.Message{Role: ai.RoleUser, Content: "stable"}
	require.NoError(t, p.Put(ctx, message))

	first, found, err := p.GetByID(ctx, message.ID)
	require.NoError(t, err)
	require.True(t, found)
	second, found, err := p.GetByID(ctx, message.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, first, second)
	require.Equal(t, message.ID, first.ID)
}

func testFieldsRoundTrip(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	original := ai.Message{
		ID:      "full",
		Role:    ai.RoleAssistant,
		Content: "checking the weather",
		ToolCalls: []ai.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: ai.ToolCallFunction{Name: "get_weather", Arguments: `{"city":"NYC"}`},
		}},
		ToolCallID: "call_0",
		Name:       "weather",
		Refusal:    "",
		Reasoning:  "user asked about NYC",
		Metadata:   map[string]any{"source": "test", "lang": "en"},
	}
	input := original.Clone()
	require.NoError(t, p.Put(ctx, &input))

	got, found, err := p.GetByID(ctx, "full")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, original, got)
}

func testReturnedValuesAreCopies(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	message := &ai.Message{
		Role:    ai.RoleUser,
		Content: "hi",
		Metadata: map[string]any{
			"k":      "v",
			"nested": map[string]any{"k": "v"},
			"list":   []any{"a"},
		},
	}
	require.NoError(t, p.Put(ctx, message))
	id := message.ID

	// Mutating the caller's message after Put must not reach the store.
	message.Content = "changed by caller"
	message.Metadata["k"] = "changed by caller"
	message.Metadata["nested"].(map[string]any)["k"] = "changed by caller"
	message.Metadata["list"].([]any)[0] = "changed by caller"

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	all[0].Content = "changed by reader"
	all[0].Metadata["k"] = "changed by reader"
	all[0].Metadata["nested"].(map[string]any)["k"] = "changed by reader"
	all[0].Metadata["list"].([]any)[0] = "changed by reader"

	got, found, err := p.GetByID(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hi", got.Content)
	require.Equal(t, "v", got.Metadata["k"])
	require.Equal(t, map[string]any{"k": "v"}, got.Metadata["nested"])
	require.Equal(t, []any{"a"}, got.Metadata["list"])

	// Readers of GetByID results get their own copies too.
	got.Metadata["nested"].(map[string]any)["k"] = "changed by reader"
	again, _, err := p.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"k": "v"}, again.Metadata["nested"])
}

func testLastMessages(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Put(ctx, &ai.Message{Role: ai.RoleUser, Content: string(rune('a' + i))}))
	}

	last, err := p.LastMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	require.Equal(t, "d", last[0].Content)
	require.Equal(t, "e", last[1].Content)

	none, err := p.LastMessages(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	all, err := p.LastMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "a", all[0].Content)
}

func testFilterByRole(t *testing.T, p memory.Provider) {
	ctx := context.Background()

	require.NoError(t, p.PutMany(ctx, []*ai.Message{
		{Role: ai.RoleUser, Content: "u1"},
		{Role: ai.RoleAssistant, Content: "a1"},
		{Role: ai.RoleUser, Content: "u2"},
	}))

	users, err := p.FilterByRole(ctx, ai.RoleUser)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "u1", users[0].Content)
	require.Equal(t, "u2", users[1].Content)

	tools, err := p.FilterByRole(ctx, ai.RoleTool)
	require.NoError(t, err)
	require.NotNil(t, tools)
	require.Empty(t, tools)
}

func testConcurrentPuts(t *testing.T, p memory.Provider) {
	ctx := context.Background()
	const writers = 32

	messages := make([]*ai.Message, writers)
	var g errgroup.Group
	for i := range messages {
		messages[i] = &ai.Message{Role: ai.RoleUser, Content: fmt.Sprintf("m%d", i)}
		message := messages[i]
		g.Go(func() error {
			return p.Put(ctx, message)
		})
	}
	require.NoError(t, g.Wait())

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, writers)

	ids := map[string]struct{}{}
	for _, msg := range all {
		require.NotEmpty(t, msg.ID)
		ids[msg.ID] = struct{}{}
	}
	require.Len(t, ids, writers, "every concurrent put must receive a distinct id")

	for _, message := range messages {
		got, found, err := p.GetByID(ctx, message.ID)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, message.Content, got.Content)
	}
}

func testConcurrentBatchesStayContiguous(t *testing.T, p memory.Provider) {
	ctx := context.Background()
	const (
		batches   = 8
		batchSize = 4
	)

	var g errgroup.Group
	for b := 0; b < batches; b++ {
		batch := make([]*ai.Message, batchSize)
		for i := range batch {
			batch[i] = &ai.Message{Role: ai.RoleUser, Content: fmt.Sprintf("%d/%d", b, i)}
		}
		g.Go(func() error {
			return p.PutMany(ctx, batch)
		})
	}
	require.NoError(t, g.Wait())

	all, err := p.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, batches*batchSize)

	for start := 0; start < len(all); start += batchSize {
		var batchID, pos int
		_, err := fmt.Sscanf(all[start].Content, "%d/%d", &batchID, &pos)
		require.NoError(t, err)
		for i := 0; i < batchSize; i++ {
			require.Equal(t, fmt.Sprintf("%d/%d", batchID, i), all[start+i].Content,
				"batch %d was interleaved with another writer", batchID)
		}
	}
}
