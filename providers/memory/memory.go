package memory

import (
	"context"

	"github.com/leofalp/shortmem/providers/ai"
)

// Provider is an ordered, identifier-indexed store of conversation messages.
//
// Put and PutMany stamp a generated ID onto every message that arrives
// without one, so callers can read the assigned id back from the message they
// passed in once the call returns without error. Stored records are copies;
// later mutation of the caller's message does not reach the store.
//
// PutMany is all-or-nothing: when any message of the batch is rejected, no
// message of the batch is stored and none is stamped.
type Provider interface {
	Put(ctx context.Context, message *ai.Message) error
	PutMany(ctx context.Context, messages []*ai.Message) error

	// GetAll returns every message in insertion order.
	GetAll(ctx context.Context) ([]ai.Message, error)
	// GetByID reports found=false, with a nil error, when id is unknown.
	GetByID(ctx context.Context, id string) (message ai.Message, found bool, err error)

	Count(ctx context.Context) (int, error)
	LastMessages(ctx context.Context, n int) ([]ai.Message, error)
	FilterByRole(ctx context.Context, role ai.MessageRole) ([]ai.Message, error)
}
