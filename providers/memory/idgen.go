package memory

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// MaxIDAttempts bounds how many empty or repeated ids a store accepts from its
// generator while looking for an unused one.
const MaxIDAttempts = 8

// IDGenerator produces message identifiers. Implementations must be safe for
// concurrent use and should make collisions negligible; stores still check
// every generated id against their contents.
type IDGenerator interface {
	NewID() (string, error)
}

// IDGeneratorFunc adapts a plain function to IDGenerator.
type IDGeneratorFunc func() (string, error)

func (f IDGeneratorFunc) NewID() (string, error) { return f() }

// UUIDGenerator issues random (version 4) UUIDs backed by crypto/rand.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("memory: generate uuid: %w", err)
	}
	return id.String(), nil
}

// DefaultIDGenerator returns the generator stores use when none is configured.
func DefaultIDGenerator() IDGenerator {
	return UUIDGenerator{}
}

// SequenceGenerator issues "<prefix>-1", "<prefix>-2", ... It is meant for
// tests that need predictable ids.
type SequenceGenerator struct {
	prefix string
	next   atomic.Uint64
}

// NewSequenceGenerator returns a generator whose ids start at "<prefix>-1".
// An empty prefix defaults to "msg".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "msg"
	}
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) NewID() (string, error) {
	return fmt.Sprintf("%s-%d", g.prefix, g.next.Add(1)), nil
}
