package memory

import "github.com/leofalp/shortmem/providers/ai"

// ExistsFunc reports whether id is already stored.
type ExistsFunc func(id string) (bool, error)

// AssignIDs resolves the identifier each message of a batch will be stored
// under, in input order, without modifying the messages.
//
// Explicit ids are checked first, against exists and against each other, so
// that a generated id can never shadow an explicit id that appears later in
// the same batch. A generated id that is already taken is discarded and a new
// one requested; a generator that keeps returning empty or repeated ids gives
// up after MaxIDAttempts.
//
// A nil exists treats the store as empty.
func AssignIDs(messages []*ai.Message, gen IDGenerator, exists ExistsFunc) ([]string, error) {
	if gen == nil {
		gen = DefaultIDGenerator()
	}
	if exists == nil {
		exists = func(string) (bool, error) { return false, nil }
	}

	ids := make([]string, len(messages))
	taken := make(map[string]struct{}, len(messages))

	for i, message := range messages {
		if message == nil {
			return nil, ErrNilMessage
		}
		if !message.HasID() {
			continue
		}
		if _, dup := taken[message.ID]; dup {
			return nil, &DuplicateIDError{ID: message.ID}
		}
		found, err := exists(message.ID)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, &DuplicateIDError{ID: message.ID}
		}
		taken[message.ID] = struct{}{}
		ids[i] = message.ID
	}

	for i, message := range messages {
		if message.HasID() {
			continue
		}
		id, err := freshID(gen, taken, exists)
		if err != nil {
			return nil, err
		}
		taken[id] = struct{}{}
		ids[i] = id
	}

	return ids, nil
}

// freshID asks gen for ids until one is neither in taken nor stored. Ids that
// are merely taken do not use up attempts, so a sequential generator walks
// past any run of caller-supplied ids. Only empty ids and ids the generator
// already returned during this call count against MaxIDAttempts.
func freshID(gen IDGenerator, taken map[string]struct{}, exists ExistsFunc) (string, error) {
	seen := make(map[string]struct{})
	for wasted := 0; wasted < MaxIDAttempts; {
		id, err := gen.NewID()
		if err != nil {
			return "", err
		}
		if id == "" {
			wasted++
			continue
		}
		if _, again := seen[id]; again {
			wasted++
			continue
		}
		seen[id] = struct{}{}
		if _, dup := taken[id]; dup {
			continue
		}
		found, err := exists(id)
		if err != nil {
			return "", err
		}
		if !found {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// StampIDs writes ids onto messages. Stores call it only after the batch has
// been committed, so a rejected batch leaves the caller's messages untouched.
func StampIDs(messages []*ai.Message, ids []string) {
	for i, message := range messages {
		message.ID = ids[i]
	}
}
