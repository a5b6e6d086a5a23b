package observability

// Semantic conventions for observability attributes.
// These constants define standard attribute names to ensure consistency
// across different components of the system.

// --- Memory Attributes ---

const (
	// AttrMemoryBackend names the store implementation (e.g., "inmemory", "postgres")
	AttrMemoryBackend = "memory.backend"

	// AttrMemorySessionID is the conversation scope of a persistent store
	AttrMemorySessionID = "memory.session_id"

	// AttrMemoryMessageID is the identifier of the message being stored
	AttrMemoryMessageID = "memory.message.id"

	// AttrMemoryMessageRole is the role of the message being stored
	AttrMemoryMessageRole = "memory.message.role"

	// AttrMemoryMessageLength is the length of the message content
	AttrMemoryMessageLength = "memory.message.length"

	// AttrMemoryBatchSize is the number of messages written by one call
	AttrMemoryBatchSize = "memory.batch_size"

	// AttrMemoryTotalMessages is the total number of messages in memory
	AttrMemoryTotalMessages = "memory.total_messages"
)

// --- General Attributes ---

const (
	// AttrError is the error message
	AttrError = "error"

	// AttrDuration is the operation duration
	AttrDuration = "duration"

	// AttrStatus is the operation status
	AttrStatus = "status"

	// AttrStatusDescription is the status description
	AttrStatusDescription = "status_description"
)

// --- Span Names ---

const (
	// SpanMemoryOperation is the span name for memory operations
	SpanMemoryOperation = "memory.operation"
)

// --- Event Names ---

const (
	// EventMemoryAppend marks when a message is appended to memory
	EventMemoryAppend = "memory.append"
)

// --- Metric Names ---

const (
	// MetricMemoryPutCount counts messages committed to a store
	MetricMemoryPutCount = "shortmem.memory.put.count"

	// MetricMemoryDuplicateCount counts writes rejected for a duplicate id
	MetricMemoryDuplicateCount = "shortmem.memory.duplicate.count"
)
