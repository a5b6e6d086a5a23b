package memory

import (
	"context"

	"github.com/leofalp/shortmem/providers/ai"
	"github.com/leofalp/shortmem/providers/observability"
)

// ObserveStored records a committed write. It adds one event per message to
// the span found in ctx and, when observer is non-nil, logs the write and
// increments the put counter. A nil observer falls back to the one carried by
// ctx, if any. total is the store size after the write; pass
// a negative value when the backend does not know it cheaply.
func ObserveStored(ctx context.Context, observer observability.Provider, backend string, messages []*ai.Message, total int) {
	span := observability.SpanFromContext(ctx)

	if span != nil {
		for _, message := range messages {
			span.AddEvent(observability.EventMemoryAppend,
				observability.String(observability.AttrMemoryMessageID, message.ID),
				observability.String(observability.AttrMemoryMessageRole, string(message.Role)),
				observability.Int(observability.AttrMemoryMessageLength, len(message.Content)),
			)
		}
		if total >= 0 {
			span.SetAttributes(
				observability.Int(observability.AttrMemoryTotalMessages, total),
			)
		}
	}

	if observer = resolveObserver(ctx, observer); observer == nil {
		return
	}

	attrs := []observability.Attribute{
		observability.String(observability.AttrMemoryBackend, backend),
		observability.Int(observability.AttrMemoryBatchSize, len(messages)),
	}
	if total >= 0 {
		attrs = append(attrs, observability.Int(observability.AttrMemoryTotalMessages, total))
	}
	observer.Debug(ctx, "memory: messages stored", attrs...)
	observer.Counter(observability.MetricMemoryPutCount).Add(ctx, int64(len(messages)),
		observability.String(observability.AttrMemoryBackend, backend),
	)
}

// ObserveRejected records a write that was refused. Duplicate ids are logged
// at warn level and counted; every other error is logged at error level.
func ObserveRejected(ctx context.Context, observer observability.Provider, backend string, err error) {
	if span := observability.SpanFromContext(ctx); span != nil {
		span.RecordError(err)
	}

	if observer = resolveObserver(ctx, observer); observer == nil {
		return
	}

	if IsDuplicateID(err) {
		observer.Warn(ctx, "memory: duplicate message id rejected",
			observability.String(observability.AttrMemoryBackend, backend),
			observability.Error(err),
		)
		observer.Counter(observability.MetricMemoryDuplicateCount).Add(ctx, 1,
			observability.String(observability.AttrMemoryBackend, backend),
		)
		return
	}

	observer.Error(ctx, "memory: write failed",
		observability.String(observability.AttrMemoryBackend, backend),
		observability.Error(err),
	)
}

func resolveObserver(ctx context.Context, observer observability.Provider) observability.Provider {
	if observer != nil {
		return observer
	}
	return observability.ObserverFromContext(ctx)
}
