// Package slogobs provides an observability.Provider implementation backed by
// Go's standard library log/slog package.
// Spans, counters and log calls made by memory stores all end up as slog
// records, in text or JSON form.
// The main entry point is [New]; output can be tuned with [WithFormat],
// [WithLevel], [WithOutput], and [WithLogger], or through the
// SHORTMEM_LOG_FORMAT and SHORTMEM_LOG_LEVEL environment variables.
package slogobs
