// Package redismemory provides a Redis-backed [memory.Provider] using
// github.com/redis/go-redis/v9.
//
// A session is kept in two keys sharing a hash tag: a hash from message id to
// the JSON encoded message, and a list of ids in insertion order. Writes run
// as a single Lua script, so Redis applies a whole batch, id checks included,
// without interleaving other writers.
package redismemory
