package redismemory

import "github.com/redis/go-redis/v9"

// appendScript stores a batch of messages.
//
//	KEYS[1] message hash, KEYS[2] id list
//	ARGV[1] ttl in milliseconds (0 keeps the keys forever)
//	ARGV[2..] id, payload pairs in insertion order
//
// Replies {0, id} for the first id that is already stored, in which case
// nothing is written, or {1, total} after appending.
var appendScript = redis.NewScript(`
	local hash = KEYS[1]
	local list = KEYS[2]
	local ttl = tonumber(ARGV[1])

	for i = 2, #ARGV, 2 do
		if redis.call("HEXISTS", hash, ARGV[i]) == 1 then
			return {0, ARGV[i]}
		end
	end

	for i = 2, #ARGV, 2 do
		redis.call("HSET", hash, ARGV[i], ARGV[i + 1])
		redis.call("RPUSH", list, ARGV[i])
	end

	if ttl > 0 then
		redis.call("PEXPIRE", hash, ttl)
		redis.call("PEXPIRE", list, ttl)
	end

	return {1, redis.call("LLEN", list)}
`)

// rangeScript returns the payloads for LRANGE list ARGV[1] ARGV[2], in list
// order, in one atomic read.
var rangeScript = redis.NewScript(`
	local hash = KEYS[1]
	local list = KEYS[2]
	local ids = redis.call("LRANGE", list, ARGV[1], ARGV[2])
	local out = {}
	for i, id in ipairs(ids) do
		local payload = redis.call("HGET", hash, id)
		if payload then
			out[#out + 1] = payload
		end
	end
	return out
`)
