package statestore

// Lua scripts for the compound operations of RedisStore. Each one runs
// atomically on the server, so concurrent gateway processes never lose
// updates. All keys of one script share a hash tag and live in one slot.

const (
	// incrByScript increments a counter and optionally refreshes its expiry.
	//
	// Keys:
	//   KEYS[1] - counter key (e.g., "llmroute:usage_rpm:{dep-1}:28333333")
	//
	// Args:
	//   ARGV[1] - delta (integer)
	//   ARGV[2] - ttl in milliseconds (integer, 0 keeps the current expiry)
	//
	// Returns:
	//   the new counter value
	incrByScript = `
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return n
`

	// decrFloorScript decrements a counter, clamping at zero.
	//
	// Keys:
	//   KEYS[1] - counter key (e.g., "llmroute:active_requests:{dep-1}")
	//
	// Returns:
	//   the new counter value (never negative)
	decrFloorScript = `
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current == nil then
  return redis.error_reply('WRONGTYPE counter is not an integer')
end
if current <= 0 then
  redis.call('SET', KEYS[1], 0)
  return 0
end
return redis.call('DECR', KEYS[1])
`

	// hincrSetScript increments one hash field and sets others in the same step.
	//
	// Keys:
	//   KEYS[1] - hash key (e.g., "llmroute:health:{dep-1}")
	//
	// Args:
	//   ARGV[1]   - field to increment
	//   ARGV[2]   - delta (integer)
	//   ARGV[3..] - field/value pairs to set
	//
	// Returns:
	//   the new value of the incremented field
	hincrSetScript = `
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
if #ARGV > 2 then
  redis.call('HSET', KEYS[1], unpack(ARGV, 3))
end
return n
`

	// zaddWindowScript appends to a scored window and prunes old members.
	//
	// Keys:
	//   KEYS[1] - sorted set key (e.g., "llmroute:latency:{dep-1}")
	//
	// Args:
	//   ARGV[1] - score (unix milliseconds)
	//   ARGV[2] - member
	//   ARGV[3] - minimum score to keep
	//   ARGV[4] - ttl in milliseconds (integer, 0 for none)
	//
	// Returns:
	//   the window size after pruning
	zaddWindowScript = `
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return redis.call('ZCARD', KEYS[1])
`
)
