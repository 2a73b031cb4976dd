package statestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis (standalone, sentinel or cluster).
// Compound writes run as Lua scripts; batch reads use pipelines so they
// also work when keys hash to different cluster slots.
type RedisStore struct {
	client redis.UniversalClient

	incrByScript     *redis.Script
	decrFloorScript  *redis.Script
	hincrSetScript   *redis.Script
	zaddWindowScript *redis.Script
}

// NewRedisStore wraps an existing client. The caller owns the client
// configuration; Close closes it.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client:           client,
		incrByScript:     redis.NewScript(incrByScript),
		decrFloorScript:  redis.NewScript(decrFloorScript),
		hincrSetScript:   redis.NewScript(hincrSetScript),
		zaddWindowScript: redis.NewScript(zaddWindowScript),
	}
}

// replies that mean "try again later" rather than "bad data"
var transientReplies = []string{"LOADING", "CLUSTERDOWN", "TRYAGAIN", "MASTERDOWN", "READONLY", "BUSY"}

// classify maps a go-redis error onto ErrUnavailable or ErrUnexpectedData.
func classify(op string, err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		msg := reply.Error()
		for _, prefix := range transientReplies {
			if strings.HasPrefix(msg, prefix) {
				return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
			}
		}
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedData, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func parseInt64(key, raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: key %s holds %q", ErrUnexpectedData, key, raw)
	}
	return n, nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// IncrBy implements Store.
func (r *RedisStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := r.incrByScript.Run(ctx, r.client, []string{key}, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, classify("incrby", err)
	}
	return n, nil
}

// DecrFloor implements Store.
func (r *RedisStore) DecrFloor(ctx context.Context, key string) (int64, error) {
	n, err := r.decrFloorScript.Run(ctx, r.client, []string{key}).Int64()
	if err != nil {
		return 0, classify("decr", err)
	}
	return n, nil
}

// GetInts implements Store.
func (r *RedisStore) GetInts(ctx context.Context, keys []string) ([]int64, error) {
	values, err := r.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(keys))
	for i, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		if out[i], err = parseInt64(key, raw); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetEX implements Store.
func (r *RedisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	return classify("set", r.client.Set(ctx, key, value, ttl).Err())
}

// MGet implements Store.
func (r *RedisStore) MGet(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, classify("get", err)
	}

	out := make(map[string]string, len(keys))
	for i, cmd := range cmds {
		v, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, classify("get", err)
		}
		out[keys[i]] = v
	}
	return out, nil
}

// Del implements Store.
func (r *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	_, err := pipe.Exec(ctx)
	return classify("del", err)
}

// HSet implements Store.
func (r *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return classify("hset", r.client.HSet(ctx, key, fields).Err())
}

// HIncrBy implements Store.
func (r *RedisStore) HIncrBy(ctx context.Context, key, field string, delta int64, set map[string]string) (int64, error) {
	args := make([]any, 0, 2+2*len(set))
	args = append(args, field, delta)
	for f, v := range set {
		args = append(args, f, v)
	}
	n, err := r.hincrSetScript.Run(ctx, r.client, []string{key}, args...).Int64()
	if err != nil {
		return 0, classify("hincrby", err)
	}
	return n, nil
}

// HGetAll implements Store.
func (r *RedisStore) HGetAll(ctx context.Context, keys []string) (map[string]map[string]string, error) {
	if len(keys) == 0 {
		return map[string]map[string]string{}, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classify("hgetall", err)
	}

	out := make(map[string]map[string]string, len(keys))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, classify("hgetall", err)
		}
		if len(fields) > 0 {
			out[keys[i]] = fields
		}
	}
	return out, nil
}

// ZAddWindow implements Store.
func (r *RedisStore) ZAddWindow(ctx context.Context, key string, m ZMember, minScore float64, ttl time.Duration) error {
	err := r.zaddWindowScript.Run(ctx, r.client, []string{key},
		formatScore(m.Score), m.Member, formatScore(minScore), ttl.Milliseconds()).Err()
	return classify("zadd", err)
}

// ZRangeWindow implements Store.
func (r *RedisStore) ZRangeWindow(ctx context.Context, keys []string, minScore float64) (map[string][]ZMember, error) {
	if len(keys) == 0 {
		return map[string][]ZMember{}, nil
	}
	floor := formatScore(minScore)
	pipe := r.client.Pipeline()
	cmds := make([]*redis.ZSliceCmd, len(keys))
	for i, key := range keys {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+floor)
		cmds[i] = pipe.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: floor, Max: "+inf"})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, classify("zrange", err)
	}

	out := make(map[string][]ZMember, len(keys))
	for i, cmd := range cmds {
		zs, err := cmd.Result()
		if err != nil {
			return nil, classify("zrange", err)
		}
		if len(zs) == 0 {
			continue
		}
		members := make([]ZMember, len(zs))
		for j, z := range zs {
			member, ok := z.Member.(string)
			if !ok {
				return nil, fmt.Errorf("%w: key %s has non-string member %T", ErrUnexpectedData, keys[i], z.Member)
			}
			members[j] = ZMember{Score: z.Score, Member: member}
		}
		out[keys[i]] = members
	}
	return out, nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	return classify("ping", r.client.Ping(ctx).Err())
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
