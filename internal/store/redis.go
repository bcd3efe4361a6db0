package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// commitScript stores the result only when its sequence is newer than the
// committed one, and lifts the sequence counter so later allocations stay
// ahead of it. Returns 1 when accepted, 0 when stale.
var commitScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'sequence')
local seq = tonumber(ARGV[1])
if cur and tonumber(cur) >= seq then
	return 0
end
redis.call('HSET', KEYS[1], 'sequence', ARGV[1], 'result', ARGV[2])
local counter = tonumber(redis.call('GET', KEYS[2]) or '0')
if counter < seq then
	redis.call('SET', KEYS[2], ARGV[1])
end
return 1
`)

// RedisStore shares committed results and sequences between every process
// pointed at the same Redis.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// DialRedis connects and pings with a short timeout.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, storeError(err, "redis ping %s", addr)
	}
	return NewRedisStore(rdb, prefix), nil
}

// NewRedisStore wraps an existing client. Keys are namespaced by prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "slabquote"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) resultKey(quoteID string) string {
	return s.prefix + ":quote:" + quoteID + ":layout"
}

func (s *RedisStore) seqKey(quoteID string) string {
	return s.prefix + ":quote:" + quoteID + ":seq"
}

func (s *RedisStore) Latest(ctx context.Context, quoteID string) (model.OptimizationResult, error) {
	raw, err := s.rdb.HGet(ctx, s.resultKey(quoteID), "result").Result()
	if errors.Is(err, redis.Nil) {
		return model.OptimizationResult{}, model.ErrNotFound
	}
	if err != nil {
		return model.OptimizationResult{}, storeError(err, "load layout for %s", quoteID)
	}
	var res model.OptimizationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return model.OptimizationResult{}, storeError(err, "decode layout for %s", quoteID)
	}
	return res, nil
}

func (s *RedisStore) Commit(ctx context.Context, result model.OptimizationResult) error {
	if err := validateCommit(result); err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return storeError(err, "encode layout for %s", result.QuoteID)
	}
	keys := []string{s.resultKey(result.QuoteID), s.seqKey(result.QuoteID)}
	accepted, err := commitScript.Run(ctx, s.rdb, keys, result.Sequence, string(payload)).Int()
	if err != nil {
		return storeError(err, "commit layout for %s", result.QuoteID)
	}
	if accepted == 0 {
		return model.ErrStaleWrite
	}
	return nil
}

func (s *RedisStore) NextSequence(ctx context.Context, quoteID string) (int64, error) {
	seq, err := s.rdb.Incr(ctx, s.seqKey(quoteID)).Result()
	if err != nil {
		return 0, storeError(err, "allocate sequence for %s", quoteID)
	}
	return seq, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
