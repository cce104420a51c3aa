package reconciler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dukapay/go-shop-backend/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// store is what the verifier needs from redis: a due-time queue of checkout
// request ids, a per-reference attempt counter, and event dedup.
type store interface {
	Schedule(ctx context.Context, checkoutRequestID string, due time.Time) error
	Due(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Remove(ctx context.Context, checkoutRequestID string) error
	NextAttempt(ctx context.Context, checkoutRequestID string) (int, error)
	Seen(ctx context.Context, eventID string) (bool, error)
}

// RedisStore backs the verification queue with a sorted set scored by due
// time, the same redis the rest of the system already runs on.
type RedisStore struct {
	Redis   *redis.Client
	Service string
}

func (s *RedisStore) Schedule(ctx context.Context, ref string, due time.Time) error {
	return s.Redis.ZAdd(ctx, redisx.KeyVerifyQueue, redis.Z{
		Score:  float64(due.Unix()),
		Member: ref,
	}).Err()
}

func (s *RedisStore) Due(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return s.Redis.ZRangeByScore(ctx, redisx.KeyVerifyQueue, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
}

func (s *RedisStore) Remove(ctx context.Context, ref string) error {
	if err := s.Redis.ZRem(ctx, redisx.KeyVerifyQueue, ref).Err(); err != nil {
		return err
	}
	return s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyVerifyAttempts, ref)).Err()
}

func (s *RedisStore) NextAttempt(ctx context.Context, ref string) (int, error) {
	key := fmt.Sprintf(redisx.KeyVerifyAttempts, ref)
	n, err := s.Redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = s.Redis.Expire(ctx, key, redisx.TTLVerifyAttempts).Err()
	return int(n), nil
}

func (s *RedisStore) Seen(ctx context.Context, eventID string) (bool, error) {
	key := fmt.Sprintf(redisx.KeyDedup, s.Service, eventID)
	ok, err := redisx.Exists(ctx, s.Redis, key)
	if err != nil || ok {
		return ok, err
	}
	return false, s.Redis.Set(ctx, key, "1", redisx.TTLDedup).Err()
}
