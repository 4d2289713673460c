package counter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the distributed counter interface. All instances mutate counters
// through atomic operations only; implementations must be safe for
// concurrent use.
type Store interface {
	IncrBy(ctx context.Context, key string, amount int64, expiry time.Duration) (int64, error)
	DecrBy(ctx context.Context, key string, amount int64) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
	Ping(ctx context.Context) error
}

// RedisCounter implements Store using go-redis/v9.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a RedisCounter from a Redis URL.
func NewRedisCounter(redisURL string) (*RedisCounter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCounter{client: redis.NewClient(opts)}, nil
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// IncrBy atomically adds amount to the counter and returns the new value.
// The expiry is applied only when the key has none yet, so the window set by
// the first increment survives subsequent ones.
func (c *RedisCounter) IncrBy(ctx context.Context, key string, amount int64, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, amount)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// DecrBy atomically subtracts amount. Used to roll back a conditional
// increment that pushed the counter past its limit.
func (c *RedisCounter) DecrBy(ctx context.Context, key string, amount int64) (int64, error) {
	return c.client.DecrBy(ctx, key, amount).Result()
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// SetNX seeds a counter from the durable store only when the key is absent,
// so concurrent seeders cannot clobber increments that landed in between.
func (c *RedisCounter) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, value, ttl).Result()
}

func (c *RedisCounter) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// DeleteByPattern removes every key matching pattern via SCAN, in batches.
// Used to invalidate a tenant's cached counters after a tier change.
func (c *RedisCounter) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}
