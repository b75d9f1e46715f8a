package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store backend for the cluster ("pku") backend
// (spec.md §6 REDIS_HOST/REDIS_PORT, CLI --redis_* flags). Grounded on
// _examples/aidenlippert-zerostate/libs/queue/redis_queue.go's use of
// pipelines for batched writes and Publish/Subscribe for blocking waits.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig configures the RedisStore connection.
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// DefaultRedisConfig mirrors the environment variable defaults of spec.md §6.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{Host: "localhost", Port: 6379, KeyPrefix: "flowmesh:"}
}

// NewRedisStore dials Redis and verifies connectivity with a PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis store: connect: %w", err)
	}
	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

func (r *RedisStore) prefixed(key string) string { return r.keyPrefix + key }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefixed(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get %q: %w", key, err)
	}
	return v, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.prefixed(key), value, 0)
	pipe.Publish(ctx, r.channelFor(key), "1")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store: put %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefixed(key)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %q: %w", key, err)
	}
	return nil
}

func (r *RedisStore) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := r.prefixed(prefix) + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("redis store: scan for delete %q: %w", prefix, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis store: delete batch: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (r *RedisStore) ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	var cursor uint64
	pattern := r.prefixed(prefix) + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("redis store: scan %q: %w", prefix, err)
		}
		for _, k := range keys {
			v, err := r.client.Get(ctx, k).Bytes()
			if err != nil {
				continue
			}
			out[strings.TrimPrefix(k, r.keyPrefix)] = v
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// channelFor derives the pub/sub channel used to wake GetWait subscribers
// when key is written.
func (r *RedisStore) channelFor(key string) string {
	return r.keyPrefix + "notify:" + key
}

func (r *RedisStore) GetWait(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if v, err := r.Get(ctx, key); err == nil {
		return v, nil
	} else if err != ErrNotFound {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := r.client.Subscribe(waitCtx, r.channelFor(key))
	defer func() { _ = sub.Close() }()

	// Re-check after subscribing: the value may have landed between the
	// first Get and the Subscribe call.
	if v, err := r.Get(ctx, key); err == nil {
		return v, nil
	}

	ch := sub.Channel()
	select {
	case <-ch:
		return r.Get(ctx, key)
	case <-waitCtx.Done():
		return nil, ErrNotFound
	}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
