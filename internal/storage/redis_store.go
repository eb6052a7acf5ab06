package storage

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the agent's persisted state in Redis so it survives
// process restarts. Keys are namespaced per driver so several agents
// can share one instance.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

func NewRedisStore(addr, password, prefix string, logger *slog.Logger) *RedisStore {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisStore{client: c, prefix: prefix, logger: logger}
}

func (r *RedisStore) key(k string) string { return r.prefix + ":" + k }

func (r *RedisStore) Save(ctx context.Context, key string, value any) {
	raw, err := encode(value)
	if err != nil {
		r.logger.Warn("kv encode failed", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.key(key), raw, 0).Err(); err != nil {
		r.logger.Warn("kv save failed", "key", key, "error", err)
	}
}

func (r *RedisStore) Load(ctx context.Context, key string) (any, bool) {
	raw, err := r.client.Get(ctx, r.key(key)).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("kv load failed", "key", key, "error", err)
		}
		return nil, false
	}
	return decode(raw), true
}

func (r *RedisStore) Remove(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		r.logger.Warn("kv remove failed", "key", key, "error", err)
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error { return r.client.Close() }
