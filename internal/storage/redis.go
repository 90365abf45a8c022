package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
)

// NewRedisClient creates and validates a Redis client connection.
func NewRedisClient(ctx context.Context, redisURL string, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Msg("Redis connected")

	return rdb, nil
}

// RedisStorage persists session keys in Redis under a namespace and
// publishes every change on a PubSub channel, so all clients sharing the
// namespace see logins and logouts made elsewhere.
type RedisStorage struct {
	rdb       *redis.Client
	namespace string
	log       zerolog.Logger
}

// NewRedisStorage wraps an existing client. Close closes the client.
func NewRedisStorage(rdb *redis.Client, namespace string, log zerolog.Logger) *RedisStorage {
	return &RedisStorage{
		rdb:       rdb,
		namespace: namespace,
		log:       log.With().Str("component", "redis_storage").Str("namespace", namespace).Logger(),
	}
}

func (r *RedisStorage) key(k string) string {
	return config.StorageKey.RedisKey(r.namespace, k)
}

func (r *RedisStorage) channel() string {
	return config.StorageKey.RedisChannel(r.namespace)
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string) error {
	payload, _ := json.Marshal(Change{Key: key, Value: value})

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, r.key(key), value, 0)
	pipe.Publish(ctx, r.channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisStorage) Remove(ctx context.Context, key string) error {
	payload, _ := json.Marshal(Change{Key: key, Removed: true})

	n, err := r.rdb.Del(ctx, r.key(key)).Result()
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	if n == 0 {
		return nil
	}
	if err := r.rdb.Publish(ctx, r.channel(), payload).Err(); err != nil {
		return fmt.Errorf("publish removal of %s: %w", key, err)
	}
	return nil
}

// Watch subscribes to the namespace channel. The subscription is confirmed
// before Watch returns, so changes made afterwards are never missed.
func (r *RedisStorage) Watch(ctx context.Context) (<-chan Change, error) {
	sub := r.rdb.Subscribe(ctx, r.channel())
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel(), err)
	}

	out := make(chan Change, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.log.Error().Err(err).Msg("Invalid session change payload")
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *RedisStorage) Close() error {
	return r.rdb.Close()
}
