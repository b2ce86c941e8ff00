package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client   *redis.Client
	prefix   string
	ttl      time.Duration
	claimTTL time.Duration
	now      func() time.Time
}

func NewRedisStore(client *redis.Client, prefix string, ttl, claimTTL time.Duration) *RedisStore {
	ttl, claimTTL = normalizeTTLs(ttl, claimTTL)
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, claimTTL: claimTTL, now: time.Now}
}

// OpenRedis parses a redis:// URL and verifies the server answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisStore) key(k string) string { return r.prefix + k }

func (r *RedisStore) Begin(ctx context.Context, key string) (Record, bool, error) {
	rec := Record{Key: key, State: StateProcessing, UpdatedAt: r.now().UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, err
	}

	// A claim can expire between SETNX and GET; retry a couple of times.
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := r.client.SetNX(ctx, r.key(key), payload, r.claimTTL).Result()
		if err != nil {
			return Record{}, false, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return rec, true, nil
		}
		existing, found, err := r.Get(ctx, key)
		if err != nil {
			return Record{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}
	return Record{}, false, fmt.Errorf("redis begin %s: key churned", key)
}

func (r *RedisStore) Complete(ctx context.Context, rec Record) error {
	rec.State = StateComplete
	rec.UpdatedAt = r.now().UTC()
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(rec.Key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Release(ctx context.Context, key string) error {
	rec, found, err := r.Get(ctx, key)
	if err != nil || !found || rec.State != StateProcessing {
		return err
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode record %s: %w", key, err)
	}
	return rec, true, nil
}
