package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/opencdms/opencdms-process/internal/core/observability"
)

const keyPrefix = "opencdms:job:"

type RedisOption func(*redis.Options)

func WithPoolSize(n int) RedisOption {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

// RedisStore keeps jobs as JSON values that expire after ttl.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(ctx context.Context, addr string, ttl time.Duration, opts ...RedisOption) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}
	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("redis", "ping", err, time.Since(start).Seconds(), nil)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	start := time.Now()
	var job Job
	b, err := s.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		err = ErrNotFound
	}
	observability.ObserveStoreOp("redis", "get", err, time.Since(start).Seconds(), ErrNotFound)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return job, err
		}
		return job, fmt.Errorf("redis GET job %s: %w", id, err)
	}
	if err := json.Unmarshal(b, &job); err != nil {
		return job, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (s *RedisStore) Put(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	start := time.Now()
	err = s.rdb.Set(ctx, keyPrefix+job.ID, b, s.ttl).Err()
	observability.ObserveStoreOp("redis", "set", err, time.Since(start).Seconds(), nil)
	if err != nil {
		return fmt.Errorf("redis SET job %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.rdb.Del(ctx, keyPrefix+id).Err()
	observability.ObserveStoreOp("redis", "del", err, time.Since(start).Seconds(), nil)
	if err != nil {
		return fmt.Errorf("redis DEL job %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
