package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list key used when none is configured.
const DefaultRedisKey = "hawkeye:samples"

// RedisHistory implements History on top of a single Redis list.
//
// Store pushes to the tail and trims the list to the newest capacity entries
// inside one MULTI/EXEC block, so the eviction law matches MemoryHistory.
// Unlike MemoryHistory it can fail: every network, decode or context error
// comes back as a *StorageError.
type RedisHistory struct {
	client   *redis.Client
	key      string
	capacity int
	mu       sync.RWMutex
}

// NewRedisHistory creates a Redis-backed history and verifies connectivity.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - key: list key (empty uses DefaultRedisKey)
//   - capacity: maximum number of retained samples, must be positive
func NewRedisHistory(addr, password string, db int, key string, capacity int) (*RedisHistory, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if capacity <= 0 {
		return nil, errors.New("history capacity must be positive")
	}
	if key == "" {
		key = DefaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisHistory{
		client:   client,
		key:      key,
		capacity: capacity,
	}, nil
}

// Store appends s and trims the list to the configured capacity.
func (r *RedisHistory) Store(ctx context.Context, s Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return storeError("redis", fmt.Errorf("marshal sample: %w", err))
	}

	client, err := r.conn()
	if err != nil {
		return storeError("redis", err)
	}

	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, int64(-r.capacity), -1)
		return nil
	})
	if err != nil {
		return storeError("redis", err)
	}
	return nil
}

// Fetch reads the whole list and keeps the entries matching identifier.
func (r *RedisHistory) Fetch(ctx context.Context, identifier string) ([]Sample, error) {
	client, err := r.conn()
	if err != nil {
		return nil, fetchError("redis", err)
	}

	entries, err := client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fetchError("redis", err)
	}

	out := make([]Sample, 0)
	for i, entry := range entries {
		var s Sample
		if err := json.Unmarshal([]byte(entry), &s); err != nil {
			return nil, fetchError("redis", fmt.Errorf("decode entry %d: %w", i, err))
		}
		if s.Identifier == identifier {
			out = append(out, s)
		}
	}
	return out, nil
}

// Len returns the current length of the backing list.
func (r *RedisHistory) Len(ctx context.Context) (int, error) {
	client, err := r.conn()
	if err != nil {
		return 0, err
	}
	n, err := client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Ping checks the Redis connection health.
func (r *RedisHistory) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (r *RedisHistory) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, redis.ErrClosed
	}
	return r.client, nil
}

// Close closes the Redis client connection. It is idempotent.
func (r *RedisHistory) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
