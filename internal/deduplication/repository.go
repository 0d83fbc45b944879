package deduplication

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Repository interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	CountKeys(ctx context.Context, prefix string) (int, error)
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) Repository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisRepository) CountKeys(ctx context.Context, prefix string) (int, error) {
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return count, nil
}

// MemoryRepository keeps claims in process memory. It is used when no Redis
// is configured, so claims only hold for the lifetime of the process.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (r *MemoryRepository) SetNX(ctx context.Context, key string, _ interface{}, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.entries[key]; ok && (expiresAt.IsZero() || now.Before(expiresAt)) {
		return false, nil
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	r.entries[key] = expiresAt
	return true, nil
}

// CountKeys also evicts expired entries.
func (r *MemoryRepository) CountKeys(_ context.Context, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	count := 0
	for key, expiresAt := range r.entries {
		if !expiresAt.IsZero() && !now.Before(expiresAt) {
			delete(r.entries, key)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return count, nil
}
