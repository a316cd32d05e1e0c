package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Citation points at the source document an artifact statement came from.
type Citation struct {
	DocID   string `json:"doc_id"`
	Kind    string `json:"kind"`
	Excerpt string `json:"excerpt"`
}

// Artifact is a cached generation result. Expiry is enforced by the
// cache TTL; a missing artifact always means regenerate.
type Artifact struct {
	Summary     string     `json:"summary"`
	Citations   []Citation `json:"citations"`
	GeneratedAt time.Time  `json:"generated_at"`
	Model       string     `json:"model"`
}

// ArtifactCache stores artifacts keyed by (tenant, kind, subject).
type ArtifactCache interface {
	Get(ctx context.Context, tenant, kind, subject string) (*Artifact, error)
	Set(ctx context.Context, tenant, kind, subject string, a *Artifact, ttl time.Duration) error
	Delete(ctx context.Context, tenant, kind, subject string) error
}

// ErrCacheMiss is returned when no artifact exists for the key.
var ErrCacheMiss = errors.New("artifact not cached")

func cacheKey(tenant, kind, subject string) string {
	return fmt.Sprintf("ai:%s:%s:%s", tenant, kind, subject)
}

// RedisArtifactCache backs the cache with Redis.
type RedisArtifactCache struct {
	rdb *redis.Client
}

func NewRedisArtifactCache(redisURL string) (*RedisArtifactCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisArtifactCache{rdb: redis.NewClient(opts)}, nil
}

func (c *RedisArtifactCache) Get(ctx context.Context, tenant, kind, subject string) (*Artifact, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(tenant, kind, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, nil
}

func (c *RedisArtifactCache) Set(ctx context.Context, tenant, kind, subject string, a *Artifact, ttl time.Duration) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := c.rdb.Set(ctx, cacheKey(tenant, kind, subject), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisArtifactCache) Delete(ctx context.Context, tenant, kind, subject string) error {
	if err := c.rdb.Del(ctx, cacheKey(tenant, kind, subject)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping verifies Redis connectivity at startup.
func (c *RedisArtifactCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// MemoryArtifactCache is an in-process cache used in tests and when
// Redis is not configured. Entries expire by wall clock, or by the
// injectable now func in tests.
type MemoryArtifactCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	Now     func() time.Time
}

type memoryEntry struct {
	artifact  Artifact
	expiresAt time.Time
}

func NewMemoryArtifactCache() *MemoryArtifactCache {
	return &MemoryArtifactCache{
		entries: make(map[string]memoryEntry),
		Now:     time.Now,
	}
}

func (c *MemoryArtifactCache) Get(_ context.Context, tenant, kind, subject string) (*Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(tenant, kind, subject)
	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, ErrCacheMiss
	}
	a := entry.artifact
	return &a, nil
}

func (c *MemoryArtifactCache) Set(_ context.Context, tenant, kind, subject string, a *Artifact, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(tenant, kind, subject)] = memoryEntry{artifact: *a, expiresAt: c.Now().Add(ttl)}
	return nil
}

func (c *MemoryArtifactCache) Delete(_ context.Context, tenant, kind, subject string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(tenant, kind, subject))
	return nil
}
