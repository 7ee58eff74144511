package settings

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source is the system-of-record for setting values. Implemented by the
// setting repository; an empty value with nil error means "not configured".
type Source interface {
	GetValue(key string) (string, error)
}

// Backend is the cache tier underneath the read-through logic.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache is a read-through settings cache with a fixed TTL and explicit
// invalidation. Callers receive it by injection; there is no package-global
// instance.
type Cache struct {
	source  Source
	backend Backend
	ttl     time.Duration
}

// NewCache builds a settings cache over the given source and backend.
func NewCache(source Source, backend Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{source: source, backend: backend, ttl: ttl}
}

// Get returns the setting value for key, consulting the cache tier first and
// falling back to the source on miss or backend failure. Values loaded from
// the source are cached for the configured TTL.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	if v, ok, err := c.backend.Get(ctx, cacheKey(key)); err == nil && ok {
		return v, nil
	} else if err != nil {
		log.Printf("settings cache read failed for %s: %v", key, err)
	}

	v, err := c.source.GetValue(key)
	if err != nil {
		return "", err
	}
	if err := c.backend.Set(ctx, cacheKey(key), v, c.ttl); err != nil {
		log.Printf("settings cache write failed for %s: %v", key, err)
	}
	return v, nil
}

// GetBool interprets the setting as a boolean, returning def when the setting
// is absent, unreadable or malformed.
func (c *Cache) GetBool(ctx context.Context, key string, def bool) bool {
	v, err := c.Get(ctx, key)
	if err != nil || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Invalidate drops the cached value for key so the next Get re-reads the
// source.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, cacheKey(key))
}

func cacheKey(key string) string {
	return "settings:" + key
}

// RedisBackend stores cached settings in Redis.
type RedisBackend struct {
	Client *redis.Client
}

func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := b.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.Client.Set(ctx, key, value, ttl).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.Client.Del(ctx, key).Err()
}

// MemoryBackend is a process-local Backend used in tests and when no cache
// server is configured.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memoryEntry), now: time.Now}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok || b.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	b.entries[key] = memoryEntry{value: value, expiresAt: b.now().Add(ttl)}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}
