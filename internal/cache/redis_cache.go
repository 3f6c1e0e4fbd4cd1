package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"raito/internal/model"
)

// RedisCache backs both caches with Redis `SET ... EX`. Eviction
// beyond the configured TTL is left to Redis's own
// maxmemory-policy=allkeys-lru, which together with the TTL resolves
// the "size-bounded LRU" default called for by the spec's open
// question on cache eviction.
type RedisCache struct {
	client           *redis.Client
	extractionPrefix string
	contentPrefix    string
	extractionTTL    time.Duration
	contentTTL       time.Duration
}

// NewRedisCache builds a RedisCache. extractionTTL/contentTTL of zero
// mean "no expiry," matching go-redis's SET semantics.
func NewRedisCache(client *redis.Client, extractionTTL, contentTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:           client,
		extractionPrefix: "extraction_cache:",
		contentPrefix:    "content_cache:",
		extractionTTL:    extractionTTL,
		contentTTL:       contentTTL,
	}
}

func (c *RedisCache) GetExtraction(ctx context.Context, key string) (*model.ExtractionCacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.extractionPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get extraction %s: %w", key, err)
	}

	var entry model.ExtractionCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("cache: decode extraction %s: %w", key, err)
	}
	return &entry, true, nil
}

func (c *RedisCache) PutExtraction(ctx context.Context, key string, entry model.ExtractionCacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode extraction %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.extractionPrefix+key, payload, c.extractionTTL).Err(); err != nil {
		return fmt.Errorf("cache: put extraction %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) GetContent(ctx context.Context, key string) (*model.ContentCacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, c.contentPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get content %s: %w", key, err)
	}

	var entry model.ContentCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("cache: decode content %s: %w", key, err)
	}
	return &entry, true, nil
}

func (c *RedisCache) PutContent(ctx context.Context, key string, entry model.ContentCacheEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode content %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.contentPrefix+key, payload, c.contentTTL).Err(); err != nil {
		return fmt.Errorf("cache: put content %s: %w", key, err)
	}
	return nil
}
