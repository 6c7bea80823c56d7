package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/brandtone/brandtone/internal/config"
	"github.com/brandtone/brandtone/internal/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ConversionCache is a Redis-backed cache of tone conversion results,
// keyed by target tone, model, and input text. Lookups degrade to misses
// on any cache failure so conversion never depends on Redis health.
type ConversionCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *logger.Logger
	hits   int64
	misses int64
}

// NewConversionCache creates a Redis-backed conversion cache
func NewConversionCache(cfg config.CacheConfig, log *logger.Logger) (*ConversionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	cache := &ConversionCache{
		client: client,
		config: cfg,
		logger: log,
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Conversion cache initialized",
		zap.String("address", cfg.Address),
		zap.Duration("ttl", cfg.TTL),
	)

	return cache, nil
}

// Get looks up a cached conversion
func (cc *ConversionCache) Get(ctx context.Context, text, tone, model string) (*CachedConversion, bool) {
	key := cc.key(text, tone, model)

	data, err := cc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		atomic.AddInt64(&cc.misses, 1)
		cc.logger.Debug("Cache miss", zap.String("key", key))
		return nil, false
	} else if err != nil {
		cc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var cached CachedConversion
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		cc.logger.Error("Failed to unmarshal cached conversion", zap.Error(err))
		// Delete corrupted cache entry
		cc.client.Del(ctx, key)
		return nil, false
	}

	atomic.AddInt64(&cc.hits, 1)
	cc.logger.Debug("Cache hit", zap.String("key", key), zap.String("tone", tone))

	return &cached, true
}

// Set stores a conversion result with the configured TTL
func (cc *ConversionCache) Set(ctx context.Context, text string, conversion *CachedConversion) error {
	conversion.CachedAt = time.Now()

	data, err := json.Marshal(conversion)
	if err != nil {
		return fmt.Errorf("failed to marshal conversion for caching: %w", err)
	}

	key := cc.key(text, conversion.TargetTone, conversion.Model)
	if err := cc.client.Set(ctx, key, data, cc.config.TTL).Err(); err != nil {
		cc.logger.Error("Failed to cache conversion", zap.Error(err))
		return fmt.Errorf("failed to cache conversion: %w", err)
	}

	cc.logger.Debug("Conversion cached",
		zap.String("key", key),
		zap.String("tone", conversion.TargetTone),
	)

	return nil
}

// Stats returns cache performance statistics
func (cc *ConversionCache) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{
		Hits:   atomic.LoadInt64(&cc.hits),
		Misses: atomic.LoadInt64(&cc.misses),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	keys, err := cc.client.DBSize(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis key count: %w", err)
	}
	stats.TotalKeys = keys

	return stats, nil
}

// Clear removes all cached conversions under this cache's key prefix
func (cc *ConversionCache) Clear(ctx context.Context) error {
	pattern := cc.config.KeyPrefix + "*"

	iter := cc.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	// Delete keys in batches
	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := cc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	cc.logger.Info("Conversion cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// Close closes the Redis connection
func (cc *ConversionCache) Close() error {
	if cc.client != nil {
		return cc.client.Close()
	}
	return nil
}

// key builds a cache key from the conversion inputs
func (cc *ConversionCache) key(text, tone, model string) string {
	hasher := sha256.New()
	hasher.Write([]byte(tone))
	hasher.Write([]byte{0})
	hasher.Write([]byte(model))
	hasher.Write([]byte{0})
	hasher.Write([]byte(text))

	hash := hex.EncodeToString(hasher.Sum(nil))
	return cc.config.KeyPrefix + hash[:16]
}
