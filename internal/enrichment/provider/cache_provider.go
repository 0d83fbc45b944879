package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
)

// CacheProvider is a cache-aside layer in front of another provider. Redis
// failures are logged and fall through to the wrapped provider.
type CacheProvider struct {
	next   Provider
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCacheProvider(next Provider, client *redis.Client, ttl time.Duration, log logger.Logger) *CacheProvider {
	if log == nil {
		log = logger.NopLogger()
	}
	return &CacheProvider{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (p *CacheProvider) Name() string {
	return constants.ProviderNameCache
}

func cacheKey(number string) string {
	return constants.CacheKeyPrefixEnrich + number
}

func (p *CacheProvider) Lookup(ctx context.Context, number string) (map[string]interface{}, error) {
	key := cacheKey(number)

	val, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var cached map[string]interface{}
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			p.logger.DebugwCtx(ctx, "Enrichment cache hit", "key", key)
			return cached, nil
		}
		p.logger.WarnwCtx(ctx, "Discarding undecodable cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		p.logger.WarnwCtx(ctx, "Enrichment cache read failed",
			"key", key,
			"error", err,
		)
	}

	result, err := p.next.Lookup(ctx, number)
	if err != nil {
		return nil, err
	}

	p.store(ctx, key, result)
	return result, nil
}

func (p *CacheProvider) store(ctx context.Context, key string, result map[string]interface{}) {
	if p.ttl <= 0 {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := p.client.Set(ctx, key, data, p.ttl).Err(); err != nil {
		p.logger.WarnwCtx(ctx, "Enrichment cache write failed",
			"key", key,
			"error", err,
		)
	}
}
