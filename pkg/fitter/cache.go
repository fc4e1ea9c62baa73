package fitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/metrics"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultCacheTTL is how long fitted parameters stay in Redis.
const DefaultCacheTTL = 48 * time.Hour

const cacheKeyPrefix = "bgp-leakscan:fit:"

// KeyedFitter is a fitter whose search space can be identified.
type KeyedFitter interface {
	detector.Fitter
	CacheKey() string
}

// Cache stores fitted parameters per (search space, dataset) in process
// and, when a client is configured, in Redis.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
	local sync.Map // key -> models.Parameters
}

// NewCache creates a cache. redisClient may be nil.
func NewCache(redisClient *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{redis: redisClient, ttl: ttl}
}

// Key builds the cache key of a search space applied to a dataset.
func Key(space string, data *models.Dataset) string {
	return fmt.Sprintf("%s%s:%016x", cacheKeyPrefix, space, data.Fingerprint())
}

// Get returns the cached parameters for key.
func (c *Cache) Get(ctx context.Context, key string) (models.Parameters, bool) {
	if val, ok := c.local.Load(key); ok {
		return val.(models.Parameters), true
	}
	if c.redis == nil {
		return models.Parameters{}, false
	}

	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).Warn("Fit cache lookup failed")
		}
		return models.Parameters{}, false
	}
	var params models.Parameters
	if err := json.Unmarshal(raw, &params); err != nil {
		log.WithError(err).Warnf("Ignoring corrupt fit cache entry %s", key)
		return models.Parameters{}, false
	}
	if err := params.Validate(); err != nil {
		log.WithError(err).Warnf("Ignoring invalid fit cache entry %s", key)
		return models.Parameters{}, false
	}
	c.local.Store(key, params)
	return params, true
}

// Set stores params under key.
func (c *Cache) Set(ctx context.Context, key string, params models.Parameters) {
	c.local.Store(key, params)
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(params)
	if err != nil {
		log.WithError(err).Warn("Failed to encode fitted parameters")
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.WithError(err).Warn("Fit cache store failed")
	}
}

// CachedFitter serves fits from a Cache and only runs the wrapped fitter on a miss.
type CachedFitter struct {
	fitter  KeyedFitter
	cache   *Cache
	metrics *metrics.Recorder
}

// NewCachedFitter wraps fitter with cache. rec may be nil.
func NewCachedFitter(fitter KeyedFitter, cache *Cache, rec *metrics.Recorder) *CachedFitter {
	return &CachedFitter{fitter: fitter, cache: cache, metrics: rec}
}

var _ detector.Fitter = (*CachedFitter)(nil)

// Fit returns cached parameters for data or fits and caches them.
func (f *CachedFitter) Fit(ctx context.Context, data *models.Dataset) (models.Parameters, error) {
	key := Key(f.fitter.CacheKey(), data)
	if params, ok := f.cache.Get(ctx, key); ok {
		f.metrics.FitCacheHit()
		log.WithField("key", key).Debugf("Using cached parameters %s", params)
		return params, nil
	}

	params, err := f.fitter.Fit(ctx, data)
	if err != nil {
		return models.Parameters{}, err
	}
	f.cache.Set(ctx, key, params)
	return params, nil
}
