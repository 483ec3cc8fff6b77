// Package storagewrappers composes caching, request deduplication, and retry
// behavior around a [storage.NameResolver]. The wrappers are independent and
// stack in any order; the server composes retry -> singleflight -> cache so
// concurrent graph expansions share one datastore read per distinct lookup.
package storagewrappers

import (
	"context"
	"strconv"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/credmesh/credmesh/internal/build"
	"github.com/credmesh/credmesh/pkg/crypto"
	"github.com/credmesh/credmesh/pkg/logger"
	"github.com/credmesh/credmesh/pkg/storage"
)

const (
	defaultLookupCacheSize = 10000
	defaultLookupCacheTTL  = 10 * time.Second
)

var (
	lookupCacheTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "lookup_cache_total_count",
		Help:      "The total number of lookups passing through the record cache.",
	})

	lookupCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "lookup_cache_hit_count",
		Help:      "The total number of lookups served from the record cache.",
	})
)

// CachedResolver serves record lookups from an in-memory cache before
// delegating to the underlying resolver. Cached record slices are shared
// between callers and must be treated as read-only.
type CachedResolver struct {
	delegate     storage.NameResolver
	cache        *theine.Cache[string, []storage.Record]
	maxCacheSize int64
	cacheTTL     time.Duration
	logger       logger.Logger
	// allocatedCache denotes whether the cache is allocated by this struct.
	// If so, CachedResolver is responsible for cleaning it up.
	allocatedCache bool
}

var _ storage.NameResolver = (*CachedResolver)(nil)

// CachedResolverOpt defines an option that can be used to change the behavior
// of a CachedResolver instance.
type CachedResolverOpt func(*CachedResolver)

// WithMaxCacheSize sets the maximum number of cached lookups. Past this size
// entries are evicted by the cache's admission policy.
func WithMaxCacheSize(size int64) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.maxCacheSize = size
	}
}

// WithCacheTTL sets the TTL for any single cached lookup result.
func WithCacheTTL(ttl time.Duration) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.cacheTTL = ttl
	}
}

// WithExistingCache sets the cache to the specified cache. The original cache
// will not be closed as it may still be used by others; it is up to the
// caller to close it.
func WithExistingCache(cache *theine.Cache[string, []storage.Record]) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.cache = cache
	}
}

// WithCacheLogger sets the logger for the cached resolver.
func WithCacheLogger(l logger.Logger) CachedResolverOpt {
	return func(c *CachedResolver) {
		c.logger = l
	}
}

// NewCachedResolver constructs a resolver that delegates lookups to the
// provided delegate, serving repeated lookups of the same (zone, label, type)
// from cache for the configured TTL.
func NewCachedResolver(delegate storage.NameResolver, opts ...CachedResolverOpt) (*CachedResolver, error) {
	resolver := &CachedResolver{
		delegate:     delegate,
		maxCacheSize: defaultLookupCacheSize,
		cacheTTL:     defaultLookupCacheTTL,
		logger:       logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(resolver)
	}

	if resolver.cache == nil {
		cache, err := theine.NewBuilder[string, []storage.Record](resolver.maxCacheSize).Build()
		if err != nil {
			return nil, err
		}
		resolver.cache = cache
		resolver.allocatedCache = true
	}

	return resolver, nil
}

// Close deallocates the resources allocated by the CachedResolver. It will
// not close a cache passed in via WithExistingCache.
func (c *CachedResolver) Close() {
	if c.allocatedCache {
		c.cache.Close()
		c.cache = nil
	}
}

// LookupRecords see [storage.NameResolver].LookupRecords.
func (c *CachedResolver) LookupRecords(ctx context.Context, zone crypto.PublicKey, label string, rtype storage.RecordType) ([]storage.Record, error) {
	lookupCacheTotalCounter.Inc()

	key := lookupCacheKey(zone, label, rtype)

	if records, ok := c.cache.Get(key); ok {
		lookupCacheHitCounter.Inc()
		return records, nil
	}

	records, err := c.delegate.LookupRecords(ctx, zone, label, rtype)
	if err != nil {
		return nil, err
	}

	// Empty results are cached too: absent labels are the common case while
	// walking the delegation graph.
	c.cache.SetWithTTL(key, records, 1, c.cacheTTL)

	return records, nil
}

// lookupCacheKey converts a lookup into a stable cache key.
func lookupCacheKey(zone crypto.PublicKey, label string, rtype storage.RecordType) string {
	hasher := xxhash.New()
	_, _ = hasher.Write(zone[:])
	_, _ = hasher.WriteString("/" + label + "#" + strconv.Itoa(int(rtype)))
	return strconv.FormatUint(hasher.Sum64(), 10)
}
