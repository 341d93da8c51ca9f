package geo

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/theomodesto/fraudshield/internal/domain"
)

// CachedProvider wraps a GeoProvider with a cache-aside layer. Geo data for
// an address changes rarely, so hits avoid the database read entirely.
// Cache failures degrade to a direct lookup, never to an error.
type CachedProvider struct {
	inner domain.GeoProvider
	cache domain.Cache
	ttl   time.Duration
}

// NewCachedProvider wraps the provider with the given cache. A zero TTL
// defaults to 24 hours.
func NewCachedProvider(inner domain.GeoProvider, cache domain.Cache, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedProvider{inner: inner, cache: cache, ttl: ttl}
}

// Lookup checks the cache first, falling through to the inner provider and
// writing the result back on a miss. Negative results are not cached so a
// database update becomes visible on the next lookup.
func (p *CachedProvider) Lookup(ctx context.Context, ip string) (*domain.GeoInfo, error) {
	key := "geo:" + ip

	if data, err := p.cache.Get(ctx, key); err != nil {
		slog.Warn("geo cache read failed", "error", err)
	} else if data != nil {
		var info domain.GeoInfo
		if err := json.Unmarshal(data, &info); err == nil {
			return &info, nil
		}
	}

	info, err := p.inner.Lookup(ctx, ip)
	if err != nil || info == nil {
		return info, err
	}

	if data, err := json.Marshal(info); err == nil {
		if err := p.cache.Set(ctx, key, data, p.ttl); err != nil {
			slog.Warn("geo cache write failed", "error", err)
		}
	}

	return info, nil
}

// Close closes the inner provider. The cache is shared and owned elsewhere.
func (p *CachedProvider) Close() error {
	return p.inner.Close()
}
