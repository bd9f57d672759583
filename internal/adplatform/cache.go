package adplatform

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-commerce/kestrel/internal/domain"
)

// DefaultMetricTTL keeps a fetched metric fresh enough for one pass
// while sparing the gateway when many rules read the same metric.
const DefaultMetricTTL = 2 * time.Minute

// CachedMetricProvider wraps a metric provider with a short-TTL cache.
// Only successful reads are cached; failures always retry upstream.
type CachedMetricProvider struct {
	upstream domain.MetricProvider
	cache    domain.Cache
	ttl      time.Duration
}

// NewCachedMetricProvider creates a caching layer over a provider.
// A zero TTL uses DefaultMetricTTL.
func NewCachedMetricProvider(upstream domain.MetricProvider, cache domain.Cache, ttl time.Duration) *CachedMetricProvider {
	if ttl <= 0 {
		ttl = DefaultMetricTTL
	}
	return &CachedMetricProvider{
		upstream: upstream,
		cache:    cache,
		ttl:      ttl,
	}
}

// GetMetric serves from cache when possible, fetching and caching on miss.
func (p *CachedMetricProvider) GetMetric(ctx context.Context, tenantID string, entity domain.EntityRef, metric domain.MetricType, windowDays int) (float64, error) {
	key := metricKey(entity, metric, windowDays)

	if data, err := p.cache.Get(ctx, tenantID, key); err == nil && data != nil {
		if v, err := strconv.ParseFloat(string(data), 64); err == nil {
			return v, nil
		}
	}

	v, err := p.upstream.GetMetric(ctx, tenantID, entity, metric, windowDays)
	if err != nil {
		return 0, err
	}

	// Cache failures are not worth failing the evaluation over.
	_ = p.cache.Set(ctx, tenantID, key, []byte(strconv.FormatFloat(v, 'g', -1, 64)), p.ttl)
	return v, nil
}

func metricKey(entity domain.EntityRef, metric domain.MetricType, windowDays int) string {
	return fmt.Sprintf("metric:%s:%s:%s:%d", entity.Platform, entity.ID, metric, windowDays)
}
