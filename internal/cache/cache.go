package cache

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"tillcore/backend/internal/domain"
	"tillcore/backend/internal/metrics"
)

// SaleCache stores committed sales. Only committed sales may be cached: an
// open sale still changes.
type SaleCache interface {
	Get(ctx context.Context, ticket int64) (*domain.Sale, bool, error)
	Set(ctx context.Context, sale *domain.Sale, ttl time.Duration) error
	Delete(ctx context.Context, ticket int64) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ int64) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ *domain.Sale, _ time.Duration) error {
	return nil
}

func (NoopSaleCache) Delete(_ context.Context, _ int64) error {
	return nil
}

// ReadThrough serves committed sales from the cache and coalesces concurrent
// misses for the same ticket into one load.
type ReadThrough struct {
	cache SaleCache
	ttl   time.Duration
	group singleflight.Group
}

func NewReadThrough(cache SaleCache, ttl time.Duration) *ReadThrough {
	return &ReadThrough{cache: cache, ttl: ttl}
}

// Get returns the cached sale or calls load. Cache errors never fail the read;
// the loaded sale is stored only when it is committed.
func (r *ReadThrough) Get(ctx context.Context, ticket int64, load func(ctx context.Context) (*domain.Sale, error)) (*domain.Sale, error) {
	if sale, ok, err := r.cache.Get(ctx, ticket); err == nil && ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return sale, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	// The shared load outlives any single caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(strconv.FormatInt(ticket, 10), func() (any, error) {
		sale, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if sale.IsCommitted() {
			_ = r.cache.Set(loadCtx, sale, r.ttl)
		}
		return sale, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sale := res.Val.(*domain.Sale).Clone()
		return &sale, nil
	}
}

func (r *ReadThrough) Invalidate(ctx context.Context, ticket int64) error {
	r.group.Forget(strconv.FormatInt(ticket, 10))
	return r.cache.Delete(ctx, ticket)
}
