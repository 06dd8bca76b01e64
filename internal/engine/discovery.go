package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/discovery"
	"gator-clubs/internal/geo"
)

type DiscoveryQuery struct {
	UserLocation *geo.Point
	Query        string
	RadiusKm     float64
	Limit        int
}

// Discovery ranks the current snapshot. It never goes through the shards.
func (e *Engine) Discovery(ctx context.Context, q DiscoveryQuery) (discovery.Feed, error) {
	startTime := time.Now()
	defer func() { e.metrics.AddOperationLatency("discovery", time.Since(startTime)) }()

	snap, err := e.loadSnapshot(ctx)
	if err != nil {
		return discovery.Feed{}, err
	}
	radius := q.RadiusKm
	if radius <= 0 {
		radius = e.cfg.NearbyRadiusKm
	}
	return discovery.Build(snap.Communities, discovery.Options{
		UserLocation:  q.UserLocation,
		Query:         q.Query,
		RadiusKm:      radius,
		Limit:         q.Limit,
		PostsInWindow: snap.PostsInWindow,
	}), nil
}

// loadSnapshot serves from the cache; concurrent misses share one store read.
func (e *Engine) loadSnapshot(ctx context.Context) (*cache.Snapshot, error) {
	if snap, err := e.snapshot.Get(ctx); err != nil {
		e.log.Warn("discovery cache read failed", zap.Error(err))
	} else if snap != nil {
		return snap, nil
	}

	v, err, _ := e.fill.Do("snapshot", func() (interface{}, error) {
		communities, err := e.store.ListCommunities(ctx)
		if err != nil {
			return nil, err
		}
		now := e.now()
		posts, err := e.store.PostCountsSince(ctx, now.Add(-e.cfg.TrendingWindow))
		if err != nil {
			return nil, err
		}
		snap := &cache.Snapshot{Communities: communities, PostsInWindow: posts, TakenAt: now}
		if err := e.snapshot.Set(ctx, snap); err != nil {
			e.log.Warn("discovery cache write failed", zap.Error(err))
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cache.Snapshot), nil
}

func (e *Engine) invalidate(ctx context.Context) {
	if err := e.snapshot.Invalidate(ctx); err != nil {
		e.log.Warn("discovery cache invalidate failed", zap.Error(err))
	}
}
