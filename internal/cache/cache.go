package cache

import (
	"context"
	"time"

	"solemate/backend/internal/domain"
)

// DashboardCache holds pre-aggregated dashboard snapshots. Invalidate is
// called after every sale, refund, stock mutation and import so a cached
// dashboard never outlives the data it summarizes by more than the TTL.
type DashboardCache interface {
	Get(ctx context.Context, key string) (*domain.Dashboard, bool, error)
	Set(ctx context.Context, key string, value *domain.Dashboard, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.Dashboard, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *domain.Dashboard, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
