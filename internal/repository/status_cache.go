package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceSim/internal/domain/models"
	"PriceSim/pkg/cache"
)

// RunStatusCache keeps the latest status per run in a cache.Service.
type RunStatusCache struct {
	c   cache.Service
	ttl time.Duration
}

func NewRunStatusCache(c cache.Service, ttl time.Duration) *RunStatusCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RunStatusCache{c: c, ttl: ttl}
}

func statusKey(runID string) string { return cache.GenerateKey("run", runID, "status") }

func (r *RunStatusCache) PutStatus(ctx context.Context, st models.RunStatus) error {
	if err := r.c.Set(ctx, statusKey(st.RunID), st, r.ttl); err != nil {
		return fmt.Errorf("put status %s: %w", st.RunID, err)
	}
	return nil
}

func (r *RunStatusCache) GetStatus(ctx context.Context, runID string) (models.RunStatus, error) {
	var st models.RunStatus
	if err := r.c.Get(ctx, statusKey(runID), &st); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return models.RunStatus{}, fmt.Errorf("%w: %s", models.ErrRunNotFound, runID)
		}
		return models.RunStatus{}, fmt.Errorf("get status %s: %w", runID, err)
	}
	return st, nil
}
