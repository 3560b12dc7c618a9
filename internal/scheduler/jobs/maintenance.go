package jobs

import (
	"context"

	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

// CacheCleanupJob removes expired snapshot cache entries.
type CacheCleanupJob struct {
	cache  contracts.SnapshotCache
	logger *logger.Logger
}

// NewCacheCleanupJob creates a new cache cleanup job.
func NewCacheCleanupJob(snapshots contracts.SnapshotCache, log *logger.Logger) *CacheCleanupJob {
	return &CacheCleanupJob{
		cache:  snapshots,
		logger: log,
	}
}

// Name returns the job name.
func (j *CacheCleanupJob) Name() string {
	return "cache_cleanup"
}

// Schedule fires nightly at 03:30, well clear of the refresh window.
func (j *CacheCleanupJob) Schedule() string {
	return "0 30 3 * * *"
}

// Run executes the cache cleanup.
func (j *CacheCleanupJob) Run(ctx context.Context) error {
	j.logger.Debug("Starting scheduled cache cleanup")

	count, err := j.cache.ClearExpired(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		j.logger.WithField("removed", count).Info("Cache cleanup completed")
	}
	return nil
}
