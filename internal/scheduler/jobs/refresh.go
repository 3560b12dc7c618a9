package jobs

import (
	"context"

	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

// DataRefreshJob runs the daily refresh: calendar, securities, bars and
// the ranking snapshot.
type DataRefreshJob struct {
	refresher contracts.Refresher
	logger    *logger.Logger
}

// NewDataRefreshJob creates the daily refresh job.
func NewDataRefreshJob(refresher contracts.Refresher, log *logger.Logger) *DataRefreshJob {
	return &DataRefreshJob{
		refresher: refresher,
		logger:    log,
	}
}

// Name returns the job name.
func (j *DataRefreshJob) Name() string {
	return "data_refresh"
}

// Schedule fires daily at 17:00, once end-of-day bars are published.
func (j *DataRefreshJob) Schedule() string {
	return "0 0 17 * * *"
}

// Run executes the refresh.
func (j *DataRefreshJob) Run(ctx context.Context) error {
	j.logger.Info("Starting scheduled data refresh")
	return j.refresher.Refresh(ctx)
}
