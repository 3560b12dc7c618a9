package refresh

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/luwei/stockwatch/internal/cache"
	"github.com/luwei/stockwatch/internal/calendar"
	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/internal/ranking"
	"github.com/luwei/stockwatch/pkg/logger"
)

// refreshWindowDays is how many trading days of bar data the daily
// refresh keeps available; enough for the 30-day ranking plus slack.
const refreshWindowDays = 40

// The two ranking configurations every refresh produces.
var (
	threshold10 = 100.0
	threshold30 = 200.0
)

const rankingTopN = 30

// Ingestor is the slice of the ingestion manager the orchestrator
// drives.
type Ingestor interface {
	UpdateCalendarIfNeeded(ctx context.Context, exchange string) error
	RefreshSecurities(ctx context.Context) error
	EnsureSecurityBars(ctx context.Context, exchange, start, end string) error
	EnsureIndexBars(ctx context.Context, codes []string, start, end string) error
}

// Computer runs one ranking configuration.
type Computer interface {
	Compute(ctx context.Context, p ranking.Params) ([]*contracts.RankingRecord, error)
}

// Orchestrator runs the daily data refresh: calendar, reference data,
// bars, both rankings, cache fill. Safe to trigger concurrently; only
// one refresh runs at a time and late triggers share its outcome.
type Orchestrator struct {
	ingest   Ingestor
	computer Computer
	cache    contracts.SnapshotCache
	calendar *calendar.Accessor
	markets  ranking.MarketConfig
	log      *logger.Logger
	now      func() time.Time

	group singleflight.Group
}

// New creates a refresh orchestrator.
func New(ingest Ingestor, computer Computer, snapshots contracts.SnapshotCache, cal *calendar.Accessor, markets ranking.MarketConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		ingest:   ingest,
		computer: computer,
		cache:    snapshots,
		calendar: cal,
		markets:  markets,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the orchestrator's clock, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Refresh runs the full daily procedure. Concurrent callers are
// coalesced into a single run and all receive its result.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	_, err, shared := o.group.Do("daily-refresh", func() (interface{}, error) {
		return nil, o.run(ctx)
	})
	if shared {
		o.log.Debug("refresh joined an in-flight run")
	}
	return err
}

// run executes the refresh steps. Ingestion steps are independently
// best-effort: a failure is logged and the run proceeds with whatever
// data is available. Ranking and cache failures propagate.
func (o *Orchestrator) run(ctx context.Context) error {
	started := o.now()
	o.log.Info("starting data refresh")

	for _, exchange := range []string{contracts.ExchangeSSE, contracts.ExchangeSZSE} {
		if err := o.ingest.UpdateCalendarIfNeeded(ctx, exchange); err != nil {
			o.log.WithError(err).Warnf("calendar update failed for %s, continuing", exchange)
		}
	}

	if err := o.ingest.RefreshSecurities(ctx); err != nil {
		o.log.WithError(err).Warn("security refresh failed, continuing")
	}

	window, err := o.dataWindow(ctx)
	if err != nil {
		o.log.WithError(err).Warn("could not determine data window, skipping bar refresh")
	} else if len(window) == 0 {
		o.log.Warn("no trading days known, skipping bar refresh")
	} else {
		start, end := window[0], window[len(window)-1]

		if err := o.ingest.EnsureSecurityBars(ctx, o.calendar.Exchange(), start, end); err != nil {
			o.log.WithError(err).Warn("security bar refresh failed, continuing")
		}
		if err := o.ingest.EnsureIndexBars(ctx, o.markets.IndexCodes(), start, end); err != nil {
			o.log.WithError(err).Warn("index bar refresh failed, continuing")
		}
	}

	if err := o.fillCache(ctx); err != nil {
		return err
	}

	o.log.Infof("data refresh complete in %s", o.now().Sub(started).Round(time.Millisecond))
	return nil
}

// dataWindow returns the last refreshWindowDays trading days. The
// window ends today only once today's bars can exist: a trading day
// after the 17:00 publication cutover. Otherwise it ends on the
// previous trading day.
func (o *Orchestrator) dataWindow(ctx context.Context) ([]string, error) {
	now := o.now()
	today := now.Format("20060102")

	open, _, err := o.calendar.IsTradingDay(ctx, today)
	if err != nil {
		return nil, err
	}

	end := today
	if !open || now.Hour() < 17 {
		end, err = o.calendar.PreviousTradingDay(ctx, today)
		if err != nil {
			return nil, err
		}
		if end == "" {
			return nil, nil
		}
	}

	return o.calendar.LastNTradingDays(ctx, refreshWindowDays, end)
}

// fillCache computes both rankings and writes the combined snapshot to
// the current and previous slots. Writing both is what lets a query
// before the cutover still find a valid snapshot.
func (o *Orchestrator) fillCache(ctx context.Context) error {
	stocks10, err := o.computer.Compute(ctx, ranking.Params{
		WindowDays:     10,
		Threshold:      &threshold10,
		IncludeChiNext: true,
		TopN:           rankingTopN,
	})
	if err != nil {
		return fmt.Errorf("compute 10-day ranking: %w", err)
	}

	stocks30, err := o.computer.Compute(ctx, ranking.Params{
		WindowDays:     30,
		Threshold:      &threshold30,
		IncludeChiNext: true,
		TopN:           rankingTopN,
	})
	if err != nil {
		return fmt.Errorf("compute 30-day ranking: %w", err)
	}

	payload := &contracts.RankingPayload{Stocks10: stocks10, Stocks30: stocks30}

	if err := o.cache.Set(ctx, cache.KeyCurrent, payload, cache.SnapshotTTL, ""); err != nil {
		return fmt.Errorf("write current snapshot: %w", err)
	}
	if err := o.cache.Set(ctx, cache.KeyPrevious, payload, cache.SnapshotTTL, ""); err != nil {
		return fmt.Errorf("write previous snapshot: %w", err)
	}

	o.log.Infof("snapshot cached: %d in 10-day ranking, %d in 30-day ranking", len(stocks10), len(stocks30))
	return nil
}
