package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

const (
	// calendarStaleAfter is how old the newest known calendar date may
	// get before the calendar is re-fetched.
	calendarStaleAfter = 180 * 24 * time.Hour
	// calendarSpan is how far the calendar fetch reaches into the past
	// and the future.
	calendarSpan = 365 * 24 * time.Hour

	// Source-side request ceilings for the daily-bar endpoint.
	maxRowsPerRequest  = 6000
	maxCodesPerRequest = 1000
)

const dateLayout = "20060102"

// Manager keeps the local tables in sync with the market data source.
// Its methods are idempotent; each one checks what is already present
// before fetching.
type Manager struct {
	source     contracts.MarketData
	securities contracts.SecurityStore
	bars       contracts.BarStore
	calendars  contracts.CalendarStore
	log        *logger.Logger
	now        func() time.Time
}

// NewManager creates an ingestion manager.
func NewManager(source contracts.MarketData, securities contracts.SecurityStore, bars contracts.BarStore, calendars contracts.CalendarStore, log *logger.Logger) *Manager {
	return &Manager{
		source:     source,
		securities: securities,
		bars:       bars,
		calendars:  calendars,
		log:        log,
		now:        time.Now,
	}
}

// WithClock overrides the manager's clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// UpdateCalendarIfNeeded re-fetches one exchange's trading calendar
// when the stored one is empty or its newest date has gone stale.
func (m *Manager) UpdateCalendarIfNeeded(ctx context.Context, exchange string) error {
	latest, err := m.calendars.LatestDate(ctx, exchange)
	if err != nil {
		return fmt.Errorf("check calendar freshness for %s: %w", exchange, err)
	}

	if latest != "" {
		latestAt, err := time.ParseInLocation(dateLayout, latest, time.Local)
		if err != nil {
			return fmt.Errorf("parse latest calendar date %q: %w", latest, err)
		}
		if m.now().Sub(latestAt) < calendarStaleAfter {
			m.log.Debugf("calendar for %s is current through %s", exchange, latest)
			return nil
		}
		m.log.Infof("calendar for %s is stale (latest %s), refreshing", exchange, latest)
	} else {
		m.log.Infof("calendar for %s is empty, fetching", exchange)
	}

	now := m.now()
	start := now.Add(-calendarSpan).Format(dateLayout)
	end := now.Add(calendarSpan).Format(dateLayout)

	days, err := m.source.TradeCalendar(ctx, exchange, start, end)
	if err != nil {
		return fmt.Errorf("fetch calendar for %s: %w", exchange, err)
	}
	if err := m.calendars.UpsertBatch(ctx, days); err != nil {
		return fmt.Errorf("store calendar for %s: %w", exchange, err)
	}
	m.log.Infof("stored %d calendar rows for %s", len(days), exchange)
	return nil
}

// RefreshSecurities re-fetches the security reference data.
func (m *Manager) RefreshSecurities(ctx context.Context) error {
	secs, err := m.source.SecurityList(ctx)
	if err != nil {
		return fmt.Errorf("fetch security list: %w", err)
	}
	if err := m.securities.UpsertBatch(ctx, secs); err != nil {
		return fmt.Errorf("store security list: %w", err)
	}
	m.log.Infof("refreshed %d securities", len(secs))
	return nil
}

// EnsureSecurityBars fills the daily-bar table for the whole security
// universe across [start, end]. If both endpoints already have data the
// range is considered covered and nothing is fetched; otherwise the
// range is narrowed to the actual gap before batching requests.
func (m *Manager) EnsureSecurityBars(ctx context.Context, exchange, start, end string) error {
	hasStart, err := m.bars.HasDate(ctx, start, nil)
	if err != nil {
		return fmt.Errorf("check bar coverage at %s: %w", start, err)
	}
	hasEnd, err := m.bars.HasDate(ctx, end, nil)
	if err != nil {
		return fmt.Errorf("check bar coverage at %s: %w", end, err)
	}
	if hasStart && hasEnd {
		m.log.Infof("security bars already cover %s..%s, skipping fetch", start, end)
		return nil
	}

	start, end, err = m.narrowGap(ctx, exchange, start, end, hasStart, hasEnd)
	if err != nil {
		return err
	}

	codes, err := m.securities.ListCodes(ctx)
	if err != nil {
		return fmt.Errorf("list security codes: %w", err)
	}
	if len(codes) == 0 {
		m.log.Warn("no securities known, nothing to fetch")
		return nil
	}

	tradingDays, err := m.calendars.CountOpen(ctx, exchange, start, end)
	if err != nil {
		return fmt.Errorf("count trading days %s..%s: %w", start, end, err)
	}
	size := batchSize(tradingDays)

	m.log.WithFields(map[string]interface{}{
		"codes":        len(codes),
		"start":        start,
		"end":          end,
		"trading_days": tradingDays,
		"batch_size":   size,
	}).Info("fetching security bars")

	fetched := 0
	for i := 0; i < len(codes); i += size {
		batch := codes[i:min(i+size, len(codes))]
		bars, err := m.source.DailyBars(ctx, batch, start, end)
		if err != nil {
			m.log.WithError(err).Warnf("bar fetch failed for batch starting at %s, continuing", batch[0])
			continue
		}
		if err := m.bars.UpsertBatch(ctx, bars); err != nil {
			m.log.WithError(err).Warnf("bar store failed for batch starting at %s, continuing", batch[0])
			continue
		}
		fetched += len(bars)
	}
	m.log.Infof("stored %d security bars", fetched)
	return nil
}

// narrowGap shrinks [start, end] to the dates actually missing, using
// the stored data's boundary dates and the trading calendar.
func (m *Manager) narrowGap(ctx context.Context, exchange, start, end string, hasStart, hasEnd bool) (string, string, error) {
	if !hasEnd {
		latest, err := m.bars.LatestDate(ctx, nil)
		if err != nil {
			return "", "", fmt.Errorf("find latest stored bar date: %w", err)
		}
		if latest != "" {
			next, err := m.calendars.NextOpen(ctx, exchange, latest)
			if err != nil {
				return "", "", fmt.Errorf("find trading day after %s: %w", latest, err)
			}
			if next != "" {
				m.log.Infof("bars stored through %s, fetching from %s", latest, next)
				start = next
			}
		}
		return start, end, nil
	}

	// Start missing with the end covered: backfill up to the day before
	// the earliest stored date.
	earliest, err := m.bars.EarliestDate(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("find earliest stored bar date: %w", err)
	}
	if earliest != "" {
		prev, err := m.calendars.PrevOpen(ctx, exchange, earliest)
		if err != nil {
			return "", "", fmt.Errorf("find trading day before %s: %w", earliest, err)
		}
		if prev != "" {
			m.log.Infof("bars stored from %s, backfilling through %s", earliest, prev)
			end = prev
		}
	}
	return start, end, nil
}

// EnsureIndexBars fetches daily bars for the benchmark indices across
// [start, end]. Indices are fetched one by one; a failing index is
// logged and skipped.
func (m *Manager) EnsureIndexBars(ctx context.Context, codes []string, start, end string) error {
	fetched := 0
	for _, code := range codes {
		bars, err := m.source.IndexDaily(ctx, code, start, end)
		if err != nil {
			m.log.WithError(err).Warnf("index fetch failed for %s, continuing", code)
			continue
		}
		if err := m.bars.UpsertBatch(ctx, bars); err != nil {
			m.log.WithError(err).Warnf("index store failed for %s, continuing", code)
			continue
		}
		fetched += len(bars)
	}
	m.log.Infof("stored %d index bars for %d indices", fetched, len(codes))
	return nil
}

// batchSize computes how many codes fit in one daily-bar request given
// the row and code ceilings.
func batchSize(tradingDays int) int {
	if tradingDays < 1 {
		tradingDays = 1
	}
	byRows := maxRowsPerRequest / tradingDays
	if byRows < 1 {
		byRows = 1
	}
	if byRows > maxCodesPerRequest {
		return maxCodesPerRequest
	}
	return byRows
}
