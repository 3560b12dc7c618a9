package calendar

import (
	"context"
	"fmt"

	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

// Accessor answers trading-day questions for one exchange, backed by the
// trading calendar table.
type Accessor struct {
	store    contracts.CalendarStore
	exchange string
	logger   *logger.Logger
}

// New creates a calendar accessor scoped to one exchange.
func New(store contracts.CalendarStore, exchange string, log *logger.Logger) *Accessor {
	return &Accessor{
		store:    store,
		exchange: exchange,
		logger:   log,
	}
}

// Exchange returns the exchange this accessor is scoped to.
func (a *Accessor) Exchange() string {
	return a.exchange
}

// IsTradingDay reports whether date is an open trading day. known is
// false when no calendar row exists for the date; callers should treat
// that as "not a trading day" for cutover decisions.
func (a *Accessor) IsTradingDay(ctx context.Context, date string) (open bool, known bool, err error) {
	day, err := a.store.Get(ctx, a.exchange, date)
	if err != nil {
		return false, false, fmt.Errorf("lookup trading day %s/%s: %w", a.exchange, date, err)
	}
	if day == nil {
		a.logger.WithFields(map[string]interface{}{
			"exchange": a.exchange,
			"date":     date,
		}).Warn("No calendar row for date, assuming non-trading day")
		return false, false, nil
	}
	return day.IsOpen, true, nil
}

// PreviousTradingDay returns the nearest open date strictly before date,
// or "" when the calendar has none.
func (a *Accessor) PreviousTradingDay(ctx context.Context, date string) (string, error) {
	prev, err := a.store.PrevOpen(ctx, a.exchange, date)
	if err != nil {
		return "", fmt.Errorf("previous trading day before %s: %w", date, err)
	}
	return prev, nil
}

// NextTradingDay returns the nearest open date strictly after date, or
// "" when the calendar has none.
func (a *Accessor) NextTradingDay(ctx context.Context, date string) (string, error) {
	next, err := a.store.NextOpen(ctx, a.exchange, date)
	if err != nil {
		return "", fmt.Errorf("next trading day after %s: %w", date, err)
	}
	return next, nil
}

// TradingDayCount returns the inclusive count of open days in
// [start, end]. Used to size data-source batch requests; the ranking
// window itself is derived from observed bar dates, not the calendar.
func (a *Accessor) TradingDayCount(ctx context.Context, start, end string) (int, error) {
	count, err := a.store.CountOpen(ctx, a.exchange, start, end)
	if err != nil {
		return 0, fmt.Errorf("count trading days %s..%s: %w", start, end, err)
	}
	return count, nil
}

// LastNTradingDays returns the n open days with date <= asOf, ascending.
// Fewer than n available is reported with a warning, not an error.
func (a *Accessor) LastNTradingDays(ctx context.Context, n int, asOf string) ([]string, error) {
	days, err := a.store.LastNOpen(ctx, a.exchange, n, asOf)
	if err != nil {
		return nil, fmt.Errorf("last %d trading days as of %s: %w", n, asOf, err)
	}
	if len(days) < n {
		a.logger.WithFields(map[string]interface{}{
			"exchange":  a.exchange,
			"requested": n,
			"found":     len(days),
		}).Warn("Fewer trading days available than requested")
	}
	return days, nil
}

// LatestDate returns the most recent calendar date known for this
// exchange, open or not.
func (a *Accessor) LatestDate(ctx context.Context) (string, error) {
	return a.store.LatestDate(ctx, a.exchange)
}
