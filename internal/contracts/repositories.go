package contracts

import (
	"context"
	"time"
)

// Repository interfaces are defined only here.

// SecurityStore manages security reference data.
type SecurityStore interface {
	GetByCode(ctx context.Context, code string) (*Security, error)
	// ListBySegments returns securities whose market segment is in the
	// given set, keyed by ts_code.
	ListBySegments(ctx context.Context, segments []MarketSegment) (map[string]*Security, error)
	ListCodes(ctx context.Context) ([]string, error)
	UpsertBatch(ctx context.Context, securities []*Security) error
}

// BarStore manages daily bars for securities and benchmark indices.
// A nil codes argument scopes a query to the security universe (bars
// whose instrument has a reference row); an explicit code set scopes it
// to those instruments, which is how index bars are addressed.
type BarStore interface {
	// DistinctSecurityDates returns the most recent distinct trade dates
	// present in the security bars, descending, at most limit entries.
	DistinctSecurityDates(ctx context.Context, limit int) ([]string, error)
	// PrevCloseByDate returns ts_code -> pre_close at the given date for
	// securities in the segment set.
	PrevCloseByDate(ctx context.Context, date string, segments []MarketSegment) (map[string]float64, error)
	// CloseByDate returns ts_code -> close at the given date for
	// securities in the segment set.
	CloseByDate(ctx context.Context, date string, segments []MarketSegment) (map[string]float64, error)
	// QuotesByRange returns each security's close/pre_close series inside
	// [start, end], ascending by date, for securities in the segment set.
	QuotesByRange(ctx context.Context, start, end string, segments []MarketSegment) (map[string][]DailyQuote, error)
	// IndexQuote returns the close/pre_close of one instrument at one
	// date, or nil when no bar exists.
	IndexQuote(ctx context.Context, code, date string) (*DailyQuote, error)
	// SeriesByRange returns one instrument's OHLC series inside
	// [start, end], ascending by date.
	SeriesByRange(ctx context.Context, code, start, end string) ([]PricePoint, error)
	HasDate(ctx context.Context, date string, codes []string) (bool, error)
	LatestDate(ctx context.Context, codes []string) (string, error)
	EarliestDate(ctx context.Context, codes []string) (string, error)
	UpsertBatch(ctx context.Context, bars []*DailyBar) error
}

// CalendarStore manages trading calendar rows for one or more exchanges.
type CalendarStore interface {
	// Get returns the calendar row, or nil when none exists for the date.
	Get(ctx context.Context, exchange, date string) (*TradingDay, error)
	// PrevOpen returns the nearest open date strictly before date, or "" when
	// none exists.
	PrevOpen(ctx context.Context, exchange, date string) (string, error)
	// NextOpen returns the nearest open date strictly after date, or "".
	NextOpen(ctx context.Context, exchange, date string) (string, error)
	CountOpen(ctx context.Context, exchange, start, end string) (int, error)
	// LastNOpen returns the n open dates with date <= asOf, ascending.
	LastNOpen(ctx context.Context, exchange string, n int, asOf string) ([]string, error)
	// LatestDate returns the most recent calendar date known for the
	// exchange, open or not, or "" when the calendar is empty.
	LatestDate(ctx context.Context, exchange string) (string, error)
	UpsertBatch(ctx context.Context, days []*TradingDay) error
}

// SnapshotCache is the key -> JSON-with-expiry store ranking snapshots
// are served from. An empty partition defaults to today.
type SnapshotCache interface {
	// Get unmarshals the unexpired value into dest and reports whether a
	// live entry was found.
	Get(ctx context.Context, key, partition string, dest interface{}) (bool, error)
	// Set upserts the value under (key, partition), replacing value,
	// expiry and update timestamp; never creates duplicates.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration, partition string) error
	Delete(ctx context.Context, key, partition string) error
	// ClearExpired removes all entries past expiry, independent of
	// partition, returning the number removed.
	ClearExpired(ctx context.Context) (int64, error)
}

// MarketData is the external daily-bar and calendar feed.
type MarketData interface {
	TradeCalendar(ctx context.Context, exchange, start, end string) ([]*TradingDay, error)
	SecurityList(ctx context.Context) ([]*Security, error)
	// DailyBars fetches bars for up to the source's per-request code
	// ceiling in one call.
	DailyBars(ctx context.Context, codes []string, start, end string) ([]*DailyBar, error)
	// IndexDaily fetches bars for a single index; the source has no batch
	// endpoint for indices.
	IndexDaily(ctx context.Context, code, start, end string) ([]*DailyBar, error)
}

// Refresher triggers a full data refresh and ranking recomputation.
type Refresher interface {
	Refresh(ctx context.Context) error
}
