package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/luwei/stockwatch/internal/calendar"
	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

// newListingMinDays is the minimum number of open trading days since
// listing before a security leaves its initial-listing window.
const newListingMinDays = 60

// defaultResultCap bounds the result set when no explicit top-N is
// requested.
const defaultResultCap = 100

// Params configures one ranking run.
type Params struct {
	// WindowDays is the number of observed trading days in the window.
	WindowDays int
	// Threshold is the abnormality cutoff in percentage points for the
	// forward horizons. Nil disables the abnormality flag.
	Threshold *float64
	// Segment inclusion. The Main board is always included.
	IncludeChiNext bool
	IncludeSTAR    bool
	IncludeBeijing bool
	// IncludeNewListings keeps securities still inside their
	// initial-listing window.
	IncludeNewListings bool
	// TopN truncates the sorted result. Zero means unset, which caps
	// the result at defaultResultCap.
	TopN int
}

func (p Params) segments() []contracts.MarketSegment {
	segs := []contracts.MarketSegment{contracts.SegmentMain}
	if p.IncludeChiNext {
		segs = append(segs, contracts.SegmentChiNext)
	}
	if p.IncludeSTAR {
		segs = append(segs, contracts.SegmentSTAR)
	}
	if p.IncludeBeijing {
		segs = append(segs, contracts.SegmentBeijing)
	}
	return segs
}

// Computer produces the deviation ranking for one window configuration.
// The computation is pure over data already resident in the store.
type Computer struct {
	securities contracts.SecurityStore
	bars       contracts.BarStore
	calendar   *calendar.Accessor
	markets    MarketConfig
	log        *logger.Logger
}

// NewComputer creates a ranking computer.
func NewComputer(securities contracts.SecurityStore, bars contracts.BarStore, cal *calendar.Accessor, markets MarketConfig, log *logger.Logger) *Computer {
	return &Computer{
		securities: securities,
		bars:       bars,
		calendar:   cal,
		markets:    markets,
		log:        log,
	}
}

// Compute runs the full ranking pipeline. Per-security failures are
// logged and skipped; only store-level failures abort the run.
func (c *Computer) Compute(ctx context.Context, p Params) ([]*contracts.RankingRecord, error) {
	window, err := c.window(ctx, p.WindowDays)
	if err != nil {
		return nil, err
	}
	if len(window) < 2 {
		c.log.Warnf("fewer than 2 trading days with bar data, returning empty ranking")
		return []*contracts.RankingRecord{}, nil
	}
	startDate := window[0]
	endDate := window[len(window)-1]

	segments := p.segments()
	c.log.WithFields(map[string]interface{}{
		"window_days": p.WindowDays,
		"start_date":  startDate,
		"end_date":    endDate,
		"segments":    len(segments),
	}).Info("computing deviation ranking")

	startPrices, err := c.bars.PrevCloseByDate(ctx, startDate, segments)
	if err != nil {
		return nil, fmt.Errorf("load window start prices: %w", err)
	}
	endPrices, err := c.bars.CloseByDate(ctx, endDate, segments)
	if err != nil {
		return nil, fmt.Errorf("load window end prices: %w", err)
	}
	quotes, err := c.bars.QuotesByRange(ctx, startDate, endDate, segments)
	if err != nil {
		return nil, fmt.Errorf("load window quotes: %w", err)
	}
	universe, err := c.securities.ListBySegments(ctx, segments)
	if err != nil {
		return nil, fmt.Errorf("load security universe: %w", err)
	}

	// Per-benchmark caches, shared across securities on the same index.
	fullChange := make(map[string]float64)
	indexQuotes := make(map[string]map[string]*contracts.DailyQuote)

	var records []*contracts.RankingRecord
	for tsCode, startPrice := range startPrices {
		endPrice, ok := endPrices[tsCode]
		if !ok {
			continue
		}
		sec, ok := universe[tsCode]
		if !ok {
			c.log.Warnf("no reference data for %s, skipping", tsCode)
			continue
		}

		if !p.IncludeNewListings {
			skip, err := c.isNewListing(ctx, sec, endDate)
			if err != nil {
				c.log.WithError(err).Warnf("new-listing check failed for %s, skipping", tsCode)
				continue
			}
			if skip {
				continue
			}
		}

		rec, err := c.computeSecurity(ctx, sec, p, startDate, endDate, startPrice, endPrice, quotes[tsCode], fullChange, indexQuotes)
		if err != nil {
			c.log.WithError(err).Warnf("ranking computation failed for %s, skipping", tsCode)
			continue
		}
		records = append(records, rec)
	}

	sortByDeviation(records)
	records = c.truncate(records, p.TopN)

	if err := c.enrich(ctx, records, startDate, endDate); err != nil {
		return nil, err
	}

	c.log.Infof("deviation ranking complete: %d securities", len(records))
	return records, nil
}

// window returns the n most recent distinct trade dates with security
// bar data, ascending.
func (c *Computer) window(ctx context.Context, n int) ([]string, error) {
	dates, err := c.bars.DistinctSecurityDates(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("load trading dates: %w", err)
	}
	// Store returns descending, the pipeline wants ascending.
	sort.Strings(dates)
	return dates, nil
}

func (c *Computer) isNewListing(ctx context.Context, sec *contracts.Security, endDate string) (bool, error) {
	if sec.ListDate == "" {
		return false, nil
	}
	days, err := c.calendar.TradingDayCount(ctx, sec.ListDate, endDate)
	if err != nil {
		return false, err
	}
	return days < newListingMinDays, nil
}

func (c *Computer) computeSecurity(
	ctx context.Context,
	sec *contracts.Security,
	p Params,
	startDate, endDate string,
	startPrice, endPrice float64,
	daily []contracts.DailyQuote,
	fullChange map[string]float64,
	indexQuotes map[string]map[string]*contracts.DailyQuote,
) (*contracts.RankingRecord, error) {
	indexCode := c.markets.BenchmarkFor(sec.TsCode, sec.Market)
	limitUpPct := c.markets.LimitUpFor(sec.Market)

	rec := &contracts.RankingRecord{
		TsCode:     sec.TsCode,
		Name:       sec.Name,
		Market:     sec.Market,
		StartPrice: round2(startPrice),
		EndPrice:   round2(endPrice),
		StartDate:  startDate,
		EndDate:    endDate,
	}
	rec.PriceChangePct = round2((endPrice - startPrice) / startPrice * 100)

	// Rolling low of the pre-move price across the window.
	var lowPrice float64
	var lowDate string
	for _, q := range daily {
		if lowDate == "" || q.PreClose < lowPrice {
			lowPrice = q.PreClose
			lowDate = q.TradeDate
		}
	}
	if lowDate != "" {
		lp := round2(lowPrice)
		rec.LowPrice = &lp
		rec.LowDate = &lowDate
		if lowPrice > 0 {
			pct := round2((endPrice/lowPrice - 1) * 100)
			rec.PriceChangeLowPct = &pct
		}
	}

	rec.IndexChangePct = c.fullWindowIndexChange(ctx, indexCode, startDate, endDate, fullChange)
	rec.IndexChangeLowPct = c.indexChange(ctx, indexCode, lowDate, endDate, indexQuotes)

	if rec.PriceChangeLowPct != nil {
		dev := round2(*rec.PriceChangeLowPct - rec.IndexChangeLowPct)
		rec.Deviation = &dev
		rec.DeviationLow = &dev
	}

	if lowDate != "" {
		days, err := c.calendar.TradingDayCount(ctx, lowDate, endDate)
		if err != nil {
			c.log.WithError(err).Warnf("trading day span lookup failed for %s", sec.TsCode)
		} else {
			rec.DeviationDateRange = days
		}
	}

	rec.RemainingLimitUps = remainingLimitUps(endPrice, limitUpPct)

	c.computeHorizons(ctx, rec, p, indexCode, limitUpPct, endPrice, endDate, daily, indexQuotes)
	return rec, nil
}

// fullWindowIndexChange computes the benchmark change across the whole
// window, cached per index code. Missing index data yields 0.
func (c *Computer) fullWindowIndexChange(ctx context.Context, indexCode, startDate, endDate string, cache map[string]float64) float64 {
	if pct, ok := cache[indexCode]; ok {
		return pct
	}
	pct := c.indexChange(ctx, indexCode, startDate, endDate, nil)
	cache[indexCode] = pct
	return pct
}

// indexChange computes the benchmark change from fromDate's previous
// close to endDate's close. Missing or non-positive data yields 0, the
// source's documented fallback.
func (c *Computer) indexChange(ctx context.Context, indexCode, fromDate, endDate string, cache map[string]map[string]*contracts.DailyQuote) float64 {
	if fromDate == "" {
		return 0
	}
	from := c.indexQuote(ctx, indexCode, fromDate, cache)
	end := c.indexQuote(ctx, indexCode, endDate, cache)
	if from == nil || end == nil {
		c.log.Debugf("index %s missing data at %s or %s", indexCode, fromDate, endDate)
		return 0
	}
	if from.PreClose <= 0 || end.Close <= 0 {
		return 0
	}
	return round2((end.Close/from.PreClose - 1) * 100)
}

func (c *Computer) indexQuote(ctx context.Context, indexCode, date string, cache map[string]map[string]*contracts.DailyQuote) *contracts.DailyQuote {
	if cache != nil {
		if byDate, ok := cache[indexCode]; ok {
			if q, ok := byDate[date]; ok {
				return q
			}
		}
	}
	q, err := c.bars.IndexQuote(ctx, indexCode, date)
	if err != nil {
		c.log.WithError(err).Warnf("index quote lookup failed for %s@%s", indexCode, date)
		return nil
	}
	if cache != nil {
		if cache[indexCode] == nil {
			cache[indexCode] = make(map[string]*contracts.DailyQuote)
		}
		cache[indexCode][date] = q
	}
	return q
}

// computeHorizons fills t+1..t+6. Horizon i drops the first i observed
// dates of this security's window and asks what a run of i straight
// limit-ups from endPrice would look like against that shrunk low.
func (c *Computer) computeHorizons(
	ctx context.Context,
	rec *contracts.RankingRecord,
	p Params,
	indexCode string,
	limitUpPct, endPrice float64,
	endDate string,
	daily []contracts.DailyQuote,
	indexQuotes map[string]map[string]*contracts.DailyQuote,
) {
	for i := 1; i <= 6; i++ {
		h := rec.HorizonAt(i)
		if i >= len(daily) {
			continue
		}

		sub := daily[i:]
		tiLowPrice := round2(sub[0].PreClose)
		tiLowDate := sub[0].TradeDate
		for _, q := range sub[1:] {
			if pre := round2(q.PreClose); pre < tiLowPrice {
				tiLowPrice = pre
				tiLowDate = q.TradeDate
			}
		}

		capPrice := endPrice
		for j := 0; j < i; j++ {
			capPrice = capPrice * (1 + limitUpPct/100)
		}
		capPrice = round2(capPrice)

		h.LowPrice = &tiLowPrice
		h.LowDate = &tiLowDate
		h.EndZhangtingPrice = &capPrice

		if tiLowPrice > 0 {
			gain := round2((capPrice/tiLowPrice - 1) * 100)
			h.PriceChangePct = &gain

			idxChange := c.indexChange(ctx, indexCode, tiLowDate, endDate, indexQuotes)
			dev := round2(gain - idxChange)
			h.Deviation = &dev
			if p.Threshold != nil && dev > *p.Threshold {
				h.IsAbnormal = true
			}
		}
	}
}

// remainingLimitUps counts limit-up applications from price until the
// compounded value reaches one limit-up above price. The loop exits on
// its first iteration for any positive price, so the count is a
// constant 1 in practice; kept as the upstream behavior until the
// intended target-price semantics are decided.
func remainingLimitUps(price, limitUpPct float64) int {
	if price <= 0 || limitUpPct <= 0 {
		return 0
	}
	target := price * (1 + limitUpPct/100)
	count := 0
	current := price
	for current < target {
		current = current * (1 + limitUpPct/100)
		count++
	}
	return count
}

// sortByDeviation orders records by deviation descending; records with
// no deviation sort after every record that has one.
func sortByDeviation(records []*contracts.RankingRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		di, dj := records[i].Deviation, records[j].Deviation
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di > *dj
		}
	})
}

func (c *Computer) truncate(records []*contracts.RankingRecord, topN int) []*contracts.RankingRecord {
	if topN > 0 {
		if len(records) > topN {
			records = records[:topN]
		}
		return records
	}
	if len(records) > defaultResultCap {
		c.log.Warnf("ranking has %d candidates, capping at %d", len(records), defaultResultCap)
		records = records[:defaultResultCap]
	}
	return records
}

// enrich attaches the full OHLC series for each surviving security and
// its benchmark, for client-side charting.
func (c *Computer) enrich(ctx context.Context, records []*contracts.RankingRecord, startDate, endDate string) error {
	indexSeries := make(map[string][]contracts.PricePoint)
	for _, rec := range records {
		series, err := c.bars.SeriesByRange(ctx, rec.TsCode, startDate, endDate)
		if err != nil {
			return fmt.Errorf("load price series for %s: %w", rec.TsCode, err)
		}
		rec.StockPrices = series

		indexCode := c.markets.BenchmarkFor(rec.TsCode, rec.Market)
		idx, ok := indexSeries[indexCode]
		if !ok {
			idx, err = c.bars.SeriesByRange(ctx, indexCode, startDate, endDate)
			if err != nil {
				return fmt.Errorf("load index series for %s: %w", indexCode, err)
			}
			indexSeries[indexCode] = idx
		}
		rec.IndexPrices = idx
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
