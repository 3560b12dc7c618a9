package ranking

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luwei/stockwatch/internal/calendar"
	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/logger"
)

// windowDates are the ten observed trading days used by most tests.
var windowDates = []string{
	"20240102", "20240103", "20240104", "20240105", "20240108",
	"20240109", "20240110", "20240111", "20240112", "20240115",
}

type fakeSecurityStore struct {
	secs map[string]*contracts.Security
}

func (f *fakeSecurityStore) GetByCode(_ context.Context, code string) (*contracts.Security, error) {
	return f.secs[code], nil
}

func (f *fakeSecurityStore) ListBySegments(_ context.Context, segments []contracts.MarketSegment) (map[string]*contracts.Security, error) {
	want := make(map[contracts.MarketSegment]bool)
	for _, s := range segments {
		want[s] = true
	}
	out := make(map[string]*contracts.Security)
	for code, sec := range f.secs {
		if want[sec.Market] {
			out[code] = sec
		}
	}
	return out, nil
}

func (f *fakeSecurityStore) ListCodes(_ context.Context) ([]string, error) {
	var codes []string
	for code := range f.secs {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

func (f *fakeSecurityStore) UpsertBatch(_ context.Context, securities []*contracts.Security) error {
	for _, s := range securities {
		f.secs[s.TsCode] = s
	}
	return nil
}

type fakeBarStore struct {
	// bars holds every instrument's series ascending by date; universe
	// marks which codes are securities rather than indices.
	bars     map[string][]contracts.DailyBar
	universe map[string]contracts.MarketSegment
}

func (f *fakeBarStore) DistinctSecurityDates(_ context.Context, limit int) ([]string, error) {
	seen := make(map[string]bool)
	for code := range f.universe {
		for _, b := range f.bars[code] {
			seen[b.TradeDate] = true
		}
	}
	var dates []string
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}

func (f *fakeBarStore) inSegments(code string, segments []contracts.MarketSegment) bool {
	seg, ok := f.universe[code]
	if !ok {
		return false
	}
	for _, s := range segments {
		if s == seg {
			return true
		}
	}
	return false
}

func (f *fakeBarStore) PrevCloseByDate(_ context.Context, date string, segments []contracts.MarketSegment) (map[string]float64, error) {
	out := make(map[string]float64)
	for code, bars := range f.bars {
		if !f.inSegments(code, segments) {
			continue
		}
		for _, b := range bars {
			if b.TradeDate == date {
				out[code] = b.PreClose
			}
		}
	}
	return out, nil
}

func (f *fakeBarStore) CloseByDate(_ context.Context, date string, segments []contracts.MarketSegment) (map[string]float64, error) {
	out := make(map[string]float64)
	for code, bars := range f.bars {
		if !f.inSegments(code, segments) {
			continue
		}
		for _, b := range bars {
			if b.TradeDate == date {
				out[code] = b.Close
			}
		}
	}
	return out, nil
}

func (f *fakeBarStore) QuotesByRange(_ context.Context, start, end string, segments []contracts.MarketSegment) (map[string][]contracts.DailyQuote, error) {
	out := make(map[string][]contracts.DailyQuote)
	for code, bars := range f.bars {
		if !f.inSegments(code, segments) {
			continue
		}
		for _, b := range bars {
			if b.TradeDate >= start && b.TradeDate <= end {
				out[code] = append(out[code], contracts.DailyQuote{TradeDate: b.TradeDate, Close: b.Close, PreClose: b.PreClose})
			}
		}
	}
	return out, nil
}

func (f *fakeBarStore) IndexQuote(_ context.Context, code, date string) (*contracts.DailyQuote, error) {
	for _, b := range f.bars[code] {
		if b.TradeDate == date {
			return &contracts.DailyQuote{TradeDate: b.TradeDate, Close: b.Close, PreClose: b.PreClose}, nil
		}
	}
	return nil, nil
}

func (f *fakeBarStore) SeriesByRange(_ context.Context, code, start, end string) ([]contracts.PricePoint, error) {
	var out []contracts.PricePoint
	for _, b := range f.bars[code] {
		if b.TradeDate >= start && b.TradeDate <= end {
			out = append(out, contracts.PricePoint{
				TradeDate: b.TradeDate,
				Open:      b.Open,
				High:      b.High,
				Low:       b.Low,
				Close:     b.Close,
				PreClose:  b.PreClose,
			})
		}
	}
	return out, nil
}

func (f *fakeBarStore) HasDate(_ context.Context, date string, codes []string) (bool, error) {
	if codes == nil {
		for code := range f.universe {
			codes = append(codes, code)
		}
	}
	for _, code := range codes {
		for _, b := range f.bars[code] {
			if b.TradeDate == date {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeBarStore) LatestDate(_ context.Context, codes []string) (string, error) {
	latest := ""
	for _, code := range codes {
		for _, b := range f.bars[code] {
			if b.TradeDate > latest {
				latest = b.TradeDate
			}
		}
	}
	return latest, nil
}

func (f *fakeBarStore) EarliestDate(_ context.Context, codes []string) (string, error) {
	earliest := ""
	for _, code := range codes {
		for _, b := range f.bars[code] {
			if earliest == "" || b.TradeDate < earliest {
				earliest = b.TradeDate
			}
		}
	}
	return earliest, nil
}

func (f *fakeBarStore) UpsertBatch(_ context.Context, bars []*contracts.DailyBar) error {
	for _, b := range bars {
		f.bars[b.TsCode] = append(f.bars[b.TsCode], *b)
	}
	return nil
}

type fakeCalStore struct {
	open []string // ascending
}

func (f *fakeCalStore) Get(_ context.Context, _, date string) (*contracts.TradingDay, error) {
	for _, d := range f.open {
		if d == date {
			return &contracts.TradingDay{Exchange: contracts.ExchangeSSE, CalDate: date, IsOpen: true}, nil
		}
	}
	return nil, nil
}

func (f *fakeCalStore) PrevOpen(_ context.Context, _, date string) (string, error) {
	for i := len(f.open) - 1; i >= 0; i-- {
		if f.open[i] < date {
			return f.open[i], nil
		}
	}
	return "", nil
}

func (f *fakeCalStore) NextOpen(_ context.Context, _, date string) (string, error) {
	for _, d := range f.open {
		if d > date {
			return d, nil
		}
	}
	return "", nil
}

func (f *fakeCalStore) CountOpen(_ context.Context, _, start, end string) (int, error) {
	count := 0
	for _, d := range f.open {
		if d >= start && d <= end {
			count++
		}
	}
	return count, nil
}

func (f *fakeCalStore) LastNOpen(_ context.Context, _ string, n int, asOf string) ([]string, error) {
	var dates []string
	for _, d := range f.open {
		if d <= asOf {
			dates = append(dates, d)
		}
	}
	if len(dates) > n {
		dates = dates[len(dates)-n:]
	}
	return dates, nil
}

func (f *fakeCalStore) LatestDate(_ context.Context, _ string) (string, error) {
	if len(f.open) == 0 {
		return "", nil
	}
	return f.open[len(f.open)-1], nil
}

func (f *fakeCalStore) UpsertBatch(_ context.Context, days []*contracts.TradingDay) error {
	for _, d := range days {
		if d.IsOpen {
			f.open = append(f.open, d.CalDate)
		}
	}
	sort.Strings(f.open)
	return nil
}

// flatBars builds a constant-price series across the window dates.
func flatBars(code string, price float64) []contracts.DailyBar {
	var bars []contracts.DailyBar
	for _, d := range windowDates {
		bars = append(bars, contracts.DailyBar{
			TsCode: code, TradeDate: d,
			Open: price, High: price, Low: price,
			Close: price, PreClose: price,
		})
	}
	return bars
}

// fixture assembles a computer over one Main-board security with the
// given per-day (pre_close, close) pairs and a flat SSE benchmark.
type fixture struct {
	secs *fakeSecurityStore
	bars *fakeBarStore
	cal  *fakeCalStore
}

func newFixture() *fixture {
	f := &fixture{
		secs: &fakeSecurityStore{secs: make(map[string]*contracts.Security)},
		bars: &fakeBarStore{
			bars:     make(map[string][]contracts.DailyBar),
			universe: make(map[string]contracts.MarketSegment),
		},
		cal: &fakeCalStore{},
	}
	// Plenty of open days before the window so nothing trips the
	// new-listing filter by accident.
	for month := 7; month <= 12; month++ {
		for day := 1; day <= 28; day++ {
			f.cal.open = append(f.cal.open, fmtDate(2023, month, day))
		}
	}
	f.cal.open = append(f.cal.open, windowDates...)
	sort.Strings(f.cal.open)

	f.bars.bars["000001.SH"] = flatBars("000001.SH", 3000)
	f.bars.bars["399107.SZ"] = flatBars("399107.SZ", 2000)
	return f
}

func fmtDate(y, m, d int) string {
	return fmt.Sprintf("%04d%02d%02d", y, m, d)
}

func (f *fixture) addSecurity(code, name string, segment contracts.MarketSegment, listDate string, bars []contracts.DailyBar) {
	f.secs.secs[code] = &contracts.Security{
		TsCode: code, Name: name, Market: segment,
		Exchange: contracts.ExchangeSSE, ListDate: listDate,
	}
	f.bars.universe[code] = segment
	f.bars.bars[code] = bars
}

func (f *fixture) computer() *Computer {
	log := logger.NewNop()
	acc := calendar.New(f.cal, contracts.ExchangeSSE, log)
	return NewComputer(f.secs, f.bars, acc, DefaultMarketConfig(), log)
}

func TestComputeWindowExample(t *testing.T) {
	f := newFixture()

	// previousClose 10.00 at the window start, close 12.00 at the end,
	// minimum previousClose 9.00 on 20240105.
	bars := flatBars("600000.SH", 10)
	for i := range bars {
		bars[i].Close = 10
	}
	bars[3].PreClose = 9 // 20240105
	last := len(bars) - 1
	bars[last].Close = 12

	f.addSecurity("600000.SH", "Test Sec", contracts.SegmentMain, "20230101", bars)
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "600000.SH", rec.TsCode)
	assert.Equal(t, "20240102", rec.StartDate)
	assert.Equal(t, "20240115", rec.EndDate)
	assert.Equal(t, 10.0, rec.StartPrice)
	assert.Equal(t, 12.0, rec.EndPrice)
	assert.Equal(t, 20.0, rec.PriceChangePct)

	require.NotNil(t, rec.LowPrice)
	assert.Equal(t, 9.0, *rec.LowPrice)
	require.NotNil(t, rec.LowDate)
	assert.Equal(t, "20240105", *rec.LowDate)
	require.NotNil(t, rec.PriceChangeLowPct)
	assert.Equal(t, 33.33, *rec.PriceChangeLowPct)

	// Flat benchmark, so the deviation equals the low-anchored change.
	assert.Equal(t, 0.0, rec.IndexChangeLowPct)
	require.NotNil(t, rec.Deviation)
	assert.Equal(t, 33.33, *rec.Deviation)
	require.NotNil(t, rec.DeviationLow)
	assert.Equal(t, *rec.Deviation, *rec.DeviationLow)

	// 20240105 through 20240115 inclusive is 7 open days.
	assert.Equal(t, 7, rec.DeviationDateRange)
	assert.Equal(t, 1, rec.RemainingLimitUps)
}

func TestComputeWindowTooSmall(t *testing.T) {
	f := newFixture()
	f.addSecurity("600000.SH", "Test Sec", contracts.SegmentMain, "20230101", []contracts.DailyBar{
		{TsCode: "600000.SH", TradeDate: "20240115", Close: 10, PreClose: 10},
	})
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestComputeLowPriceIsWindowMinimum(t *testing.T) {
	f := newFixture()

	bars := flatBars("600000.SH", 10)
	for i := range bars {
		bars[i].PreClose = float64(15 - i) // strictly decreasing
	}
	f.addSecurity("600000.SH", "Test Sec", contracts.SegmentMain, "20230101", bars)
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.NotNil(t, rec.LowPrice)
	minPre := bars[0].PreClose
	for _, b := range bars {
		if b.PreClose < minPre {
			minPre = b.PreClose
		}
	}
	assert.Equal(t, minPre, *rec.LowPrice)
	assert.LessOrEqual(t, *rec.LowPrice, rec.StartPrice)
	assert.Equal(t, "20240115", *rec.LowDate)
}

func TestComputeSortsByDeviationDescending(t *testing.T) {
	f := newFixture()

	// Three securities with different low-anchored gains, plus one with
	// no computable deviation (non-positive low price).
	mk := func(low float64, end float64) []contracts.DailyBar {
		bars := flatBars("", 10)
		bars[2].PreClose = low
		bars[len(bars)-1].Close = end
		return bars
	}
	set := func(code string, bars []contracts.DailyBar) []contracts.DailyBar {
		for i := range bars {
			bars[i].TsCode = code
		}
		return bars
	}
	f.addSecurity("600001.SH", "A", contracts.SegmentMain, "20230101", set("600001.SH", mk(5, 12)))  // +140%
	f.addSecurity("600002.SH", "B", contracts.SegmentMain, "20230101", set("600002.SH", mk(8, 12)))  // +50%
	f.addSecurity("600003.SH", "C", contracts.SegmentMain, "20230101", set("600003.SH", mk(10, 12))) // +20%
	f.addSecurity("600004.SH", "D", contracts.SegmentMain, "20230101", set("600004.SH", mk(0, 12)))  // absent

	c := f.computer()
	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 4)

	for i := 1; i < len(records); i++ {
		prev, cur := records[i-1].Deviation, records[i].Deviation
		if prev == nil {
			assert.Nil(t, cur, "absent deviations must sort last")
			continue
		}
		if cur != nil {
			assert.GreaterOrEqual(t, *prev, *cur)
		}
	}
	assert.Equal(t, "600001.SH", records[0].TsCode)
	assert.Nil(t, records[3].Deviation)
	assert.Equal(t, "600004.SH", records[3].TsCode)
}

func TestComputeTopNTruncates(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		code := fmt.Sprintf("60000%d.SH", i)
		bars := flatBars(code, 10)
		bars[1].PreClose = float64(9 - i)
		f.addSecurity(code, "S", contracts.SegmentMain, "20230101", bars)
	}
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10, TopN: 2})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestComputeHorizonCapMonotonic(t *testing.T) {
	f := newFixture()
	f.addSecurity("600000.SH", "Test Sec", contracts.SegmentMain, "20230101", flatBars("600000.SH", 10))
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]

	prev := rec.EndPrice
	for i := 1; i <= 6; i++ {
		h := rec.HorizonAt(i)
		require.NotNil(t, h.EndZhangtingPrice, "t+%d", i)
		assert.Greater(t, *h.EndZhangtingPrice, prev, "t+%d cap must exceed t+%d", i, i-1)
		prev = *h.EndZhangtingPrice
	}

	// t+1 on a 10% board from a flat 10.00 series: cap 11.00, low 10.00.
	h1 := rec.HorizonAt(1)
	require.NotNil(t, h1.PriceChangePct)
	assert.Equal(t, 10.0, *h1.PriceChangePct)
	require.NotNil(t, h1.LowDate)
	assert.Equal(t, "20240103", *h1.LowDate)
}

func TestComputeHorizonInsufficientDates(t *testing.T) {
	f := newFixture()

	// Bars only on the window endpoints: the security qualifies, but its
	// in-window series has 2 observations, so t+2 onward is absent.
	bars := []contracts.DailyBar{
		{TsCode: "600000.SH", TradeDate: "20240102", Close: 10, PreClose: 10},
		{TsCode: "600000.SH", TradeDate: "20240115", Close: 11, PreClose: 10.5},
	}
	// A second security carries the full window so the window dates stay
	// the same ten days.
	f.addSecurity("600001.SH", "Full", contracts.SegmentMain, "20230101", flatBars("600001.SH", 10))
	f.addSecurity("600000.SH", "Sparse", contracts.SegmentMain, "20230101", bars)
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 2)

	var sparse *contracts.RankingRecord
	for _, r := range records {
		if r.TsCode == "600000.SH" {
			sparse = r
		}
	}
	require.NotNil(t, sparse)

	h1 := sparse.HorizonAt(1)
	require.NotNil(t, h1.LowPrice, "t+1 still has one date")
	assert.Equal(t, "20240115", *h1.LowDate)

	for i := 2; i <= 6; i++ {
		h := sparse.HorizonAt(i)
		assert.Nil(t, h.LowPrice, "t+%d", i)
		assert.Nil(t, h.LowDate, "t+%d", i)
		assert.Nil(t, h.EndZhangtingPrice, "t+%d", i)
		assert.Nil(t, h.PriceChangePct, "t+%d", i)
		assert.Nil(t, h.Deviation, "t+%d", i)
		assert.False(t, h.IsAbnormal, "t+%d", i)
	}
}

func TestComputeAbnormalThreshold(t *testing.T) {
	f := newFixture()

	bars := flatBars("600000.SH", 10)
	bars[2].PreClose = 1 // huge low-anchored gain on every horizon
	f.addSecurity("600000.SH", "Test Sec", contracts.SegmentMain, "20230101", bars)
	c := f.computer()

	threshold := 100.0
	records, err := c.Compute(context.Background(), Params{WindowDays: 10, Threshold: &threshold})
	require.NoError(t, err)
	require.Len(t, records, 1)

	h1 := records[0].HorizonAt(1)
	require.NotNil(t, h1.Deviation)
	assert.True(t, h1.IsAbnormal)

	// Without a threshold the flag never trips.
	records, err = c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].HorizonAt(1).IsAbnormal)
}

func TestComputeNewListingFilter(t *testing.T) {
	f := newFixture()

	// Listed 20 open days before the window end.
	dates, err := f.cal.LastNOpen(context.Background(), contracts.ExchangeSSE, 20, "20240115")
	require.NoError(t, err)
	listDate := dates[0]

	f.addSecurity("301000.SZ", "Fresh", contracts.SegmentChiNext, listDate, flatBars("301000.SZ", 10))
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10, IncludeChiNext: true})
	require.NoError(t, err)
	assert.Empty(t, records, "new listing excluded by default")

	records, err = c.Compute(context.Background(), Params{WindowDays: 10, IncludeChiNext: true, IncludeNewListings: true})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestComputeSegmentFilter(t *testing.T) {
	f := newFixture()
	f.addSecurity("600000.SH", "Main Sec", contracts.SegmentMain, "20230101", flatBars("600000.SH", 10))
	f.addSecurity("300001.SZ", "ChiNext Sec", contracts.SegmentChiNext, "20230101", flatBars("300001.SZ", 10))
	f.addSecurity("688001.SH", "STAR Sec", contracts.SegmentSTAR, "20230101", flatBars("688001.SH", 10))
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 1, "main board only by default")
	assert.Equal(t, "600000.SH", records[0].TsCode)

	records, err = c.Compute(context.Background(), Params{WindowDays: 10, IncludeChiNext: true, IncludeSTAR: true})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestComputeEnrichment(t *testing.T) {
	f := newFixture()
	f.addSecurity("600000.SH", "Test Sec", contracts.SegmentMain, "20230101", flatBars("600000.SH", 10))
	c := f.computer()

	records, err := c.Compute(context.Background(), Params{WindowDays: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Len(t, rec.StockPrices, 10)
	require.Len(t, rec.IndexPrices, 10)
	for i := 1; i < len(rec.StockPrices); i++ {
		assert.Less(t, rec.StockPrices[i-1].TradeDate, rec.StockPrices[i].TradeDate)
	}
	// SSE main board charts against the Shanghai composite.
	assert.Equal(t, 3000.0, rec.IndexPrices[0].Close)
}

func TestBenchmarkSelection(t *testing.T) {
	cfg := DefaultMarketConfig()

	tests := []struct {
		name    string
		tsCode  string
		segment contracts.MarketSegment
		want    string
	}{
		{"main board shanghai", "600000.SH", contracts.SegmentMain, "000001.SH"},
		{"main board shenzhen", "000002.SZ", contracts.SegmentMain, "399107.SZ"},
		{"chinext", "300001.SZ", contracts.SegmentChiNext, "399102.SZ"},
		{"star", "688001.SH", contracts.SegmentSTAR, "000688.SH"},
		{"beijing", "830001.BJ", contracts.SegmentBeijing, "899050.BJ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.BenchmarkFor(tt.tsCode, tt.segment))
		})
	}
}

func TestLimitUpPercentages(t *testing.T) {
	cfg := DefaultMarketConfig()
	assert.Equal(t, 10.0, cfg.LimitUpFor(contracts.SegmentMain))
	assert.Equal(t, 20.0, cfg.LimitUpFor(contracts.SegmentChiNext))
	assert.Equal(t, 20.0, cfg.LimitUpFor(contracts.SegmentSTAR))
	assert.Equal(t, 30.0, cfg.LimitUpFor(contracts.SegmentBeijing))
	assert.Equal(t, 10.0, cfg.LimitUpFor(contracts.MarketSegment("unknown")))
}

func TestRemainingLimitUpsDegenerate(t *testing.T) {
	// The compounding loop reaches one limit-up above the end price on
	// its first iteration for any positive price.
	for _, price := range []float64{0.01, 1, 9.99, 123.45} {
		assert.Equal(t, 1, remainingLimitUps(price, 10))
		assert.Equal(t, 1, remainingLimitUps(price, 30))
	}
	assert.Equal(t, 0, remainingLimitUps(0, 10))
	assert.Equal(t, 0, remainingLimitUps(-5, 10))
}
