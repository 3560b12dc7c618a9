package refresh

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luwei/stockwatch/internal/cache"
	"github.com/luwei/stockwatch/internal/calendar"
	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/internal/ranking"
	"github.com/luwei/stockwatch/pkg/logger"
)

type fakeIngestor struct {
	mu            sync.Mutex
	calendarCalls []string
	secCalls      int
	barRange      [2]string
	indexCodes    []string
	barErr        error
}

func (f *fakeIngestor) UpdateCalendarIfNeeded(_ context.Context, exchange string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calendarCalls = append(f.calendarCalls, exchange)
	return nil
}

func (f *fakeIngestor) RefreshSecurities(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secCalls++
	return nil
}

func (f *fakeIngestor) EnsureSecurityBars(_ context.Context, _, start, end string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barRange = [2]string{start, end}
	return f.barErr
}

func (f *fakeIngestor) EnsureIndexBars(_ context.Context, codes []string, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexCodes = codes
	return nil
}

type fakeComputer struct {
	mu     sync.Mutex
	params []ranking.Params
	err    error
	block  chan struct{}
}

func (f *fakeComputer) Compute(_ context.Context, p ranking.Params) ([]*contracts.RankingRecord, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	return []*contracts.RankingRecord{{TsCode: "600000.SH"}}, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]interface{}
	sets    []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]interface{})}
}

func (c *memCache) Get(_ context.Context, key, _ string, _ interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets = append(c.sets, key)
	return nil
}

func (c *memCache) Delete(_ context.Context, key, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) ClearExpired(_ context.Context) (int64, error) {
	return 0, nil
}

type stubCalStore struct {
	open map[string]bool // date -> is open
}

func (s *stubCalStore) Get(_ context.Context, _, date string) (*contracts.TradingDay, error) {
	open, known := s.open[date]
	if !known {
		return nil, nil
	}
	return &contracts.TradingDay{Exchange: contracts.ExchangeSSE, CalDate: date, IsOpen: open}, nil
}

func (s *stubCalStore) sortedOpen() []string {
	var dates []string
	for d, open := range s.open {
		if open {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates
}

func (s *stubCalStore) PrevOpen(_ context.Context, _, date string) (string, error) {
	dates := s.sortedOpen()
	for i := len(dates) - 1; i >= 0; i-- {
		if dates[i] < date {
			return dates[i], nil
		}
	}
	return "", nil
}

func (s *stubCalStore) NextOpen(_ context.Context, _, date string) (string, error) {
	for _, d := range s.sortedOpen() {
		if d > date {
			return d, nil
		}
	}
	return "", nil
}

func (s *stubCalStore) CountOpen(_ context.Context, _, start, end string) (int, error) {
	count := 0
	for _, d := range s.sortedOpen() {
		if d >= start && d <= end {
			count++
		}
	}
	return count, nil
}

func (s *stubCalStore) LastNOpen(_ context.Context, _ string, n int, asOf string) ([]string, error) {
	var dates []string
	for _, d := range s.sortedOpen() {
		if d <= asOf {
			dates = append(dates, d)
		}
	}
	if len(dates) > n {
		dates = dates[len(dates)-n:]
	}
	return dates, nil
}

func (s *stubCalStore) LatestDate(_ context.Context, _ string) (string, error) {
	dates := s.sortedOpen()
	if len(dates) == 0 {
		return "", nil
	}
	return dates[len(dates)-1], nil
}

func (s *stubCalStore) UpsertBatch(_ context.Context, _ []*contracts.TradingDay) error {
	return nil
}

type harness struct {
	ingestor *fakeIngestor
	computer *fakeComputer
	cache    *memCache
	orch     *Orchestrator
}

func newHarness(open map[string]bool, at time.Time) *harness {
	log := logger.NewNop()
	h := &harness{
		ingestor: &fakeIngestor{},
		computer: &fakeComputer{},
		cache:    newMemCache(),
	}
	cal := calendar.New(&stubCalStore{open: open}, contracts.ExchangeSSE, log)
	h.orch = New(h.ingestor, h.computer, h.cache, cal, ranking.DefaultMarketConfig(), log).
		WithClock(func() time.Time { return at })
	return h
}

// tradingWeek is Mon 20240108 .. Fri 20240112 open, weekend closed.
func tradingWeek() map[string]bool {
	return map[string]bool{
		"20240108": true,
		"20240109": true,
		"20240110": true,
		"20240111": true,
		"20240112": true,
		"20240113": false,
		"20240114": false,
	}
}

func TestRefreshWritesBothSlots(t *testing.T) {
	at := time.Date(2024, 1, 12, 18, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)

	require.NoError(t, h.orch.Refresh(context.Background()))

	assert.Equal(t, []string{contracts.ExchangeSSE, contracts.ExchangeSZSE}, h.ingestor.calendarCalls)
	assert.Equal(t, 1, h.ingestor.secCalls)
	assert.ElementsMatch(t, []string{cache.KeyCurrent, cache.KeyPrevious}, h.cache.sets)

	payload, ok := h.cache.entries[cache.KeyCurrent].(*contracts.RankingPayload)
	require.True(t, ok)
	assert.Len(t, payload.Stocks10, 1)
	assert.Len(t, payload.Stocks30, 1)
}

func TestRefreshRunsBothConfigurations(t *testing.T) {
	at := time.Date(2024, 1, 12, 18, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)

	require.NoError(t, h.orch.Refresh(context.Background()))

	require.Len(t, h.computer.params, 2)
	p10, p30 := h.computer.params[0], h.computer.params[1]
	assert.Equal(t, 10, p10.WindowDays)
	require.NotNil(t, p10.Threshold)
	assert.Equal(t, 100.0, *p10.Threshold)
	assert.Equal(t, 30, p30.WindowDays)
	require.NotNil(t, p30.Threshold)
	assert.Equal(t, 200.0, *p30.Threshold)
	for _, p := range h.computer.params {
		assert.True(t, p.IncludeChiNext)
		assert.Equal(t, rankingTopN, p.TopN)
	}
}

func TestRefreshWindowEndBeforeCutover(t *testing.T) {
	// Friday 10:00, before the cutover: the window ends on Thursday.
	at := time.Date(2024, 1, 12, 10, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)

	require.NoError(t, h.orch.Refresh(context.Background()))
	assert.Equal(t, "20240111", h.ingestor.barRange[1])
}

func TestRefreshWindowEndAfterCutover(t *testing.T) {
	// Friday 17:00 exactly: today's bars are available.
	at := time.Date(2024, 1, 12, 17, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)

	require.NoError(t, h.orch.Refresh(context.Background()))
	assert.Equal(t, "20240112", h.ingestor.barRange[1])
}

func TestRefreshWindowEndOnWeekend(t *testing.T) {
	// Sunday evening: the window ends on Friday regardless of the hour.
	at := time.Date(2024, 1, 14, 20, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)

	require.NoError(t, h.orch.Refresh(context.Background()))
	assert.Equal(t, "20240112", h.ingestor.barRange[1])
}

func TestRefreshFetchesBenchmarkIndices(t *testing.T) {
	at := time.Date(2024, 1, 12, 18, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)

	require.NoError(t, h.orch.Refresh(context.Background()))
	assert.ElementsMatch(t, ranking.DefaultMarketConfig().IndexCodes(), h.ingestor.indexCodes)
}

func TestRefreshIngestFailureStillFillsCache(t *testing.T) {
	at := time.Date(2024, 1, 12, 18, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)
	h.ingestor.barErr = errors.New("source unavailable")

	require.NoError(t, h.orch.Refresh(context.Background()))
	assert.ElementsMatch(t, []string{cache.KeyCurrent, cache.KeyPrevious}, h.cache.sets)
}

func TestRefreshComputeFailurePropagates(t *testing.T) {
	at := time.Date(2024, 1, 12, 18, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)
	h.computer.err = errors.New("store unreachable")

	err := h.orch.Refresh(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.cache.sets, "no partial snapshot on failure")
}

func TestRefreshCoalescesConcurrentRuns(t *testing.T) {
	at := time.Date(2024, 1, 12, 18, 0, 0, 0, time.Local)
	h := newHarness(tradingWeek(), at)
	h.computer.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.orch.Refresh(context.Background()))
		}()
	}

	// Let every goroutine reach the in-flight run, then release it.
	time.Sleep(50 * time.Millisecond)
	close(h.computer.block)
	wg.Wait()

	h.computer.mu.Lock()
	defer h.computer.mu.Unlock()
	assert.Len(t, h.computer.params, 2, "five triggers, one run")
}
