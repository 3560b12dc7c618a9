package contracts

// Horizon holds the re-anchored deviation metrics for one forward step.
// All pointer fields are null when the shrunk sub-window has no data.
type Horizon struct {
	LowPrice          *float64 `json:"low_price"`
	LowDate           *string  `json:"low_date"`
	EndZhangtingPrice *float64 `json:"end_zhangting_price"`
	PriceChangePct    *float64 `json:"price_change_pct"`
	Deviation         *float64 `json:"deviation"`
	IsAbnormal        bool     `json:"is_abnormal"`
}

// RankingRecord is one qualifying security in a ranking run. It lives
// only inside a cache snapshot and is never persisted on its own.
type RankingRecord struct {
	TsCode            string        `json:"ts_code"`
	Name              string        `json:"name"`
	Market            MarketSegment `json:"market"`
	StartPrice        float64       `json:"start_price"`
	EndPrice          float64       `json:"end_price"`
	PriceChangePct    float64       `json:"price_change_pct"`
	IndexChangePct    float64       `json:"index_change_pct"`
	Deviation         *float64      `json:"deviation"`
	RemainingLimitUps int           `json:"remaining_limit_ups"`
	StartDate         string        `json:"start_date"`
	EndDate           string        `json:"end_date"`
	LowPrice          *float64      `json:"low_price"`
	LowDate           *string      `json:"low_date"`
	PriceChangeLowPct *float64      `json:"price_change_low_pct"`
	IndexChangeLowPct float64       `json:"index_change_low_pct"`
	DeviationLow      *float64      `json:"deviation_low"`
	// DeviationDateRange is the count of open trading days between the
	// low date and the window end, inclusive.
	DeviationDateRange int `json:"deviation_date_range"`

	T1 Horizon `json:"t+1"`
	T2 Horizon `json:"t+2"`
	T3 Horizon `json:"t+3"`
	T4 Horizon `json:"t+4"`
	T5 Horizon `json:"t+5"`
	T6 Horizon `json:"t+6"`

	// Chart series across [StartDate, EndDate], ascending by date.
	// Filled only for the post-truncation result set.
	StockPrices []PricePoint `json:"stock_prices"`
	IndexPrices []PricePoint `json:"index_prices"`
}

// HorizonAt returns a pointer to the t+i horizon, i in 1..6.
func (r *RankingRecord) HorizonAt(i int) *Horizon {
	switch i {
	case 1:
		return &r.T1
	case 2:
		return &r.T2
	case 3:
		return &r.T3
	case 4:
		return &r.T4
	case 5:
		return &r.T5
	case 6:
		return &r.T6
	default:
		return nil
	}
}

// RankingPayload is the combined snapshot the daily refresh caches and
// the query surface serves.
type RankingPayload struct {
	Stocks10 []*RankingRecord `json:"stocks_10"`
	Stocks30 []*RankingRecord `json:"stocks_30"`
}
