package contracts

// Dates are YYYYMMDD strings throughout the engine. That is the wire
// format of the data source and of the ranking payload, and lexicographic
// order matches chronological order.

// MarketSegment identifies the listing board of a security.
type MarketSegment string

const (
	SegmentMain    MarketSegment = "Main"
	SegmentChiNext MarketSegment = "ChiNext"
	SegmentSTAR    MarketSegment = "STAR"
	SegmentBeijing MarketSegment = "Beijing"
)

// Exchange codes used by the trading calendar.
const (
	ExchangeSSE  = "SSE"
	ExchangeSZSE = "SZSE"
)

// Security is the reference record for a listed security.
// Mutated only by ingestion; read-only to the engine.
type Security struct {
	TsCode   string        `json:"ts_code"`
	Name     string        `json:"name"`
	Market   MarketSegment `json:"market"`
	Exchange string        `json:"exchange"`
	ListDate string        `json:"list_date"`
}

// TradingDay is one row of the trading calendar.
// Immutable once ingested for a given (exchange, date) pair.
type TradingDay struct {
	Exchange     string `json:"exchange"`
	CalDate      string `json:"cal_date"`
	IsOpen       bool   `json:"is_open"`
	PretradeDate string `json:"pretrade_date,omitempty"`
}

// DailyBar is one daily OHLC bar. The same shape is used for securities
// and for the benchmark indices.
type DailyBar struct {
	TsCode    string  `json:"ts_code"`
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	Change    float64 `json:"change"`
	PctChg    float64 `json:"pct_chg"`
	Vol       float64 `json:"vol"`
	Amount    float64 `json:"amount"`
}

// DailyQuote is the close/previous-close pair the window math runs on.
type DailyQuote struct {
	TradeDate string  `json:"trade_date"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
}

// PricePoint is one day of the per-security chart series attached to a
// ranking record.
type PricePoint struct {
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
}
