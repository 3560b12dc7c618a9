package ranking

import (
	"strings"

	"github.com/luwei/stockwatch/internal/contracts"
)

// MarketConfig maps a market segment to its benchmark index and its
// daily limit-up percentage. The table is injected so tests and future
// segment changes do not require touching the computation code.
type MarketConfig struct {
	// Benchmark index per segment. The Main segment is special-cased
	// by code suffix, see BenchmarkFor.
	MainSSEIndex  string
	MainSZSEIndex string
	ChiNextIndex  string
	STARIndex     string
	BeijingIndex  string

	// LimitUpPct is the daily limit-up percentage per segment.
	LimitUpPct map[contracts.MarketSegment]float64
}

// DefaultMarketConfig returns the production benchmark table for the
// A-share market segments.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		MainSSEIndex:  "000001.SH",
		MainSZSEIndex: "399107.SZ",
		ChiNextIndex:  "399102.SZ",
		STARIndex:     "000688.SH",
		BeijingIndex:  "899050.BJ",
		LimitUpPct: map[contracts.MarketSegment]float64{
			contracts.SegmentMain:    10,
			contracts.SegmentChiNext: 20,
			contracts.SegmentSTAR:    20,
			contracts.SegmentBeijing: 30,
		},
	}
}

// BenchmarkFor resolves the benchmark index code for one security.
// Main-board securities listed in Shenzhen track the SZSE composite,
// every other Main-board security tracks the SSE composite.
func (c MarketConfig) BenchmarkFor(tsCode string, segment contracts.MarketSegment) string {
	switch segment {
	case contracts.SegmentChiNext:
		return c.ChiNextIndex
	case contracts.SegmentSTAR:
		return c.STARIndex
	case contracts.SegmentBeijing:
		return c.BeijingIndex
	default:
		if strings.HasSuffix(tsCode, ".SZ") {
			return c.MainSZSEIndex
		}
		return c.MainSSEIndex
	}
}

// LimitUpFor returns the daily limit-up percentage for a segment.
// Unknown segments fall back to the Main-board limit.
func (c MarketConfig) LimitUpFor(segment contracts.MarketSegment) float64 {
	if pct, ok := c.LimitUpPct[segment]; ok {
		return pct
	}
	return c.LimitUpPct[contracts.SegmentMain]
}

// IndexCodes returns every benchmark index code in the table, without
// duplicates, for ingestion of index bars.
func (c MarketConfig) IndexCodes() []string {
	seen := make(map[string]bool)
	var codes []string
	for _, code := range []string{c.MainSSEIndex, c.MainSZSEIndex, c.ChiNextIndex, c.STARIndex, c.BeijingIndex} {
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	return codes
}
