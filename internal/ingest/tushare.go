package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/pkg/config"
	"github.com/luwei/stockwatch/pkg/httputil"
	"github.com/luwei/stockwatch/pkg/logger"
)

// Field lists requested from the data source. Keeping them explicit
// pins the column order independent of server-side defaults.
const (
	calendarFields = "exchange,cal_date,is_open,pretrade_date"
	securityFields = "ts_code,name,market,exchange,list_date"
	barFields      = "ts_code,trade_date,open,high,low,close,pre_close,change,pct_chg,vol,amount"
)

// marketSegments maps the source's Chinese board names to segments.
// Boards outside the table (CDR and the like) are not ranked and their
// securities are dropped at ingestion.
var marketSegments = map[string]contracts.MarketSegment{
	"主板":  contracts.SegmentMain,
	"创业板": contracts.SegmentChiNext,
	"科创板": contracts.SegmentSTAR,
	"北交所": contracts.SegmentBeijing,
}

// TushareClient implements contracts.MarketData against the Tushare
// HTTP API. Every endpoint is a POST of {api_name, token, params,
// fields} answered by a column-oriented rowset.
type TushareClient struct {
	http    *httputil.Client
	baseURL string
	token   string
	log     *logger.Logger
}

// NewTushareClient creates a data-source client with retry and
// client-side request pacing.
func NewTushareClient(cfg config.TushareConfig, log *logger.Logger) *TushareClient {
	return &TushareClient{
		http:    httputil.New(log).WithRateLimit(cfg.RequestsPerMinute),
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		log:     log,
	}
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type apiResponse struct {
	Code int     `json:"code"`
	Msg  string  `json:"msg"`
	Data *rowset `json:"data"`
}

// rowset is the column-oriented payload every endpoint returns.
type rowset struct {
	Fields []string        `json:"fields"`
	Items  [][]interface{} `json:"items"`
}

func (c *TushareClient) call(ctx context.Context, apiName string, params map[string]string, fields string) (*rowset, error) {
	req := apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  fields,
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL, req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", apiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s request: unexpected status %d", apiName, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", apiName, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s response: %w", apiName, err)
	}
	if parsed.Code != 0 {
		return nil, fmt.Errorf("%s failed: code %d: %s", apiName, parsed.Code, parsed.Msg)
	}
	if parsed.Data == nil {
		return nil, fmt.Errorf("%s response has no data", apiName)
	}
	return parsed.Data, nil
}

// row gives name-based access to one item of a rowset.
type row struct {
	index map[string]int
	item  []interface{}
}

func (s *rowset) rows() []row {
	index := make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		index[f] = i
	}
	out := make([]row, 0, len(s.Items))
	for _, item := range s.Items {
		out = append(out, row{index: index, item: item})
	}
	return out
}

func (r row) str(field string) string {
	i, ok := r.index[field]
	if !ok || i >= len(r.item) || r.item[i] == nil {
		return ""
	}
	switch v := r.item[i].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (r row) num(field string) float64 {
	i, ok := r.index[field]
	if !ok || i >= len(r.item) || r.item[i] == nil {
		return 0
	}
	switch v := r.item[i].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// TradeCalendar fetches the trading calendar for one exchange.
func (c *TushareClient) TradeCalendar(ctx context.Context, exchange, start, end string) ([]*contracts.TradingDay, error) {
	data, err := c.call(ctx, "trade_cal", map[string]string{
		"exchange":   exchange,
		"start_date": start,
		"end_date":   end,
	}, calendarFields)
	if err != nil {
		return nil, err
	}

	var days []*contracts.TradingDay
	for _, r := range data.rows() {
		days = append(days, &contracts.TradingDay{
			Exchange:     r.str("exchange"),
			CalDate:      r.str("cal_date"),
			IsOpen:       r.str("is_open") == "1",
			PretradeDate: r.str("pretrade_date"),
		})
	}
	c.log.Infof("fetched %d calendar rows for %s", len(days), exchange)
	return days, nil
}

// SecurityList fetches reference data for all listed securities.
func (c *TushareClient) SecurityList(ctx context.Context) ([]*contracts.Security, error) {
	data, err := c.call(ctx, "stock_basic", map[string]string{
		"list_status": "L",
	}, securityFields)
	if err != nil {
		return nil, err
	}

	var secs []*contracts.Security
	skipped := 0
	for _, r := range data.rows() {
		segment, ok := marketSegments[r.str("market")]
		if !ok {
			skipped++
			continue
		}
		secs = append(secs, &contracts.Security{
			TsCode:   r.str("ts_code"),
			Name:     r.str("name"),
			Market:   segment,
			Exchange: r.str("exchange"),
			ListDate: r.str("list_date"),
		})
	}
	c.log.Infof("fetched %d securities (%d on unranked boards skipped)", len(secs), skipped)
	return secs, nil
}

// DailyBars fetches daily bars for a set of securities in one request.
// The caller is responsible for keeping the set within the source's
// per-request ceilings.
func (c *TushareClient) DailyBars(ctx context.Context, codes []string, start, end string) ([]*contracts.DailyBar, error) {
	data, err := c.call(ctx, "daily", map[string]string{
		"ts_code":    strings.Join(codes, ","),
		"start_date": start,
		"end_date":   end,
	}, barFields)
	if err != nil {
		return nil, err
	}
	return barsFromRowset(data), nil
}

// IndexDaily fetches daily bars for a single benchmark index.
func (c *TushareClient) IndexDaily(ctx context.Context, code, start, end string) ([]*contracts.DailyBar, error) {
	data, err := c.call(ctx, "index_daily", map[string]string{
		"ts_code":    code,
		"start_date": start,
		"end_date":   end,
	}, barFields)
	if err != nil {
		return nil, err
	}
	return barsFromRowset(data), nil
}

func barsFromRowset(data *rowset) []*contracts.DailyBar {
	var bars []*contracts.DailyBar
	for _, r := range data.rows() {
		bars = append(bars, &contracts.DailyBar{
			TsCode:    r.str("ts_code"),
			TradeDate: r.str("trade_date"),
			Open:      r.num("open"),
			High:      r.num("high"),
			Low:       r.num("low"),
			Close:     r.num("close"),
			PreClose:  r.num("pre_close"),
			Change:    r.num("change"),
			PctChg:    r.num("pct_chg"),
			Vol:       r.num("vol"),
			Amount:    r.num("amount"),
		})
	}
	return bars
}
