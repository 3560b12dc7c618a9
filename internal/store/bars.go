package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luwei/stockwatch/internal/contracts"
)

// BarRepository implements contracts.BarStore on PostgreSQL. Securities
// and benchmark indices share the daily_bars table; queries scoped to
// the security universe join the securities reference table, queries for
// indices address explicit code sets.
type BarRepository struct {
	pool *pgxpool.Pool
}

// NewBarRepository creates a new bar repository.
func NewBarRepository(pool *pgxpool.Pool) *BarRepository {
	return &BarRepository{pool: pool}
}

// DistinctSecurityDates returns the most recent distinct trade dates
// with security bars, descending, at most limit entries.
func (r *BarRepository) DistinctSecurityDates(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT DISTINCT b.trade_date
		FROM daily_bars b
		JOIN securities s ON s.ts_code = b.ts_code
		ORDER BY b.trade_date DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("distinct security dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// PrevCloseByDate returns ts_code -> pre_close at date for securities in
// the segment set.
func (r *BarRepository) PrevCloseByDate(ctx context.Context, date string, segments []contracts.MarketSegment) (map[string]float64, error) {
	return r.priceByDate(ctx, "pre_close", date, segments)
}

// CloseByDate returns ts_code -> close at date for securities in the
// segment set.
func (r *BarRepository) CloseByDate(ctx context.Context, date string, segments []contracts.MarketSegment) (map[string]float64, error) {
	return r.priceByDate(ctx, "close", date, segments)
}

func (r *BarRepository) priceByDate(ctx context.Context, column, date string, segments []contracts.MarketSegment) (map[string]float64, error) {
	query := fmt.Sprintf(`
		SELECT b.ts_code, b.%s
		FROM daily_bars b
		JOIN securities s ON s.ts_code = b.ts_code
		WHERE b.trade_date = $1 AND s.market = ANY($2)
	`, column)

	rows, err := r.pool.Query(ctx, query, date, segmentStrings(segments))
	if err != nil {
		return nil, fmt.Errorf("prices at %s: %w", date, err)
	}
	defer rows.Close()

	result := make(map[string]float64)
	for rows.Next() {
		var code string
		var price float64
		if err := rows.Scan(&code, &price); err != nil {
			return nil, err
		}
		result[code] = price
	}
	return result, rows.Err()
}

// QuotesByRange returns each security's close/pre_close series inside
// [start, end], ascending by date, for securities in the segment set.
func (r *BarRepository) QuotesByRange(ctx context.Context, start, end string, segments []contracts.MarketSegment) (map[string][]contracts.DailyQuote, error) {
	query := `
		SELECT b.ts_code, b.trade_date, b.close, b.pre_close
		FROM daily_bars b
		JOIN securities s ON s.ts_code = b.ts_code
		WHERE b.trade_date >= $1 AND b.trade_date <= $2 AND s.market = ANY($3)
		ORDER BY b.ts_code, b.trade_date
	`

	rows, err := r.pool.Query(ctx, query, start, end, segmentStrings(segments))
	if err != nil {
		return nil, fmt.Errorf("quotes %s..%s: %w", start, end, err)
	}
	defer rows.Close()

	result := make(map[string][]contracts.DailyQuote)
	for rows.Next() {
		var code string
		var q contracts.DailyQuote
		if err := rows.Scan(&code, &q.TradeDate, &q.Close, &q.PreClose); err != nil {
			return nil, err
		}
		result[code] = append(result[code], q)
	}
	return result, rows.Err()
}

// IndexQuote returns one instrument's close/pre_close at one date, or
// nil when no bar exists.
func (r *BarRepository) IndexQuote(ctx context.Context, code, date string) (*contracts.DailyQuote, error) {
	query := `
		SELECT trade_date, close, pre_close
		FROM daily_bars
		WHERE ts_code = $1 AND trade_date = $2
	`

	var q contracts.DailyQuote
	err := r.pool.QueryRow(ctx, query, code, date).Scan(&q.TradeDate, &q.Close, &q.PreClose)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quote %s@%s: %w", code, date, err)
	}
	return &q, nil
}

// SeriesByRange returns one instrument's OHLC series inside [start, end],
// ascending by date.
func (r *BarRepository) SeriesByRange(ctx context.Context, code, start, end string) ([]contracts.PricePoint, error) {
	query := `
		SELECT trade_date, open, high, low, close, pre_close
		FROM daily_bars
		WHERE ts_code = $1 AND trade_date >= $2 AND trade_date <= $3
		ORDER BY trade_date ASC
	`

	rows, err := r.pool.Query(ctx, query, code, start, end)
	if err != nil {
		return nil, fmt.Errorf("series %s %s..%s: %w", code, start, end, err)
	}
	defer rows.Close()

	var points []contracts.PricePoint
	for rows.Next() {
		var p contracts.PricePoint
		if err := rows.Scan(&p.TradeDate, &p.Open, &p.High, &p.Low, &p.Close, &p.PreClose); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// HasDate reports whether any bar exists at date for the security
// universe (codes nil) or for the given instruments.
func (r *BarRepository) HasDate(ctx context.Context, date string, codes []string) (bool, error) {
	var query string
	var args []interface{}
	if codes == nil {
		query = `
			SELECT EXISTS (
				SELECT 1 FROM daily_bars b
				JOIN securities s ON s.ts_code = b.ts_code
				WHERE b.trade_date = $1
			)
		`
		args = []interface{}{date}
	} else {
		query = `
			SELECT EXISTS (
				SELECT 1 FROM daily_bars
				WHERE trade_date = $1 AND ts_code = ANY($2)
			)
		`
		args = []interface{}{date, codes}
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("has date %s: %w", date, err)
	}
	return exists, nil
}

// LatestDate returns the most recent bar date for the security universe
// (codes nil) or the given instruments, or "" when no bars exist.
func (r *BarRepository) LatestDate(ctx context.Context, codes []string) (string, error) {
	return r.boundaryDate(ctx, "MAX", codes)
}

// EarliestDate returns the oldest bar date for the security universe
// (codes nil) or the given instruments, or "" when no bars exist.
func (r *BarRepository) EarliestDate(ctx context.Context, codes []string) (string, error) {
	return r.boundaryDate(ctx, "MIN", codes)
}

func (r *BarRepository) boundaryDate(ctx context.Context, agg string, codes []string) (string, error) {
	var query string
	var args []interface{}
	if codes == nil {
		query = fmt.Sprintf(`
			SELECT COALESCE(%s(b.trade_date), '')
			FROM daily_bars b
			JOIN securities s ON s.ts_code = b.ts_code
		`, agg)
	} else {
		query = fmt.Sprintf(`
			SELECT COALESCE(%s(trade_date), '')
			FROM daily_bars
			WHERE ts_code = ANY($1)
		`, agg)
		args = []interface{}{codes}
	}

	var date string
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&date); err != nil {
		return "", fmt.Errorf("boundary date: %w", err)
	}
	return date, nil
}

// UpsertBatch saves bars, replacing price fields on conflict.
func (r *BarRepository) UpsertBatch(ctx context.Context, bars []*contracts.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO daily_bars (ts_code, trade_date, open, high, low, close, pre_close, change, pct_chg, vol, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (ts_code, trade_date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			pre_close = EXCLUDED.pre_close,
			change = EXCLUDED.change,
			pct_chg = EXCLUDED.pct_chg,
			vol = EXCLUDED.vol,
			amount = EXCLUDED.amount,
			updated_at = now()
	`
	for _, b := range bars {
		batch.Queue(query, b.TsCode, b.TradeDate, b.Open, b.High, b.Low, b.Close, b.PreClose, b.Change, b.PctChg, b.Vol, b.Amount)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert bars: %w", err)
		}
	}
	return nil
}
