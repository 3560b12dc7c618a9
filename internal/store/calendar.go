package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luwei/stockwatch/internal/contracts"
)

// CalendarRepository implements contracts.CalendarStore on PostgreSQL.
type CalendarRepository struct {
	pool *pgxpool.Pool
}

// NewCalendarRepository creates a new calendar repository.
func NewCalendarRepository(pool *pgxpool.Pool) *CalendarRepository {
	return &CalendarRepository{pool: pool}
}

// Get retrieves one calendar row, or nil when none exists.
func (r *CalendarRepository) Get(ctx context.Context, exchange, date string) (*contracts.TradingDay, error) {
	query := `
		SELECT exchange, cal_date, is_open, pretrade_date
		FROM trade_calendar
		WHERE exchange = $1 AND cal_date = $2
	`

	var d contracts.TradingDay
	err := r.pool.QueryRow(ctx, query, exchange, date).Scan(&d.Exchange, &d.CalDate, &d.IsOpen, &d.PretradeDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar %s/%s: %w", exchange, date, err)
	}
	return &d, nil
}

// PrevOpen returns the nearest open date strictly before date, or "".
func (r *CalendarRepository) PrevOpen(ctx context.Context, exchange, date string) (string, error) {
	query := `
		SELECT cal_date
		FROM trade_calendar
		WHERE exchange = $1 AND cal_date < $2 AND is_open
		ORDER BY cal_date DESC
		LIMIT 1
	`
	return r.singleDate(ctx, query, exchange, date)
}

// NextOpen returns the nearest open date strictly after date, or "".
func (r *CalendarRepository) NextOpen(ctx context.Context, exchange, date string) (string, error) {
	query := `
		SELECT cal_date
		FROM trade_calendar
		WHERE exchange = $1 AND cal_date > $2 AND is_open
		ORDER BY cal_date ASC
		LIMIT 1
	`
	return r.singleDate(ctx, query, exchange, date)
}

func (r *CalendarRepository) singleDate(ctx context.Context, query string, args ...interface{}) (string, error) {
	var date string
	err := r.pool.QueryRow(ctx, query, args...).Scan(&date)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("calendar lookup: %w", err)
	}
	return date, nil
}

// CountOpen returns the inclusive count of open days in [start, end].
func (r *CalendarRepository) CountOpen(ctx context.Context, exchange, start, end string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM trade_calendar
		WHERE exchange = $1 AND cal_date >= $2 AND cal_date <= $3 AND is_open
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, exchange, start, end).Scan(&count); err != nil {
		return 0, fmt.Errorf("count open days %s..%s: %w", start, end, err)
	}
	return count, nil
}

// LastNOpen returns the n open dates with cal_date <= asOf, ascending.
func (r *CalendarRepository) LastNOpen(ctx context.Context, exchange string, n int, asOf string) ([]string, error) {
	query := `
		SELECT cal_date FROM (
			SELECT cal_date
			FROM trade_calendar
			WHERE exchange = $1 AND cal_date <= $2 AND is_open
			ORDER BY cal_date DESC
			LIMIT $3
		) latest
		ORDER BY cal_date ASC
	`

	rows, err := r.pool.Query(ctx, query, exchange, asOf, n)
	if err != nil {
		return nil, fmt.Errorf("last %d open days: %w", n, err)
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

// LatestDate returns the most recent calendar date for the exchange,
// open or not, or "" when the calendar is empty.
func (r *CalendarRepository) LatestDate(ctx context.Context, exchange string) (string, error) {
	query := `
		SELECT COALESCE(MAX(cal_date), '')
		FROM trade_calendar
		WHERE exchange = $1
	`

	var date string
	if err := r.pool.QueryRow(ctx, query, exchange).Scan(&date); err != nil {
		return "", fmt.Errorf("latest calendar date: %w", err)
	}
	return date, nil
}

// UpsertBatch saves calendar rows; existing (exchange, cal_date) rows
// keep their values since the calendar is immutable once ingested.
func (r *CalendarRepository) UpsertBatch(ctx context.Context, days []*contracts.TradingDay) error {
	if len(days) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO trade_calendar (exchange, cal_date, is_open, pretrade_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (exchange, cal_date) DO NOTHING
	`
	for _, d := range days {
		batch.Queue(query, d.Exchange, d.CalDate, d.IsOpen, d.PretradeDate)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range days {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert calendar: %w", err)
		}
	}
	return nil
}
