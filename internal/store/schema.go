package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the DDL for the three tabular-store tables plus the
// snapshot cache table. All writes use ON CONFLICT upserts against the
// unique keys declared here.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS securities (
		ts_code    TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		market     TEXT NOT NULL,
		exchange   TEXT NOT NULL DEFAULT '',
		list_date  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS daily_bars (
		ts_code    TEXT NOT NULL,
		trade_date TEXT NOT NULL,
		open       DOUBLE PRECISION NOT NULL DEFAULT 0,
		high       DOUBLE PRECISION NOT NULL DEFAULT 0,
		low        DOUBLE PRECISION NOT NULL DEFAULT 0,
		close      DOUBLE PRECISION NOT NULL DEFAULT 0,
		pre_close  DOUBLE PRECISION NOT NULL DEFAULT 0,
		change     DOUBLE PRECISION NOT NULL DEFAULT 0,
		pct_chg    DOUBLE PRECISION NOT NULL DEFAULT 0,
		vol        DOUBLE PRECISION NOT NULL DEFAULT 0,
		amount     DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (ts_code, trade_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_bars_trade_date ON daily_bars (trade_date)`,
	`CREATE TABLE IF NOT EXISTS trade_calendar (
		exchange      TEXT NOT NULL,
		cal_date      TEXT NOT NULL,
		is_open       BOOLEAN NOT NULL,
		pretrade_date TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (exchange, cal_date)
	)`,
	`CREATE TABLE IF NOT EXISTS query_cache (
		cache_key   TEXT NOT NULL,
		cache_date  TEXT NOT NULL,
		cache_value JSONB NOT NULL,
		expire_at   TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (cache_key, cache_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_query_cache_expire_at ON query_cache (expire_at)`,
}

// InitSchema creates all tables if they do not exist.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}
