package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luwei/stockwatch/internal/contracts"
)

// SecurityRepository implements contracts.SecurityStore on PostgreSQL.
type SecurityRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityRepository creates a new security repository.
func NewSecurityRepository(pool *pgxpool.Pool) *SecurityRepository {
	return &SecurityRepository{pool: pool}
}

// GetByCode retrieves one security by ts_code, or nil when unknown.
func (r *SecurityRepository) GetByCode(ctx context.Context, code string) (*contracts.Security, error) {
	query := `
		SELECT ts_code, name, market, exchange, list_date
		FROM securities
		WHERE ts_code = $1
	`

	var s contracts.Security
	err := r.pool.QueryRow(ctx, query, code).Scan(&s.TsCode, &s.Name, &s.Market, &s.Exchange, &s.ListDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get security %s: %w", code, err)
	}
	return &s, nil
}

// ListBySegments returns securities in the given market segments keyed
// by ts_code.
func (r *SecurityRepository) ListBySegments(ctx context.Context, segments []contracts.MarketSegment) (map[string]*contracts.Security, error) {
	query := `
		SELECT ts_code, name, market, exchange, list_date
		FROM securities
		WHERE market = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, segmentStrings(segments))
	if err != nil {
		return nil, fmt.Errorf("list securities by segment: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*contracts.Security)
	for rows.Next() {
		var s contracts.Security
		if err := rows.Scan(&s.TsCode, &s.Name, &s.Market, &s.Exchange, &s.ListDate); err != nil {
			return nil, err
		}
		result[s.TsCode] = &s
	}
	return result, rows.Err()
}

// ListCodes returns all known security codes.
func (r *SecurityRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT ts_code FROM securities ORDER BY ts_code`)
	if err != nil {
		return nil, fmt.Errorf("list security codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// UpsertBatch saves securities, replacing reference fields on conflict.
func (r *SecurityRepository) UpsertBatch(ctx context.Context, securities []*contracts.Security) error {
	if len(securities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO securities (ts_code, name, market, exchange, list_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ts_code) DO UPDATE SET
			name = EXCLUDED.name,
			market = EXCLUDED.market,
			exchange = EXCLUDED.exchange,
			list_date = EXCLUDED.list_date,
			updated_at = now()
	`
	for _, s := range securities {
		batch.Queue(query, s.TsCode, s.Name, string(s.Market), s.Exchange, s.ListDate)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range securities {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert securities: %w", err)
		}
	}
	return nil
}

// segmentStrings converts segments for use with = ANY($n).
func segmentStrings(segments []contracts.MarketSegment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = string(s)
	}
	return out
}
