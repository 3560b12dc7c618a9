package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/luwei/stockwatch/pkg/logger"
)

// PostgresStore implements the snapshot cache on the query_cache table.
// Entries are partitioned by calendar day so a snapshot written today
// never shadows or collides with yesterday's.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  *logger.Logger
	now  func() time.Time
}

// NewPostgresStore creates a snapshot cache backed by PostgreSQL.
func NewPostgresStore(pool *pgxpool.Pool, log *logger.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, log: log, now: time.Now}
}

// WithClock overrides the store's clock, for tests.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

func (s *PostgresStore) partition(p string) string {
	if p == "" {
		return Partition(s.now())
	}
	return p
}

// Get loads an unexpired entry into dest and reports whether one existed.
func (s *PostgresStore) Get(ctx context.Context, key, partition string, dest interface{}) (bool, error) {
	query := `
		SELECT cache_value
		FROM query_cache
		WHERE cache_key = $1 AND cache_date = $2 AND expire_at > $3
	`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, key, s.partition(partition), s.now()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		s.log.Debugf("cache miss: %s", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	s.log.Debugf("cache hit: %s", key)
	return true, nil
}

// Set upserts the value under (key, partition) with the given TTL.
func (s *PostgresStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, partition string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}

	now := s.now()
	query := `
		INSERT INTO query_cache (cache_key, cache_date, cache_value, expire_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (cache_key, cache_date) DO UPDATE SET
			cache_value = EXCLUDED.cache_value,
			expire_at = EXCLUDED.expire_at,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, key, s.partition(partition), raw, now.Add(ttl), now); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	s.log.Debugf("cache set: %s", key)
	return nil
}

// Delete removes one entry.
func (s *PostgresStore) Delete(ctx context.Context, key, partition string) error {
	query := `DELETE FROM query_cache WHERE cache_key = $1 AND cache_date = $2`
	if _, err := s.pool.Exec(ctx, query, key, s.partition(partition)); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

// ClearExpired removes every entry past expiry, across all partitions.
func (s *PostgresStore) ClearExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM query_cache WHERE expire_at <= $1`, s.now())
	if err != nil {
		return 0, fmt.Errorf("cache clear expired: %w", err)
	}
	removed := tag.RowsAffected()
	if removed > 0 {
		s.log.Infof("cleared %d expired cache entries", removed)
	}
	return removed, nil
}
