package commands

import (
	"context"
	"fmt"

	"github.com/luwei/stockwatch/internal/cache"
	"github.com/luwei/stockwatch/internal/calendar"
	"github.com/luwei/stockwatch/internal/contracts"
	"github.com/luwei/stockwatch/internal/ingest"
	"github.com/luwei/stockwatch/internal/ranking"
	"github.com/luwei/stockwatch/internal/refresh"
	"github.com/luwei/stockwatch/internal/store"
	"github.com/luwei/stockwatch/pkg/config"
	"github.com/luwei/stockwatch/pkg/database"
	"github.com/luwei/stockwatch/pkg/logger"
	"github.com/luwei/stockwatch/pkg/redis"
)

// components is the wired application graph shared by the serve and
// refresh commands.
type components struct {
	cfg       *config.Config
	log       *logger.Logger
	db        *database.DB
	redis     *redis.Client
	snapshots contracts.SnapshotCache
	refresher *refresh.Orchestrator
}

// initComponents loads config, connects the external resources and
// builds the ingest/ranking/refresh pipeline on top of them.
func initComponents() (*components, error) {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// 2. Initialize logger
	log := logger.New(cfg)

	// 3. Connect to database
	db, err := database.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := store.InitSchema(context.Background(), db.Pool); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	// 4. Connect to Redis (optional cache backend)
	redisClient, err := redis.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	var snapshots contracts.SnapshotCache
	if redisClient.Enabled() {
		snapshots = cache.NewRedisStore(redisClient, log)
		log.Info("Snapshot cache backed by Redis")
	} else {
		snapshots = cache.NewPostgresStore(db.Pool, log)
		log.Info("Snapshot cache backed by Postgres")
	}

	// 5. Create repositories
	securities := store.NewSecurityRepository(db.Pool)
	bars := store.NewBarRepository(db.Pool)
	calendars := store.NewCalendarRepository(db.Pool)
	cal := calendar.New(calendars, contracts.ExchangeSSE, log)

	// 6. Create ingest pipeline
	source := ingest.NewTushareClient(cfg.Tushare, log)
	manager := ingest.NewManager(source, securities, bars, calendars, log)

	// 7. Create ranking computer and refresh orchestrator
	markets := ranking.DefaultMarketConfig()
	computer := ranking.NewComputer(securities, bars, cal, markets, log)
	refresher := refresh.New(manager, computer, snapshots, cal, markets, log)

	return &components{
		cfg:       cfg,
		log:       log,
		db:        db,
		redis:     redisClient,
		snapshots: snapshots,
		refresher: refresher,
	}, nil
}

// Close releases the database and Redis connections.
func (c *components) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	c.db.Close()
}
