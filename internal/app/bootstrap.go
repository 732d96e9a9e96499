package service

import (
	"context"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/staffrate/internal/adapters/repository"
	"github.com/okian/staffrate/internal/config"
	"github.com/okian/staffrate/internal/domain/ledger"
	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/internal/roster"
	"github.com/okian/staffrate/pkg/logger"
)

// OpenStore connects the backend selected by cfg.StoreBackend.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	log := logger.Named("bootstrap")

	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.WithContext(ctx).Ping().Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		log.Info(ctx, "using redis store", logger.String("addr", cfg.RedisAddr))
		return repository.NewRedisStore(client,
			repository.WithKeyPrefix(cfg.RedisKeyPrefix),
			repository.WithHealthCheckInterval(cfg.RedisHealthCheck()),
		), nil

	case config.BackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		if cfg.DBMaxConns > 0 {
			poolCfg.MaxConns = int32(cfg.DBMaxConns) //nolint:gosec // bounded by config validation
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		store := repository.NewPgStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info(ctx, "using postgres store")
		return store, nil

	case config.BackendMemory, "":
		log.Info(ctx, "using in-memory store")
		return repository.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", config.ErrInvalidConfig, cfg.StoreBackend)
	}
}

// OpenLedger loads the device ledger from cfg.LedgerPath, or keeps it in
// memory when the path is empty.
func OpenLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, error) {
	if cfg.LedgerPath == "" {
		return ledger.Open(ctx, nil)
	}
	return ledger.Open(ctx, ledger.NewFilePersister(cfg.LedgerPath))
}

// LoadRoster reads cfg.RosterPath; an empty path means no roster.
func LoadRoster(cfg *config.Config) ([]model.Entity, error) {
	if cfg.RosterPath == "" {
		return nil, nil
	}
	return roster.Load(cfg.RosterPath)
}
