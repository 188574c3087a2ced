package internal

import (
	"context"
	"fmt"

	"github.com/2beens/homecoach/internal/calendar"
	"github.com/2beens/homecoach/internal/config"
	"github.com/2beens/homecoach/internal/db"
	"github.com/2beens/homecoach/internal/progress"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type storageDeps struct {
	redisClient      *redis.Client
	postgresUser     string
	postgresPassword string
	tracingEnabled   bool
	clock            calendar.Clock
}

// progressBackend is the selected backend plus whatever has to be closed with it.
type progressBackend struct {
	backend progress.Backend
	dbPool  *pgxpool.Pool
	close   func() error
}

func newProgressBackend(ctx context.Context, cfg *config.Config, deps storageDeps) (*progressBackend, error) {
	noop := func() error { return nil }

	switch cfg.StorageBackend {
	case config.StorageMemory:
		log.Warnln("progress kept in memory only, it will be lost on restart")
		return &progressBackend{backend: progress.NewMemoryBackend(nil), close: noop}, nil

	case config.StorageFile:
		log.Debugf("progress file: %s", cfg.ProgressFile)
		return &progressBackend{backend: progress.NewFileBackend(cfg.ProgressFile, deps.clock), close: noop}, nil

	case config.StorageSQLite:
		b, err := progress.NewSQLiteBackend(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("new sqlite backend: %w", err)
		}
		log.Debugf("progress sqlite db: %s", cfg.SQLitePath)
		return &progressBackend{backend: b, close: b.Close}, nil

	case config.StoragePostgres:
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         deps.postgresUser,
			DBPassword:     deps.postgresPassword,
			TracingEnabled: deps.tracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		return &progressBackend{
			backend: progress.NewPostgresBackend(dbPool, cfg.Profile),
			dbPool:  dbPool,
			close: func() error {
				log.Debugln("closing db pool ...")
				dbPool.Close() // blocking operation
				log.Debugln("db pool closed")
				return nil
			},
		}, nil

	case config.StorageRedis:
		if deps.redisClient == nil {
			return nil, fmt.Errorf("redis storage without a redis client")
		}
		return &progressBackend{backend: progress.NewRedisBackend(deps.redisClient, cfg.Profile, deps.clock), close: noop}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend [%s]", cfg.StorageBackend)
	}
}
