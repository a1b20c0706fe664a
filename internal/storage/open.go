package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
)

// Open builds the backend named by cfg.Driver. The returned close func
// releases whatever connection the backend holds.
func Open(ctx context.Context, cfg config.StorageConfig) (KV, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.StorageDriverMemory:
		return NewMemory(), noop, nil

	case config.StorageDriverFile:
		kv, err := NewFile(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return kv, noop, nil

	case config.StorageDriverPostgres:
		db, err := database.NewConnection(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if _, err := database.RunMigrations(db, cfg.MigrationsDir, "up"); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate snapshot schema: %w", err)
		}
		return NewPostgres(db), db.Close, nil

	case config.StorageDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return NewRedis(client), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
