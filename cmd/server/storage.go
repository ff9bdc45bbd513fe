package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goonboard/pkg/onboarding"
	firestorestorage "github.com/mihaimyh/goonboard/storage/firestore"
	"github.com/mihaimyh/goonboard/storage/memory"
	"github.com/mihaimyh/goonboard/storage/postgres"
	redisstorage "github.com/mihaimyh/goonboard/storage/redis"
)

// openStorage connects the configured backend. The returned close function
// releases its connections.
func openStorage(ctx context.Context, cfg Config, log zerolog.Logger) (onboarding.Storage, func(), error) {
	switch cfg.StorageBackend {
	case backendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.Postgres.URL
		pgConfig.MaxConns = cfg.Postgres.MaxConns
		pgConfig.Migrate = cfg.Postgres.Migrate

		store, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		log.Info().Bool("migrate", pgConfig.Migrate).Msg("using postgres storage")
		return store, store.Close, nil

	case backendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		redisConfig := redisstorage.DefaultConfig()
		redisConfig.KeyPrefix = cfg.Redis.KeyPrefix
		store, err := redisstorage.New(client, redisConfig)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis storage")
		return store, func() { _ = client.Close() }, nil

	case backendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := firestorestorage.New(client, firestorestorage.Config{
			RecordsCollection:   cfg.Firestore.RecordsCollection,
			CustomersCollection: cfg.Firestore.CustomersCollection,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		log.Info().Str("project", cfg.Firestore.ProjectID).Msg("using firestore storage")
		return store, func() { _ = client.Close() }, nil

	default:
		log.Warn().Msg("using in-memory storage, records are lost on restart")
		return memory.New(), func() {}, nil
	}
}
