// Package bootstrap wires shared infrastructure for the binaries: stores,
// queues, buses, and model clients, with safe in-memory fallbacks for local
// development.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/mwilkes/clinicdesk/internal/config"
	"github.com/mwilkes/clinicdesk/internal/livequery"
	"github.com/mwilkes/clinicdesk/internal/records"
	"github.com/mwilkes/clinicdesk/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildPgxPool connects the pgx pool used by the record store, outbox, and
// processed-event ledger. Returns nil when no database is configured.
func BuildPgxPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// BuildSQLDB opens a database/sql handle over the same database for the
// dashboard's aggregate queries. Returns nil when no database is configured.
func BuildSQLDB(cfg *appconfig.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	return sql.Open("pgx", cfg.DatabaseURL)
}

// BuildRecordStore selects the document store backend. Without a database the
// in-memory store keeps local development working; nothing survives a restart.
func BuildRecordStore(pool *pgxpool.Pool, logger *logging.Logger) records.Store {
	if logger == nil {
		logger = logging.Default()
	}
	if pool == nil {
		logger.Warn("no database configured; using in-memory record store")
		return records.NewMemoryStore()
	}
	return records.NewPostgresStore(pool)
}

// BuildLiveBus selects the change notification bus. Redis fans changes out
// across instances; the memory bus covers a single process.
func BuildLiveBus(redisClient *redis.Client, logger *logging.Logger) livequery.Bus {
	if redisClient == nil {
		return livequery.NewMemoryBus()
	}
	return livequery.NewRedisBus(redisClient, logger)
}
