// Package cache builds the Redis client used as the shared external tier
// of the tile store's cache hierarchy.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClient connects to addr and returns the client. Unlike a normal
// database dependency, a failed Redis connection is not fatal here: the
// shared cache tier is optional (TileStore falls back to direct upstream
// fetch on any cache-tier error), so this logs a warning and returns
// nil rather than aborting startup.
func NewRedisClient(ctx context.Context, addr string, log zerolog.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable at startup, tile cache will fall back to direct upstream fetch")
		client.Close()
		return nil
	}

	log.Info().Str("addr", addr).Msg("connected to redis")
	return client
}
