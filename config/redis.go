package config

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// ConnectRedis returns nil when Redis is not configured or unreachable;
// callers fall back to in-process state.
func ConnectRedis(cfg RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		log.Info().Msg("REDIS_ADDR not set, using in-memory rate limiting")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis connection failed, rate limiting falls back to memory")
		client.Close()
		return nil
	}

	log.Info().Str("addr", cfg.Addr).Msg("connected to Redis")
	return client
}
