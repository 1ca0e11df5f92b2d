package cache

import (
	"context"
	"fmt"
	"time"

	"budgetledger/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// InitRedis connects to redis and verifies the connection with a PING.
func InitRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	log.Info().Str("addr", client.Options().Addr).Int("db", cfg.DB).Msg("redis connected")
	return client, nil
}
