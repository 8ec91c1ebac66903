package db

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"modnet/internal/common/logging"
	"modnet/internal/config"
)

// NewRedis connects and pings once so a bad address fails at startup.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 20
	}
	if cfg.MinIdleConns <= 0 {
		cfg.MinIdleConns = 2
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// WatchHealth pings the client every interval until ctx ends. It only
// reports; the client reconnects by itself.
func WatchHealth(ctx context.Context, client *redis.Client, logger *zap.Logger, interval time.Duration) {
	logger = logging.OrNop(logger)
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := client.Ping(checkCtx).Err()
				cancel()
				if err != nil {
					logger.Warn("redis ping failed",
						zap.String("addr", client.Options().Addr),
						zap.String("reason", err.Error()),
					)
				}
			}
		}
	}()
}
