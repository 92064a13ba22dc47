package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/config"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
)

// NewRedis builds a client and pings it. A failed ping is returned so the
// caller can decide whether to degrade to another cache backend.
func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Error("Failed to connect to Redis")
		return client, err
	}
	logger.Log.Info("Connected to Redis")
	return client, nil
}
