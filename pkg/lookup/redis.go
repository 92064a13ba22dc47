package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

const redisKeyPrefix = "codes:"

// RedisCache shares resolved codes across service replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, cui string) ([]models.CodeEntry, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+cui).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var codes []models.CodeEntry
	if err := json.Unmarshal(raw, &codes); err != nil {
		return nil, false, err
	}
	return codes, true, nil
}

func (c *RedisCache) Set(ctx context.Context, cui string, codes []models.CodeEntry) error {
	payload, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+cui, payload, c.ttl).Err()
}
