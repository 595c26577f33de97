package handoff

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"battlecards-backend/internal/config"
	"battlecards-backend/internal/errors"
)

// RedisCache backs the handoff map with Redis so tokens survive process
// restarts and work across multiple backend instances.
type RedisCache struct {
	client  *redis.Client
	ctx     context.Context
	timeout time.Duration
}

// NewRedisCache connects using REDIS_* environment configuration and
// verifies the connection with a bounded ping.
func NewRedisCache() (*RedisCache, error) {
	timeout := time.Duration(config.GetEnvInt("HANDOFF_REDIS_TIMEOUT_MS", 1500)) * time.Millisecond
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.GetEnv("REDIS_HOST", "localhost"), config.GetEnv("REDIS_PORT", "6379")),
		Password: config.GetEnv("REDIS_PASSWORD", ""),
		DB:       config.GetEnvInt("REDIS_DB", 0),
	})

	ctx := context.Background()
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Redis handoff cache initialized")
	return &RedisCache{client: rdb, ctx: ctx, timeout: timeout}, nil
}

func (rc *RedisCache) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(rc.ctx, rc.timeout)
}

func wrapRedisError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.UpstreamTimeout(operation, err)
	}
	return errors.Internal(fmt.Sprintf("%s redis operation failed", operation), err)
}

func (rc *RedisCache) Put(token string, data Data, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.Internal("marshal handoff data", err)
	}

	ctx, cancel := rc.withTimeout()
	defer cancel()
	if err := rc.client.Set(ctx, "handoff:"+token, payload, ttl).Err(); err != nil {
		return wrapRedisError("store handoff token", err)
	}
	return nil
}

// Take atomically fetches and deletes a token, so a captured token
// cannot be replayed.
func (rc *RedisCache) Take(token string) (*Data, error) {
	ctx, cancel := rc.withTimeout()
	defer cancel()

	payload, err := rc.client.GetDel(ctx, "handoff:"+token).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.NotFound("handoff token not found or expired")
		}
		return nil, wrapRedisError("take handoff token", err)
	}

	var data Data
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, errors.Internal("unmarshal handoff data", err)
	}
	return &data, nil
}
