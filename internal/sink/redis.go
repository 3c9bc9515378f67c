// internal/sink/redis.go
package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/config"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Redis publishes detections on a channel and keeps the latest ones in a
// capped list.
type Redis struct {
	client   *redis.Client
	channel  string
	listKey  string
	listSize int64
	logger   *zap.Logger
}

// NewRedis connects to the server in cfg. Addr may be a redis:// URL.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.Addr)
	if err != nil {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to redis", zap.String("addr", opts.Addr))
	return NewRedisWithClient(client, cfg, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	return &Redis{
		client:   client,
		channel:  cfg.Channel,
		listKey:  cfg.ListKey,
		listSize: int64(cfg.ListSize),
		logger:   logger.Named("redis"),
	}
}

func (r *Redis) Name() string { return "redis" }

// WriteDetection publishes d and prepends it to the recent list.
func (r *Redis) WriteDetection(ctx context.Context, d types.Detection) error {
	payload, err := encode(d)
	if err != nil {
		return fmt.Errorf("failed to encode detection: %w", err)
	}

	if r.channel != "" {
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", r.channel, err)
		}
	}

	if r.listKey == "" {
		return nil
	}
	if err := r.client.LPush(ctx, r.listKey, payload).Err(); err != nil {
		return fmt.Errorf("redis lpush %s: %w", r.listKey, err)
	}
	if r.listSize > 0 {
		if err := r.client.LTrim(ctx, r.listKey, 0, r.listSize-1).Err(); err != nil {
			return fmt.Errorf("redis ltrim %s: %w", r.listKey, err)
		}
	}

	r.logger.Debug("Detection written",
		zap.String("kind", string(d.Kind)),
		zap.String("signature", d.Key()))
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
