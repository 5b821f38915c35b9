package announce

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes to Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
}

// Connect opens and pings the Redis client.
func Connect(ctx context.Context, cfg config.AnnounceConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisPublisher{client: client}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
