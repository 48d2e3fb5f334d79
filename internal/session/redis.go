package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rescueops:session:"

// RedisClaimer reserves session ids with SETNX so several hub replicas share
// one id space.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a claim is kept; zero keeps it forever.
	TTL time.Duration
}

// NewRedisClaimer connects and pings the server.
func NewRedisClaimer(ctx context.Context, cfg RedisConfig) (*RedisClaimer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisClaimer{client: client, ttl: cfg.TTL}, nil
}

// Claim implements Claimer.
func (c *RedisClaimer) Claim(ctx context.Context, sessionID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, keyPrefix+sessionID, time.Now().UTC().Format(time.RFC3339Nano), c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close releases the client.
func (c *RedisClaimer) Close() error {
	return c.client.Close()
}
