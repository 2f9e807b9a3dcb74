package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis keys holding the JSON-encoded collections.
const (
	redisDailyKey   = "dailyfortune:daily"
	redisHistoryKey = "dailyfortune:history"
)

// RedisMedium stores each collection as one JSON string value.
type RedisMedium struct {
	client *redis.Client
}

// OpenRedis connects to redisURL, which may be a redis:// URL or host:port.
func OpenRedis(ctx context.Context, redisURL string) (*RedisMedium, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisMedium{client: client}, nil
}

// NewRedisMedium wraps an existing client.
func NewRedisMedium(client *redis.Client) *RedisMedium {
	return &RedisMedium{client: client}
}

func (r *RedisMedium) Close() error { return r.client.Close() }

func (r *RedisMedium) LoadDaily(ctx context.Context) (DailyCache, error) {
	c := DailyCache{}
	if err := r.load(ctx, redisDailyKey, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *RedisMedium) SaveDaily(ctx context.Context, c DailyCache) error {
	return r.save(ctx, redisDailyKey, c)
}

func (r *RedisMedium) LoadHistory(ctx context.Context) (History, error) {
	h := History{}
	if err := r.load(ctx, redisHistoryKey, &h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *RedisMedium) SaveHistory(ctx context.Context, h History) error {
	return r.save(ctx, redisHistoryKey, h)
}

func (r *RedisMedium) load(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	return nil
}

func (r *RedisMedium) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}
