package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/matst80/botwarden/internal/status"
)

// RedisSource pops JSON requests from a Redis list and publishes the daemon
// status next to it.
type RedisSource struct {
	client    *redis.Client
	key       string
	wait      time.Duration
	statusTTL time.Duration
}

var _ Source = (*RedisSource)(nil)

func NewRedisSource(addr, password string, db int, key string) (*RedisSource, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisSource{client: rdb, key: key, wait: 5 * time.Second, statusTTL: 2 * time.Minute}, nil
}

func (s *RedisSource) Pop(ctx context.Context) (Request, error) {
	res, err := s.client.BLPop(ctx, s.wait, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return Request{}, ErrEmpty
	}
	if err != nil {
		return Request{}, fmt.Errorf("redis blpop %s: %w", s.key, err)
	}
	if len(res) != 2 {
		return Request{}, fmt.Errorf("redis blpop %s: unexpected reply of %d items", s.key, len(res))
	}
	var req Request
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return Request{}, fmt.Errorf("decode push request: %w", err)
	}
	return req, nil
}

// StatusKey is where PublishStatus stores the report.
func (s *RedisSource) StatusKey() string { return s.key + ":status" }

// PublishStatus stores r as JSON with a TTL so a stale daemon disappears.
func (s *RedisSource) PublishStatus(ctx context.Context, r status.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := s.client.Set(ctx, s.StatusKey(), data, s.statusTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisSource) Close() error { return s.client.Close() }
