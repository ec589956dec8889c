// Package ratelimitstore backs the router's per-client-IP rate limit,
// applied to every route, with a shared Redis counter, so the limit holds
// across every router replica rather than per-process. When ROUTER_REDIS_ADDR is unset, or Redis is
// unreachable at startup, callers fall back to the in-process limiter in
// internal/platform/middleware.
package ratelimitstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/llmfleet/router/internal/platform/logging"
)

// Store is a fixed-window distributed counter over Redis INCR/EXPIRE.
type Store struct {
	client *redis.Client
	log    *logging.Logger
}

// Dial connects to addr and pings it. Returns ok=false (no error) if addr
// is blank, matching the "falls back to in-process" contract; a non-nil
// error means addr was set but unreachable.
func Dial(ctx context.Context, addr string, logger *logging.Logger) (*Store, bool, error) {
	if addr == "" {
		return nil, false, nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, false, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &Store{client: client, log: logger}, true, nil
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Allow increments the counter for key within a fixed window of length
// window, resetting it on first touch. Returns false once count exceeds
// limit for the remainder of the window.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}
