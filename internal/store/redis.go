package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis backs the cache-sync queue. Timeouts are short on purpose: queue
// publishes sit on the session CRUD path and must fail fast rather than hold
// a request open. Blocking consumes set their own per-command deadline.
type Redis struct {
	Client *redis.Client
}

// NewRedis creates a client for the given address.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies connectivity. The api's /healthz flips unavailable when
// this fails, since the queue backend is down.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
