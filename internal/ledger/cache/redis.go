package cache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ledger:balance:"

// Redis keeps balances in Redis so several API replicas share one read cache.
// Redis failures are treated as cache misses; the store stays authoritative.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis creates a Redis-backed balance cache
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *Redis) key(accountID string) string {
	return keyPrefix + accountID
}

// Get returns the cached balance while its key has not expired
func (r *Redis) Get(ctx context.Context, accountID string) (int64, bool) {
	val, err := r.client.Get(ctx, r.key(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		r.logger.Warn("Failed to read balance cache",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return 0, false
	}

	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		r.logger.Warn("Corrupt balance cache entry",
			slog.String("account_id", accountID),
			slog.String("value", val),
		)
		return 0, false
	}
	return balance, true
}

// Set writes the balance with the cache TTL
func (r *Redis) Set(ctx context.Context, accountID string, balance int64) {
	if err := r.client.Set(ctx, r.key(accountID), balance, r.ttl).Err(); err != nil {
		r.logger.Warn("Failed to write balance cache",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}
}

// Invalidate deletes the cached balance
func (r *Redis) Invalidate(ctx context.Context, accountID string) {
	if err := r.client.Del(ctx, r.key(accountID)).Err(); err != nil {
		r.logger.Warn("Failed to invalidate balance cache",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}
}
