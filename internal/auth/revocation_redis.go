package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "sesame:revoked:"

// RedisRegistry is a RevocationRegistry shared by every instance pointed at the same
// Redis. Each entry stores the token expiry and carries a matching TTL, so Redis
// evicts it shortly after the token could no longer be used anyway.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ RevocationRegistry = (*RedisRegistry)(nil)

// NewRedisRegistry constructs a registry storing keys under prefix.
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix, now: time.Now}
}

// WithClock overrides time source (useful for tests).
func (r *RedisRegistry) WithClock(fn func() time.Time) *RedisRegistry {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Revoke stores key until expiresAt. SET is idempotent for a given token.
func (r *RedisRegistry) Revoke(ctx context.Context, key string, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("%w: revocation key is required", ErrInvalidInput)
	}
	now := r.now()
	if expired(now, expiresAt) {
		return nil
	}
	remaining := expiresAt.Sub(now)
	// Tokens are valid through their expiry second; keep the key one second longer.
	ttl := remaining + time.Second
	if err := r.client.Set(ctx, r.prefix+key, expiresAt.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis revoke: %v", ErrUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether key is present and its recorded expiry has not passed.
func (r *RedisRegistry) IsRevoked(ctx context.Context, key string) (bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: redis lookup: %v", ErrUnavailable, err)
	}
	exp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Unreadable entries count as revoked.
		return true, nil
	}
	return r.now().Unix() <= exp, nil
}

// Ping checks connectivity for readiness probes.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
