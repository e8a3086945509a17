// Package redis implements the nonce store on a shared Redis instance, for
// deployments where more than one process serves the same endpoints.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/openauth/errors"
)

// NonceStore records consumed nonces with SET NX so the first writer wins
// across processes. Redis expiry replaces explicit purging.
type NonceStore struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewNonceStore creates a Redis-backed nonce store. The window must cover
// the maximum accepted message age plus clock skew.
func NewNonceStore(client *redis.Client, prefix string, window time.Duration) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: prefix,
		window: window,
	}
}

func (r *NonceStore) redisKey(nonceContext, nonce string, timestamp time.Time) string {
	return fmt.Sprintf("%s:nonce:%s:%s:%s",
		r.prefix, nonceContext, nonce, strconv.FormatInt(timestamp.Unix(), 10))
}

// Store implements domain.NonceStore.
func (r *NonceStore) Store(ctx context.Context, nonceContext, nonce string, timestamp time.Time) error {
	key := r.redisKey(nonceContext, nonce, timestamp)

	ok, err := r.client.SetNX(ctx, key, 1, r.window).Result()
	if err != nil {
		return errors.WrapHost(err, "storing nonce in Redis")
	}
	if !ok {
		return errors.ErrNonceUsed
	}

	return nil
}

// PurgeExpired implements domain.NonceStore. Redis evicts entries by TTL,
// so there is nothing to do.
func (r *NonceStore) PurgeExpired(_ context.Context, _ time.Time) error {
	return nil
}
