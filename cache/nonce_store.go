// Package cache provides in-process implementations of the nonce and crypto
// key stores, built on ttlcache so entries vanish on their own once they
// fall outside the replay window or key lifetime.
package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/openauth/errors"
)

// NonceStore remembers consumed nonces for the replay window. Entries expire
// on their own, so PurgeExpired is close to a no-op.
type NonceStore struct {
	cache  *ttlcache.Cache[string, struct{}]
	window time.Duration
}

// NewNonceStore creates an in-memory nonce store. The window must cover the
// maximum accepted message age plus clock skew; older messages are rejected
// before the nonce check, so entries beyond it can never collide.
func NewNonceStore(window time.Duration) *NonceStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, struct{}](window),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)

	go cache.Start()

	return &NonceStore{
		cache:  cache,
		window: window,
	}
}

func nonceKey(nonceContext, nonce string, timestamp time.Time) string {
	var b strings.Builder
	b.WriteString(nonceContext)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp.Unix(), 10))
	return b.String()
}

// Store implements domain.NonceStore. The insert is atomic: a second call
// with the same context, nonce and timestamp returns errors.ErrNonceUsed.
func (s *NonceStore) Store(_ context.Context, nonceContext, nonce string, timestamp time.Time) error {
	_, existed := s.cache.GetOrSet(nonceKey(nonceContext, nonce, timestamp), struct{}{})
	if existed {
		return errors.ErrNonceUsed
	}
	return nil
}

// PurgeExpired implements domain.NonceStore.
func (s *NonceStore) PurgeExpired(_ context.Context, _ time.Time) error {
	s.cache.DeleteExpired()
	return nil
}

// Count reports the live nonce entries, for tests and diagnostics.
func (s *NonceStore) Count() int { return s.cache.Len() }

// Close stops the cleanup goroutine.
func (s *NonceStore) Close() error {
	s.cache.Stop()
	return nil
}
