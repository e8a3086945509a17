package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// KeyStore is an in-memory crypto key store. Keys evaporate at their
// expiration; restart loses them, which is acceptable for single-process
// deployments and tests.
type KeyStore struct {
	cache *ttlcache.Cache[string, *domain.CryptoKey]
}

// NewKeyStore creates an in-memory key store.
func NewKeyStore() *KeyStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.CryptoKey](),
	)

	go cache.Start()

	return &KeyStore{cache: cache}
}

func keyID(bucket, handle string) string {
	return bucket + "\n" + handle
}

// StoreKey implements domain.CryptoKeyStore.
func (s *KeyStore) StoreKey(_ context.Context, key *domain.CryptoKey) error {
	ttl := time.Until(key.ExpiresAt)
	if ttl <= 0 {
		return errors.NewValidation("key", "refusing to store already expired key %q", key.Handle)
	}
	_, existed := s.cache.GetOrSet(keyID(key.Bucket, key.Handle), key,
		ttlcache.WithTTL[string, *domain.CryptoKey](ttl))
	if existed {
		return errors.NewValidation("key", "key %q already exists in bucket %q", key.Handle, key.Bucket)
	}
	return nil
}

// GetKey implements domain.CryptoKeyStore.
func (s *KeyStore) GetKey(_ context.Context, bucket, handle string) (*domain.CryptoKey, error) {
	item := s.cache.Get(keyID(bucket, handle))
	if item == nil {
		return nil, errors.ErrKeyNotFound
	}
	return item.Value(), nil
}

// GetKeys implements domain.CryptoKeyStore, returning the bucket's keys
// ordered by expiration, farthest first.
func (s *KeyStore) GetKeys(_ context.Context, bucket string) ([]*domain.CryptoKey, error) {
	prefix := bucket + "\n"
	var keys []*domain.CryptoKey
	for id, item := range s.cache.Items() {
		if strings.HasPrefix(id, prefix) {
			keys = append(keys, item.Value())
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ExpiresAt.After(keys[j].ExpiresAt)
	})
	return keys, nil
}

// RemoveKey implements domain.CryptoKeyStore.
func (s *KeyStore) RemoveKey(_ context.Context, bucket, handle string) error {
	s.cache.Delete(keyID(bucket, handle))
	return nil
}

// Close stops the cleanup goroutine.
func (s *KeyStore) Close() error {
	s.cache.Stop()
	return nil
}
