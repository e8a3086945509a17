//go:generate go run go.uber.org/mock/mockgen@latest -source=$GOFILE -destination=mocks/mock_$GOFILE -package=mock_domain CryptoKeyStore
package domain

import (
	"context"
	"time"
)

// CryptoKey is a symmetric secret stored under a case-sensitive
// (bucket, handle) pair: OpenID association secrets and OAuth 2.0 symmetric
// signing keys. Expired keys must not be handed out for new operations, but
// remain listable so signatures made before expiry can still be verified.
type CryptoKey struct {
	Bucket    string    `bson:"bucket"     json:"bucket"`
	Handle    string    `bson:"handle"     json:"handle"`
	Key       []byte    `bson:"key"        json:"key"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}

// ExpiredAt reports whether the key is past its expiration at the given instant.
func (k *CryptoKey) ExpiredAt(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// CryptoKeyStore stores symmetric keys keyed by (bucket, handle).
type CryptoKeyStore interface {
	// GetKey retrieves one key. Returns errors.ErrKeyNotFound when absent.
	GetKey(ctx context.Context, bucket, handle string) (*CryptoKey, error)

	// GetKeys lists every key in a bucket ordered by expiration, newest
	// first, including expired keys still within the retention window.
	GetKeys(ctx context.Context, bucket string) ([]*CryptoKey, error)

	// StoreKey persists a key. Storing an existing (bucket, handle) is an error.
	StoreKey(ctx context.Context, key *CryptoKey) error

	// RemoveKey deletes a key.
	RemoveKey(ctx context.Context, bucket, handle string) error
}
