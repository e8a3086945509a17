package bolt

import (
	"bytes"
	"context"
	"sort"

	"go.etcd.io/bbolt"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// CryptoKeyStore implements domain.CryptoKeyStore in the crypto keys
// bucket, keyed by bucket name and handle.
type CryptoKeyStore struct {
	db *bbolt.DB
}

func cryptoKeyID(bucket, handle string) []byte {
	return []byte(bucket + "\n" + handle)
}

// GetKey implements domain.CryptoKeyStore.
func (r *CryptoKeyStore) GetKey(_ context.Context, bucket, handle string) (*domain.CryptoKey, error) {
	var key domain.CryptoKey
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketCryptoKeys).Get(cryptoKeyID(bucket, handle))
		if data == nil {
			return errors.ErrKeyNotFound
		}
		return decode(data, &key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetKeys implements domain.CryptoKeyStore, newest expiration first.
func (r *CryptoKeyStore) GetKeys(_ context.Context, bucket string) ([]*domain.CryptoKey, error) {
	prefix := []byte(bucket + "\n")
	var keys []*domain.CryptoKey
	err := r.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketCryptoKeys).Cursor()
		for id, data := c.Seek(prefix); id != nil && bytes.HasPrefix(id, prefix); id, data = c.Next() {
			var key domain.CryptoKey
			if err := decode(data, &key); err != nil {
				return err
			}
			keys = append(keys, &key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].ExpiresAt.After(keys[j].ExpiresAt)
	})
	return keys, nil
}

// StoreKey implements domain.CryptoKeyStore.
func (r *CryptoKeyStore) StoreKey(_ context.Context, key *domain.CryptoKey) error {
	data, err := encode(key)
	if err != nil {
		return err
	}
	id := cryptoKeyID(key.Bucket, key.Handle)
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCryptoKeys)
		if b.Get(id) != nil {
			return errors.NewValidation("key", "key %q already exists in bucket %q", key.Handle, key.Bucket)
		}
		return b.Put(id, data)
	})
}

// RemoveKey implements domain.CryptoKeyStore.
func (r *CryptoKeyStore) RemoveKey(_ context.Context, bucket, handle string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketCryptoKeys).Delete(cryptoKeyID(bucket, handle))
	})
}
