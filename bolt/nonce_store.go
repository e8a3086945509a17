package bolt

import (
	"context"
	"encoding/binary"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"go.pilab.hu/openauth/errors"
)

// NonceStore implements domain.NonceStore in the nonces bucket. The
// serialized write transaction makes the check-and-insert atomic.
type NonceStore struct {
	db *bbolt.DB
}

func nonceKey(nonceContext, nonce string, timestamp time.Time) []byte {
	var b strings.Builder
	b.WriteString(nonceContext)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp.Unix(), 10))
	return []byte(b.String())
}

// Store implements domain.NonceStore.
func (r *NonceStore) Store(_ context.Context, nonceContext, nonce string, timestamp time.Time) error {
	key := nonceKey(nonceContext, nonce, timestamp)
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(timestamp.Unix()))

	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNonces)
		if b.Get(key) != nil {
			return errors.ErrNonceUsed
		}
		return b.Put(key, value)
	})
}

// PurgeExpired implements domain.NonceStore, removing entries whose
// timestamp fell out of the replay window.
func (r *NonceStore) PurgeExpired(_ context.Context, olderThan time.Time) error {
	cutoff := olderThan.Unix()
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNonces)
		var stale [][]byte
		err := b.ForEach(func(key, value []byte) error {
			if len(value) == 8 && int64(binary.BigEndian.Uint64(value)) < cutoff {
				stale = append(stale, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
