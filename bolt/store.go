// Package bolt implements the domain repositories and stores on a single
// bbolt file, for providers that want durability without an external
// database. Every guarded transition runs inside one Update transaction,
// which bbolt serializes, so the atomicity contract holds for free.
package bolt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketTokens         = []byte("tokens")
	bucketIssuedValues   = []byte("issued_values") // every token value ever, for uniqueness
	bucketClients        = []byte("clients")
	bucketNonces         = []byte("nonces")
	bucketCryptoKeys     = []byte("crypto_keys")
	bucketAuthorizations = []byte("authorizations")
)

const openTimeout = 5 * time.Second

// Store owns the bbolt handle shared by the repositories.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database file and the buckets the
// repositories need.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketTokens, bucketIssuedValues, bucketClients,
			bucketNonces, bucketCryptoKeys, bucketAuthorizations,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// Tokens returns the token repository view of the store.
func (s *Store) Tokens() *TokenRepository { return &TokenRepository{db: s.db} }

// Clients returns the client repository view of the store.
func (s *Store) Clients() *ClientRepository { return &ClientRepository{db: s.db} }

// Nonces returns the nonce store view of the store.
func (s *Store) Nonces() *NonceStore { return &NonceStore{db: s.db} }

// CryptoKeys returns the crypto key store view of the store.
func (s *Store) CryptoKeys() *CryptoKeyStore { return &CryptoKeyStore{db: s.db} }

// Authorizations returns the grant repository view of the store.
func (s *Store) Authorizations() *AuthorizationRepository {
	return &AuthorizationRepository{db: s.db}
}

func encode(v any) ([]byte, error) { return json.Marshal(v) }

func decode(data []byte, v any) error { return json.Unmarshal(data, v) }
