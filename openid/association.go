// Package openid implements the association layer of OpenID 2.0: shared
// secrets negotiated between a relying party and a provider, used to sign
// indirect assertions, plus the discovery seam. Discovery heuristics
// themselves are a pluggable external service.
package openid

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-mandated algorithm
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"time"

	"github.com/google/uuid"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// Association types as transmitted in assoc_type.
const (
	AssocHMACSHA1   = "HMAC-SHA1"
	AssocHMACSHA256 = "HMAC-SHA256"
)

// Session types as transmitted in session_type.
const (
	SessionDHSHA1       = "DH-SHA1"
	SessionDHSHA256     = "DH-SHA256"
	SessionNoEncryption = "no-encryption"
)

// Association is a shared MAC key under a mutually known handle.
type Association struct {
	Handle   string
	Type     string // AssocHMACSHA1 or AssocHMACSHA256
	Secret   []byte
	Issued   time.Time
	Lifetime time.Duration
}

// NewAssociation mints an association with a fresh random secret sized for
// the MAC algorithm.
func NewAssociation(assocType string, lifetime time.Duration) (*Association, error) {
	size, err := secretSize(assocType)
	if err != nil {
		return nil, err
	}
	secret := make([]byte, size)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.WrapHost(err, "generating association secret")
	}
	return &Association{
		Handle:   uuid.NewString(),
		Type:     assocType,
		Secret:   secret,
		Issued:   time.Now().UTC(),
		Lifetime: lifetime,
	}, nil
}

func secretSize(assocType string) (int, error) {
	switch assocType {
	case AssocHMACSHA1:
		return sha1.Size, nil
	case AssocHMACSHA256:
		return sha256.Size, nil
	default:
		return 0, errors.NewValidation("assoc_type", "unknown association type %q", assocType)
	}
}

func (a *Association) newHash() func() hash.Hash {
	if a.Type == AssocHMACSHA256 {
		return sha256.New
	}
	return sha1.New
}

// Expires returns the instant the association stops being usable for new
// signatures.
func (a *Association) Expires() time.Time { return a.Issued.Add(a.Lifetime) }

// Usable reports whether the association may still sign at the given instant.
func (a *Association) Usable(now time.Time) bool { return now.Before(a.Expires()) }

// Sign computes the base64 MAC over data, which must be the exact byte
// sequence of the signed key-value lines in the order the signed parameter
// names them.
func (a *Association) Sign(data []byte) string {
	mac := hmac.New(a.newHash(), a.Secret)
	mac.Write(data)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a transmitted signature in constant time.
func (a *Association) Verify(data []byte, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return errors.NewSignature()
	}
	mac := hmac.New(a.newHash(), a.Secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return errors.NewSignature()
	}
	return nil
}

// Store keeps associations in the crypto key store: the bucket is the
// provider endpoint (or a relying-party scope), the handle is the
// association handle. The association type rides in front of the secret so
// one bucket can mix algorithms.
type Store struct {
	Keys domain.CryptoKeyStore
}

func encodeAssociation(a *Association) []byte {
	// one length byte for the type, then the type, then the secret
	buf := make([]byte, 0, 1+len(a.Type)+len(a.Secret))
	buf = append(buf, byte(len(a.Type)))
	buf = append(buf, a.Type...)
	return append(buf, a.Secret...)
}

func decodeAssociation(k *domain.CryptoKey) (*Association, error) {
	if len(k.Key) < 2 || int(k.Key[0])+1 > len(k.Key) {
		return nil, errors.NewHost("stored association %q is corrupt", k.Handle)
	}
	typeLen := int(k.Key[0])
	a := &Association{
		Handle: k.Handle,
		Type:   string(k.Key[1 : 1+typeLen]),
		Secret: k.Key[1+typeLen:],
	}
	size, err := secretSize(a.Type)
	if err != nil || size != len(a.Secret) {
		return nil, errors.NewHost("stored association %q is corrupt", k.Handle)
	}
	// Only the expiration survives storage; Issued+0 keeps Expires accurate.
	a.Issued = k.ExpiresAt
	a.Lifetime = 0
	return a, nil
}

// Save persists an association for a provider endpoint.
func (s *Store) Save(ctx context.Context, providerEndpoint string, a *Association) error {
	return s.Keys.StoreKey(ctx, &domain.CryptoKey{
		Bucket:    providerEndpoint,
		Handle:    a.Handle,
		Key:       encodeAssociation(a),
		ExpiresAt: a.Expires(),
	})
}

// Get retrieves an association by handle. Expired associations are still
// returned: a provider must be able to check signatures made before expiry,
// and the caller decides usability.
func (s *Store) Get(ctx context.Context, providerEndpoint, handle string) (*Association, error) {
	key, err := s.Keys.GetKey(ctx, providerEndpoint, handle)
	if err != nil {
		return nil, err
	}
	return decodeAssociation(key)
}

// Best returns the freshest unexpired association for an endpoint, or
// errors.ErrKeyNotFound when none is usable.
func (s *Store) Best(ctx context.Context, providerEndpoint string) (*Association, error) {
	keys, err := s.Keys.GetKeys(ctx, providerEndpoint)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, k := range keys {
		if k.ExpiredAt(now) {
			continue
		}
		a, err := decodeAssociation(k)
		if err != nil {
			continue
		}
		return a, nil
	}
	return nil, errors.ErrKeyNotFound
}
