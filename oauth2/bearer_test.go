package oauth2

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// mapKeyStore is a minimal in-test crypto key store.
type mapKeyStore struct {
	keys map[string]*domain.CryptoKey
}

func newMapKeyStore() *mapKeyStore { return &mapKeyStore{keys: map[string]*domain.CryptoKey{}} }

func (s *mapKeyStore) GetKey(_ context.Context, bucket, handle string) (*domain.CryptoKey, error) {
	k, ok := s.keys[bucket+"\n"+handle]
	if !ok {
		return nil, errors.ErrKeyNotFound
	}
	return k, nil
}

func (s *mapKeyStore) GetKeys(_ context.Context, bucket string) ([]*domain.CryptoKey, error) {
	var out []*domain.CryptoKey
	for _, k := range s.keys {
		if k.Bucket == bucket {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.After(out[j].ExpiresAt) })
	return out, nil
}

func (s *mapKeyStore) StoreKey(_ context.Context, key *domain.CryptoKey) error {
	s.keys[key.Bucket+"\n"+key.Handle] = key
	return nil
}

func (s *mapKeyStore) RemoveKey(_ context.Context, bucket, handle string) error {
	delete(s.keys, bucket+"\n"+handle)
	return nil
}

func testSerializer(t *testing.T) (*BearerSerializer, *mapKeyStore, *time.Time) {
	t.Helper()
	store := newMapKeyStore()
	// The jwt library checks exp/nbf against the real clock, so the test clock
	// starts at real time and only moves forward.
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.StoreKey(context.Background(), &domain.CryptoKey{
		Bucket:    BearerKeyBucket,
		Handle:    "k1",
		Key:       []byte("0123456789abcdef0123456789abcdef"),
		ExpiresAt: now.Add(24 * time.Hour),
	}))
	s := NewBearerSerializer("https://provider.example.net/", store)
	s.now = func() time.Time { return now }
	return s, store, &now
}

func accessToken(expires *time.Time) *domain.Token {
	return &domain.Token{
		ID:        "tok-1",
		Kind:      domain.TokenKindAccess,
		State:     domain.TokenStateAccessGranted,
		Token:     "opaque",
		ClientID:  "dpf43f3p2l4k3l03",
		UserID:    "jane",
		Scope:     "photos:read",
		ExpiresAt: expires,
	}
}

func TestBearerSerializer(t *testing.T) {
	t.Run("issue then verify roundtrips the claims", func(t *testing.T) {
		s, _, now := testSerializer(t)
		expires := now.Add(time.Hour)
		raw, err := s.Issue(context.Background(), accessToken(&expires))
		require.NoError(t, err)

		claims, err := s.Verify(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", claims.TokenID)
		assert.Equal(t, "dpf43f3p2l4k3l03", claims.ClientID)
		assert.Equal(t, "jane", claims.UserID)
		assert.Equal(t, "photos:read", claims.Scope)
		assert.True(t, expires.Equal(claims.Expiry), "expiry %s != %s", expires, claims.Expiry)
	})

	t.Run("an expired token fails even under a live key", func(t *testing.T) {
		s, _, now := testSerializer(t)
		expires := now.Add(time.Hour)
		raw, err := s.Issue(context.Background(), accessToken(&expires))
		require.NoError(t, err)

		*now = now.Add(2 * time.Hour)
		_, err = s.Verify(context.Background(), raw)
		require.Error(t, err)
	})

	t.Run("an expired signing key still verifies", func(t *testing.T) {
		s, _, now := testSerializer(t)
		raw, err := s.Issue(context.Background(), accessToken(nil))
		require.NoError(t, err)

		*now = now.Add(48 * time.Hour)
		claims, err := s.Verify(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", claims.TokenID)
	})

	t.Run("a tampered token is rejected", func(t *testing.T) {
		s, _, _ := testSerializer(t)
		raw, err := s.Issue(context.Background(), accessToken(nil))
		require.NoError(t, err)
		_, err = s.Verify(context.Background(), raw[:len(raw)-2]+"xx")
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.FaultSignature))
	})

	t.Run("a foreign issuer is rejected", func(t *testing.T) {
		s, store, _ := testSerializer(t)
		raw, err := s.Issue(context.Background(), accessToken(nil))
		require.NoError(t, err)

		other := NewBearerSerializer("https://other.example.net/", store)
		_, err = other.Verify(context.Background(), raw)
		require.Error(t, err)
	})

	t.Run("issuing without a live key is a host fault", func(t *testing.T) {
		s, store, _ := testSerializer(t)
		require.NoError(t, store.RemoveKey(context.Background(), BearerKeyBucket, "k1"))
		_, err := s.Issue(context.Background(), accessToken(nil))
		require.Error(t, err)
	})
}
