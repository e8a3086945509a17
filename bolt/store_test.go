package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "openauth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func requestToken(value string) *domain.Token {
	return &domain.Token{
		ID:        "id-" + value,
		Kind:      domain.TokenKindRequest,
		State:     domain.TokenStateUnauthorized,
		Token:     value,
		Secret:    "secret-" + value,
		ClientID:  "client-1",
		Callback:  domain.OutOfBandCallback,
		CreatedAt: time.Now().UTC(),
	}
}

func TestTokenRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("full promotion flow", func(t *testing.T) {
		r := openStore(t).Tokens()
		require.NoError(t, r.StoreToken(ctx, requestToken("t1")))
		require.NoError(t, r.AuthorizeToken(ctx, "t1", "jane", "v1"))

		access := &domain.Token{Token: "a1", Secret: "as1", CreatedAt: time.Now().UTC()}
		require.NoError(t, r.PromoteToken(ctx, "t1", access))

		_, err := r.GetToken(ctx, "t1")
		assert.ErrorIs(t, err, errors.ErrTokenNotFound)

		got, err := r.GetToken(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, domain.TokenKindAccess, got.Kind)
		assert.Equal(t, domain.TokenStateAccessGranted, got.State)
		assert.Equal(t, "jane", got.UserID)
		assert.Empty(t, got.Verifier)
	})

	t.Run("guarded transitions enforce state", func(t *testing.T) {
		r := openStore(t).Tokens()
		require.NoError(t, r.StoreToken(ctx, requestToken("t1")))

		assert.ErrorIs(t, r.PromoteToken(ctx, "t1", &domain.Token{Token: "a1"}),
			errors.ErrInvalidTokenState)

		require.NoError(t, r.AuthorizeToken(ctx, "t1", "jane", "v1"))
		assert.ErrorIs(t, r.AuthorizeToken(ctx, "t1", "mallory", "v2"),
			errors.ErrInvalidTokenState)
	})

	t.Run("values stay unique across deletion", func(t *testing.T) {
		r := openStore(t).Tokens()
		require.NoError(t, r.StoreToken(ctx, requestToken("t1")))
		require.NoError(t, r.AuthorizeToken(ctx, "t1", "jane", "v1"))
		require.NoError(t, r.PromoteToken(ctx, "t1", &domain.Token{Token: "a1", CreatedAt: time.Now()}))

		assert.Error(t, r.StoreToken(ctx, requestToken("t1")), "the retired request value is burned")
		assert.Error(t, r.StoreToken(ctx, requestToken("a1")))
	})

	t.Run("revoke by pair and purge expired", func(t *testing.T) {
		r := openStore(t).Tokens()
		mine := requestToken("t1")
		mine.UserID = "jane"
		stale := requestToken("t2")
		past := time.Now().Add(-time.Hour)
		stale.ExpiresAt = &past
		require.NoError(t, r.StoreToken(ctx, mine))
		require.NoError(t, r.StoreToken(ctx, stale))

		require.NoError(t, r.RevokeClientUserTokens(ctx, "client-1", "jane"))
		got, err := r.GetToken(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, got.IsRevoked)

		require.NoError(t, r.DeleteExpiredTokens(ctx))
		_, err = r.GetToken(ctx, "t2")
		assert.ErrorIs(t, err, errors.ErrTokenNotFound)
	})
}

func TestNonceStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("a triple is stored at most once", func(t *testing.T) {
		s := openStore(t).Nonces()
		require.NoError(t, s.Store(ctx, "https://p/token", "n1", now))
		assert.ErrorIs(t, s.Store(ctx, "https://p/token", "n1", now), errors.ErrNonceUsed)

		// Any differing component makes a new triple.
		require.NoError(t, s.Store(ctx, "https://p/token", "n2", now))
		require.NoError(t, s.Store(ctx, "https://p/access", "n1", now))
		require.NoError(t, s.Store(ctx, "https://p/token", "n1", now.Add(time.Second)))
	})

	t.Run("purge frees old triples for reuse", func(t *testing.T) {
		s := openStore(t).Nonces()
		require.NoError(t, s.Store(ctx, "ctx", "n1", now))
		require.NoError(t, s.PurgeExpired(ctx, now.Add(time.Hour)))
		require.NoError(t, s.Store(ctx, "ctx", "n1", now))
	})
}

func TestCryptoKeyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("store, list ordered, remove", func(t *testing.T) {
		s := openStore(t).CryptoKeys()
		for i, handle := range []string{"old", "mid", "new"} {
			require.NoError(t, s.StoreKey(ctx, &domain.CryptoKey{
				Bucket:    "assoc",
				Handle:    handle,
				Key:       []byte{byte(i)},
				ExpiresAt: now.Add(time.Duration(i) * time.Hour),
			}))
		}

		keys, err := s.GetKeys(ctx, "assoc")
		require.NoError(t, err)
		require.Len(t, keys, 3)
		assert.Equal(t, "new", keys[0].Handle)
		assert.Equal(t, "old", keys[2].Handle)

		require.NoError(t, s.RemoveKey(ctx, "assoc", "mid"))
		_, err = s.GetKey(ctx, "assoc", "mid")
		assert.ErrorIs(t, err, errors.ErrKeyNotFound)
	})

	t.Run("duplicate handles are rejected", func(t *testing.T) {
		s := openStore(t).CryptoKeys()
		key := &domain.CryptoKey{Bucket: "assoc", Handle: "h1", Key: []byte{1}, ExpiresAt: now}
		require.NoError(t, s.StoreKey(ctx, key))
		assert.Error(t, s.StoreKey(ctx, key))
	})

	t.Run("buckets are isolated", func(t *testing.T) {
		s := openStore(t).CryptoKeys()
		require.NoError(t, s.StoreKey(ctx, &domain.CryptoKey{
			Bucket: "assoc", Handle: "h1", Key: []byte{1}, ExpiresAt: now,
		}))
		require.NoError(t, s.StoreKey(ctx, &domain.CryptoKey{
			Bucket: "assoc-extra", Handle: "h2", Key: []byte{2}, ExpiresAt: now,
		}))

		keys, err := s.GetKeys(ctx, "assoc")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, "h1", keys[0].Handle)
	})
}

func TestAuthorizationRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	grant := func(id string, created time.Time) *domain.Authorization {
		return &domain.Authorization{
			ID:        id,
			ClientID:  "client-1",
			UserID:    "jane",
			Scope:     "photos:read",
			CreatedAt: created,
		}
	}

	t.Run("listing is newest first and pair scoped", func(t *testing.T) {
		r := openStore(t).Authorizations()
		require.NoError(t, r.SaveAuthorization(ctx, grant("g1", now.Add(-time.Hour))))
		require.NoError(t, r.SaveAuthorization(ctx, grant("g2", now)))
		other := grant("g3", now)
		other.UserID = "mallory"
		require.NoError(t, r.SaveAuthorization(ctx, other))

		grants, err := r.ListAuthorizations(ctx, "client-1", "jane")
		require.NoError(t, err)
		require.Len(t, grants, 2)
		assert.Equal(t, "g2", grants[0].ID)
		assert.Equal(t, "g1", grants[1].ID)
	})

	t.Run("revocation stamps only in-effect grants", func(t *testing.T) {
		r := openStore(t).Authorizations()
		earlier := now.Add(-time.Hour)
		old := grant("g1", now.Add(-2*time.Hour))
		old.RevokedAt = &earlier
		require.NoError(t, r.SaveAuthorization(ctx, old))
		require.NoError(t, r.SaveAuthorization(ctx, grant("g2", now.Add(-time.Hour))))

		require.NoError(t, r.RevokeAuthorizations(ctx, "client-1", "jane", now))

		grants, err := r.ListAuthorizations(ctx, "client-1", "jane")
		require.NoError(t, err)
		require.Len(t, grants, 2)
		for _, g := range grants {
			require.NotNil(t, g.RevokedAt)
			switch g.ID {
			case "g1":
				assert.True(t, g.RevokedAt.Equal(earlier), "already-revoked grants keep their stamp")
			case "g2":
				assert.True(t, g.RevokedAt.Equal(now))
			}
		}
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "openauth.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Tokens().StoreToken(ctx, requestToken("t1")))
	require.NoError(t, s.Clients().CreateClient(ctx, &domain.Client{
		ID: "c1", Secret: "s1", Type: domain.ClientTypeConfidential, IsActive: true,
	}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	token, err := s.Tokens().GetToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "secret-t1", token.Secret)

	client, err := s.Clients().GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, client.IsActive)

	assert.Error(t, s.Tokens().StoreToken(ctx, requestToken("t1")), "issued values survive reopen")
}
