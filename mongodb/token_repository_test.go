package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// setupTokenRepo connects to the MongoDB named by TEST_MONGO_URI and hands
// back a repository over a throwaway database. The test skips when no server
// is reachable.
func setupTokenRepo(t *testing.T) *TokenRepository {
	t.Helper()

	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("Skipping MongoDB integration test: TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetConnectTimeout(10 * time.Second))
	require.NoError(t, err)

	dbName := fmt.Sprintf("test_openauth_tokens_%d", time.Now().UnixNano())
	db := client.Database(dbName)
	require.NoError(t, EnsureIndexes(ctx, db, time.Hour))

	t.Cleanup(func() {
		cleanupCtx := context.Background()
		if err := db.Drop(cleanupCtx); err != nil {
			t.Logf("dropping test database %s: %v", dbName, err)
		}
		if err := client.Disconnect(cleanupCtx); err != nil {
			t.Logf("disconnecting test client: %v", err)
		}
	})

	return NewTokenRepository(db)
}

func mongoRequestToken(value string) *domain.Token {
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

func TestTokenRepositoryIntegration(t *testing.T) {
	ctx := context.Background()

	t.Run("full promotion flow", func(t *testing.T) {
		r := setupTokenRepo(t)
		require.NoError(t, r.StoreToken(ctx, mongoRequestToken("t1")))
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

	t.Run("values stay unique across promotion", func(t *testing.T) {
		r := setupTokenRepo(t)
		require.NoError(t, r.StoreToken(ctx, mongoRequestToken("t1")))
		require.NoError(t, r.AuthorizeToken(ctx, "t1", "jane", "v1"))
		require.NoError(t, r.PromoteToken(ctx, "t1",
			&domain.Token{Token: "a1", Secret: "as1", CreatedAt: time.Now().UTC()}))

		// The spent request-token value stays burned even though its
		// document is gone.
		err := r.StoreToken(ctx, mongoRequestToken("t1"))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.FaultHost))

		// The live access value cannot be reissued either.
		err = r.StoreToken(ctx, mongoRequestToken("a1"))
		require.Error(t, err)

		// A failed promotion must not burn the fresh value.
		require.NoError(t, r.StoreToken(ctx, mongoRequestToken("t2")))
		err = r.PromoteToken(ctx, "t2",
			&domain.Token{Token: "a2", Secret: "as2", CreatedAt: time.Now().UTC()})
		assert.ErrorIs(t, err, errors.ErrInvalidTokenState)
		require.NoError(t, r.AuthorizeToken(ctx, "t2", "jane", "v2"))
		require.NoError(t, r.PromoteToken(ctx, "t2",
			&domain.Token{Token: "a2", Secret: "as2", CreatedAt: time.Now().UTC()}))
	})

	t.Run("guarded transitions enforce state", func(t *testing.T) {
		r := setupTokenRepo(t)
		require.NoError(t, r.StoreToken(ctx, mongoRequestToken("t1")))

		err := r.PromoteToken(ctx, "t1", &domain.Token{Token: "a1", CreatedAt: time.Now().UTC()})
		assert.ErrorIs(t, err, errors.ErrInvalidTokenState)

		require.NoError(t, r.AuthorizeToken(ctx, "t1", "jane", "v1"))
		err = r.AuthorizeToken(ctx, "t1", "jane", "v1")
		assert.ErrorIs(t, err, errors.ErrInvalidTokenState)

		err = r.AuthorizeToken(ctx, "missing", "jane", "v1")
		assert.ErrorIs(t, err, errors.ErrTokenNotFound)
	})
}
