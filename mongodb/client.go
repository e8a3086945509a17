// Package mongodb implements the domain repositories and stores on MongoDB.
// Guarded token transitions use conditional updates so concurrent callers
// observe exactly one success, and the nonce store leans on a unique index
// for its at-most-once insert.
package mongodb

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

const (
	// ClientsCollection holds consumer/client registrations.
	ClientsCollection = "oauth_clients"
	// TokensCollection holds request, access and refresh tokens.
	TokensCollection = "oauth_tokens"
	// NoncesCollection holds consumed replay nonces.
	NoncesCollection = "oauth_nonces"
	// CryptoKeysCollection holds symmetric keys and association secrets.
	CryptoKeysCollection = "oauth_crypto_keys"
	// AuthorizationsCollection holds user-approval grant records.
	AuthorizationsCollection = "oauth_authorizations"
	// IssuedValuesCollection records every token value ever issued, spent
	// request tokens included, so values stay unique across promotions.
	IssuedValuesCollection = "oauth_issued_values"
)

const connectTimeout = 10 * time.Second

// Connect opens an instrumented MongoDB client, pings the primary and
// returns the named database. The caller owns the client and must
// Disconnect it on shutdown.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	log.Info().Str("db", dbName).Msg("Connecting to MongoDB")

	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(connectTimeout)
	clientOptions.SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	return client, client.Database(dbName), nil
}

// EnsureIndexes creates the indexes the repositories depend on. Safe to call
// on every startup.
func EnsureIndexes(ctx context.Context, db *mongo.Database, nonceWindow time.Duration) error {
	_, err := db.Collection(TokensCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "user_id", Value: 1}},
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(NoncesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "context", Value: 1}, {Key: "nonce", Value: 1}, {Key: "timestamp", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Entries outside the replay window can never collide again.
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(nonceWindow / time.Second)),
		},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(CryptoKeysCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "bucket", Value: 1}, {Key: "handle", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(AuthorizationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "user_id", Value: 1}},
	})
	if err != nil {
		return err
	}

	_, err = db.Collection(IssuedValuesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "value", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
