package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/openauth/errors"
)

// NonceStore implements domain.NonceStore on a Mongo collection. The unique
// index on (context, nonce, timestamp) makes the insert the at-most-once
// check; the TTL index on timestamp reclaims entries past the replay window.
type NonceStore struct {
	coll *mongo.Collection
}

// NewNonceStore creates the store over the nonces collection.
func NewNonceStore(db *mongo.Database) *NonceStore {
	return &NonceStore{coll: db.Collection(NoncesCollection)}
}

type nonceDoc struct {
	Context   string    `bson:"context"`
	Nonce     string    `bson:"nonce"`
	Timestamp time.Time `bson:"timestamp"`
}

// Store implements domain.NonceStore.
func (r *NonceStore) Store(ctx context.Context, nonceContext, nonce string, timestamp time.Time) error {
	_, err := r.coll.InsertOne(ctx, nonceDoc{
		Context:   nonceContext,
		Nonce:     nonce,
		Timestamp: timestamp.UTC(),
	})
	if mongo.IsDuplicateKeyError(err) {
		return errors.ErrNonceUsed
	}
	if err != nil {
		return errors.WrapHost(err, "storing nonce")
	}
	return nil
}

// PurgeExpired implements domain.NonceStore. The TTL index already evicts;
// an explicit purge is kept for operators running without TTL monitors.
func (r *NonceStore) PurgeExpired(ctx context.Context, olderThan time.Time) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": olderThan.UTC()}})
	return err
}
