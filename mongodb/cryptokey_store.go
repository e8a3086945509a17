package mongodb

import (
	"context"
	goerrors "errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// CryptoKeyStore implements domain.CryptoKeyStore on a Mongo collection.
// Expired keys are not evicted here: they stay listable so signatures made
// before expiry remain verifiable, and operators prune them out of band.
type CryptoKeyStore struct {
	coll *mongo.Collection
}

// NewCryptoKeyStore creates the store over the crypto keys collection.
func NewCryptoKeyStore(db *mongo.Database) *CryptoKeyStore {
	return &CryptoKeyStore{coll: db.Collection(CryptoKeysCollection)}
}

// GetKey implements domain.CryptoKeyStore.
func (r *CryptoKeyStore) GetKey(ctx context.Context, bucket, handle string) (*domain.CryptoKey, error) {
	var key domain.CryptoKey
	err := r.coll.FindOne(ctx, bson.M{"bucket": bucket, "handle": handle}).Decode(&key)
	if goerrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetKeys implements domain.CryptoKeyStore, newest expiration first.
func (r *CryptoKeyStore) GetKeys(ctx context.Context, bucket string) ([]*domain.CryptoKey, error) {
	cursor, err := r.coll.Find(ctx, bson.M{"bucket": bucket},
		options.Find().SetSort(bson.D{{Key: "expires_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var keys []*domain.CryptoKey
	if err := cursor.All(ctx, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// StoreKey implements domain.CryptoKeyStore.
func (r *CryptoKeyStore) StoreKey(ctx context.Context, key *domain.CryptoKey) error {
	_, err := r.coll.InsertOne(ctx, key)
	if mongo.IsDuplicateKeyError(err) {
		return errors.NewValidation("key", "key %q already exists in bucket %q", key.Handle, key.Bucket)
	}
	return err
}

// RemoveKey implements domain.CryptoKeyStore.
func (r *CryptoKeyStore) RemoveKey(ctx context.Context, bucket, handle string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"bucket": bucket, "handle": handle})
	return err
}
