package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/openauth/domain"
)

// AuthorizationRepository implements domain.AuthorizationRepository on a
// Mongo collection.
type AuthorizationRepository struct {
	coll *mongo.Collection
}

// NewAuthorizationRepository creates the repository over the authorizations
// collection.
func NewAuthorizationRepository(db *mongo.Database) *AuthorizationRepository {
	return &AuthorizationRepository{coll: db.Collection(AuthorizationsCollection)}
}

// SaveAuthorization implements domain.AuthorizationRepository.
func (r *AuthorizationRepository) SaveAuthorization(ctx context.Context, auth *domain.Authorization) error {
	_, err := r.coll.InsertOne(ctx, auth)
	return err
}

// ListAuthorizations implements domain.AuthorizationRepository, newest first.
func (r *AuthorizationRepository) ListAuthorizations(ctx context.Context, clientID, userID string) ([]*domain.Authorization, error) {
	cursor, err := r.coll.Find(ctx,
		bson.M{"client_id": clientID, "user_id": userID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var grants []*domain.Authorization
	if err := cursor.All(ctx, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// RevokeAuthorizations implements domain.AuthorizationRepository.
func (r *AuthorizationRepository) RevokeAuthorizations(ctx context.Context, clientID, userID string, at time.Time) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"client_id": clientID, "user_id": userID, "revoked_at": nil},
		bson.M{"$set": bson.M{"revoked_at": at.UTC()}},
	)
	return err
}
