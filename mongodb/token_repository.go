package mongodb

import (
	"context"
	goerrors "errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// TokenRepository implements domain.TokenRepository on a Mongo collection.
// Every value ever handed out is reserved in the issued-values collection,
// which outlives the token documents themselves; promotion retires the old
// request-token value without releasing it. State guards ride in the update
// filters.
type TokenRepository struct {
	coll   *mongo.Collection
	issued *mongo.Collection
}

// NewTokenRepository creates the repository over the tokens collection.
func NewTokenRepository(db *mongo.Database) *TokenRepository {
	return &TokenRepository{
		coll:   db.Collection(TokensCollection),
		issued: db.Collection(IssuedValuesCollection),
	}
}

// reserveValue claims a token value for all time. The unique index turns a
// second claim into a duplicate-key error.
func (r *TokenRepository) reserveValue(ctx context.Context, value string) error {
	_, err := r.issued.InsertOne(ctx, bson.M{"value": value})
	if mongo.IsDuplicateKeyError(err) {
		return errors.NewHost("token value already issued")
	}
	return err
}

// StoreToken implements domain.TokenRepository.
func (r *TokenRepository) StoreToken(ctx context.Context, token *domain.Token) error {
	if err := r.reserveValue(ctx, token.Token); err != nil {
		return err
	}
	_, err := r.coll.InsertOne(ctx, token)
	if mongo.IsDuplicateKeyError(err) {
		return errors.NewHost("token value already issued")
	}
	if err != nil {
		// Release the reservation so a retry is not locked out.
		_, _ = r.issued.DeleteOne(ctx, bson.M{"value": token.Token})
		return err
	}
	return nil
}

// GetToken implements domain.TokenRepository.
func (r *TokenRepository) GetToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	var token domain.Token
	err := r.coll.FindOne(ctx, bson.M{"token": tokenValue}).Decode(&token)
	if goerrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// AuthorizeToken implements domain.TokenRepository. The state guard lives in
// the filter, so a second authorization matches nothing.
func (r *TokenRepository) AuthorizeToken(ctx context.Context, tokenValue, userID, verifier string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"token": tokenValue, "state": domain.TokenStateUnauthorized},
		bson.M{"$set": bson.M{
			"state":    domain.TokenStateAuthorized,
			"user_id":  userID,
			"verifier": verifier,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.stateError(ctx, tokenValue)
	}
	return nil
}

// PromoteToken implements domain.TokenRepository. The access value is
// reserved first, then a single conditional update replaces the credential in
// place; racing exchanges see errors.ErrInvalidTokenState. The spent
// request-token value keeps its reservation, so it can never be reissued.
func (r *TokenRepository) PromoteToken(ctx context.Context, requestTokenValue string, access *domain.Token) error {
	if err := r.reserveValue(ctx, access.Token); err != nil {
		return err
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"token": requestTokenValue, "state": domain.TokenStateAuthorized},
		bson.M{
			"$set": bson.M{
				"kind":       domain.TokenKindAccess,
				"state":      domain.TokenStateAccessGranted,
				"token":      access.Token,
				"secret":     access.Secret,
				"created_at": access.CreatedAt,
				"expires_at": access.ExpiresAt,
			},
			"$unset": bson.M{"verifier": ""},
		},
	)
	if err != nil {
		_, _ = r.issued.DeleteOne(ctx, bson.M{"value": access.Token})
		if mongo.IsDuplicateKeyError(err) {
			return errors.NewHost("token value already issued")
		}
		return err
	}
	if res.MatchedCount == 0 {
		_, _ = r.issued.DeleteOne(ctx, bson.M{"value": access.Token})
		return r.stateError(ctx, requestTokenValue)
	}
	return nil
}

// stateError distinguishes a missing token from one in the wrong state after
// a guarded update matched nothing.
func (r *TokenRepository) stateError(ctx context.Context, tokenValue string) error {
	if err := r.coll.FindOne(ctx, bson.M{"token": tokenValue}).Err(); goerrors.Is(err, mongo.ErrNoDocuments) {
		return errors.ErrTokenNotFound
	}
	return errors.ErrInvalidTokenState
}

// RevokeToken implements domain.TokenRepository.
func (r *TokenRepository) RevokeToken(ctx context.Context, tokenValue string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"token": tokenValue},
		bson.M{"$set": bson.M{"is_revoked": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.ErrTokenNotFound
	}
	return nil
}

// RevokeClientUserTokens implements domain.TokenRepository.
func (r *TokenRepository) RevokeClientUserTokens(ctx context.Context, clientID, userID string) error {
	_, err := r.coll.UpdateMany(ctx,
		bson.M{"client_id": clientID, "user_id": userID},
		bson.M{"$set": bson.M{"is_revoked": true}},
	)
	return err
}

// DeleteExpiredTokens implements domain.TokenRepository. Tokens without an
// expiration are kept.
func (r *TokenRepository) DeleteExpiredTokens(ctx context.Context) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	return err
}
