//go:generate go run go.uber.org/mock/mockgen@latest -source=$GOFILE -destination=mocks/mock_$GOFILE -package=mock_domain TokenRepository
package domain

import (
	"context"
	"time"
)

// TokenKind distinguishes the credential families sharing the token store.
type TokenKind string

const (
	// TokenKindRequest is an OAuth 1.0 temporary credential awaiting
	// authorization or exchange. The same record is promoted in place.
	TokenKindRequest TokenKind = "request"
	// TokenKindAccess is a granted credential usable against protected
	// resources.
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh is an OAuth 2.0 credential used to rotate an access
	// token under the original grant.
	TokenKindRefresh TokenKind = "refresh"
)

// TokenState is the lifecycle state of a token.
type TokenState string

const (
	// TokenStateUnauthorized is a request token no user has acted on yet.
	TokenStateUnauthorized TokenState = "unauthorized"
	// TokenStateAuthorized is a request token a user approved, awaiting
	// exchange for an access token.
	TokenStateAuthorized TokenState = "authorized"
	// TokenStateAccessGranted is a usable access (or refresh) token.
	TokenStateAccessGranted TokenState = "access_granted"
)

// Token is a request, access or refresh token record. A request token is
// promoted in place: on exchange its value and secret are replaced, never
// reused, and its verifier is cleared.
type Token struct {
	ID         string     `bson:"_id"                  json:"id"`
	Kind       TokenKind  `bson:"kind"                 json:"kind"`
	State      TokenState `bson:"state"                json:"state"`
	Token      string     `bson:"token"                json:"token"`  // opaque, unguessable, globally unique
	Secret     string     `bson:"secret"               json:"secret"` // shared signing secret (OAuth 1.0)
	ClientID   string     `bson:"client_id"            json:"client_id"`
	UserID     string     `bson:"user_id,omitempty"    json:"user_id,omitempty"` // empty until authorized
	Scope      string     `bson:"scope,omitempty"      json:"scope,omitempty"`
	Callback   string     `bson:"callback,omitempty"   json:"callback,omitempty"`
	Verifier   string     `bson:"verifier,omitempty"   json:"verifier,omitempty"` // oauth_verifier, cleared on exchange
	AccessID   string     `bson:"access_id,omitempty"  json:"access_id,omitempty"` // refresh tokens: the access token they rotate
	CreatedAt  time.Time  `bson:"created_at"           json:"created_at"`
	ExpiresAt  *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"` // nil = non-expiring
	IsRevoked  bool       `bson:"is_revoked,omitempty" json:"is_revoked,omitempty"`
	LastUsedAt time.Time  `bson:"last_used_at"         json:"last_used_at"`
}

// ExpiredAt reports whether the token is past its expiration at the given
// instant. Tokens without an expiration never expire.
func (t *Token) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// TokenRepository persists tokens. Implementations must make the guarded
// transitions (Authorize, Promote) atomic: two concurrent calls racing on the
// same token observe exactly one success.
type TokenRepository interface {
	// StoreToken persists a new token. The token value must be unique across
	// every token ever issued; a duplicate is an error.
	StoreToken(ctx context.Context, token *Token) error

	// GetToken retrieves a token by its value. Returns errors.ErrTokenNotFound
	// when absent.
	GetToken(ctx context.Context, tokenValue string) (*Token, error)

	// AuthorizeToken attaches a user and verifier to a request token. The
	// update applies only while the token is TokenStateUnauthorized; otherwise
	// errors.ErrInvalidTokenState is returned.
	AuthorizeToken(ctx context.Context, tokenValue, userID, verifier string) error

	// PromoteToken atomically replaces an authorized request token's value,
	// secret, state, kind and expiration with those of access, clearing the
	// verifier. The update applies only while the stored token is
	// TokenStateAuthorized; otherwise errors.ErrInvalidTokenState is returned,
	// so a second concurrent exchange fails.
	PromoteToken(ctx context.Context, requestTokenValue string, access *Token) error

	// RevokeToken marks a single token revoked.
	RevokeToken(ctx context.Context, tokenValue string) error

	// RevokeClientUserTokens marks every token under a (client, user) pair
	// revoked.
	RevokeClientUserTokens(ctx context.Context, clientID, userID string) error

	// DeleteExpiredTokens removes tokens past their expiration.
	DeleteExpiredTokens(ctx context.Context) error
}
