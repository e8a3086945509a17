//go:generate go run go.uber.org/mock/mockgen@latest -source=$GOFILE -destination=mocks/mock_$GOFILE -package=mock_domain AuthorizationRepository
package domain

import (
	"context"
	"time"
)

// Authorization is a grant record: a user approved a client for a scope at a
// point in time. Token validity is computed against these records, not only
// against the token's own row, so revoking a grant invalidates tokens minted
// under it without touching them individually.
type Authorization struct {
	ID        string     `bson:"_id"                  json:"id"`
	ClientID  string     `bson:"client_id"            json:"client_id"`
	UserID    string     `bson:"user_id"              json:"user_id"`
	Scope     string     `bson:"scope,omitempty"      json:"scope,omitempty"`
	CreatedAt time.Time  `bson:"created_at"           json:"created_at"`
	RevokedAt *time.Time `bson:"revoked_at,omitempty" json:"revoked_at,omitempty"`
}

// InEffect reports whether the grant has not been revoked.
func (a *Authorization) InEffect() bool { return a.RevokedAt == nil }

// AuthorizationRepository persists grant records.
type AuthorizationRepository interface {
	// SaveAuthorization persists a new grant.
	SaveAuthorization(ctx context.Context, auth *Authorization) error

	// ListAuthorizations returns every grant for a (client, user) pair,
	// revoked ones included.
	ListAuthorizations(ctx context.Context, clientID, userID string) ([]*Authorization, error)

	// RevokeAuthorizations marks every in-effect grant for the pair revoked
	// at the given instant.
	RevokeAuthorizations(ctx context.Context, clientID, userID string, at time.Time) error
}
