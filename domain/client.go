//go:generate go run go.uber.org/mock/mockgen@latest -source=$GOFILE -destination=mocks/mock_$GOFILE -package=mock_domain ClientRepository
package domain

import (
	"context"
	"crypto/subtle"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ClientType defines the type of client application.
type ClientType string

const (
	// ClientTypeConfidential clients can securely store secrets.
	ClientTypeConfidential ClientType = "confidential"
	// ClientTypePublic clients cannot securely store secrets (mobile apps, SPAs).
	ClientTypePublic ClientType = "public"
)

// OutOfBandCallback is the OAuth 1.0a value a client sends when it cannot
// receive a browser redirect; the verifier is then displayed to the user.
const OutOfBandCallback = "oob"

// Client is a registered consumer/client application. For OAuth 1.0 signing
// the plaintext Secret is required; SecretHash is an alternative for OAuth 2.0
// confidential clients whose secret is only ever compared, never signed with.
type Client struct {
	ID             string     `bson:"_id"                        json:"client_id"`
	Secret         string     `bson:"secret,omitempty"           json:"secret,omitempty"`
	SecretHash     string     `bson:"secret_hash,omitempty"      json:"-"` // bcrypt
	Type           ClientType `bson:"type"                       json:"type"`
	Name           string     `bson:"name"                       json:"name,omitempty"`
	RedirectURIs   []string   `bson:"redirect_uris,omitempty"    json:"redirect_uris,omitempty"`
	AllowedScopes  []string   `bson:"allowed_scopes,omitempty"   json:"allowed_scopes,omitempty"`
	VerifyKeyPEM   string     `bson:"verify_key_pem,omitempty"   json:"verify_key_pem,omitempty"` // RSA-SHA1 public key
	CreatedAt      time.Time  `bson:"created_at"                 json:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"                 json:"updated_at"`
	IsActive       bool       `bson:"is_active"                  json:"is_active"`
	RequireConsent bool       `bson:"require_consent"            json:"require_consent"`
}

// VerifySecret compares a presented secret against the registration, using
// the bcrypt hash when one is stored and a constant-time comparison otherwise.
func (c *Client) VerifySecret(secret string) bool {
	if c.SecretHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// AllowsCallback reports whether the client registration permits the given
// callback URI. Out-of-band is always permitted; otherwise the callback must
// exactly match a registered redirect URI, or any callback is allowed when
// none were registered (OAuth 1.0a dynamic callbacks).
func (c *Client) AllowsCallback(callback string) bool {
	if callback == OutOfBandCallback {
		return true
	}
	if len(c.RedirectURIs) == 0 {
		return callback != ""
	}
	for _, uri := range c.RedirectURIs {
		if uri == callback {
			return true
		}
	}
	return false
}

// ClientFilter defines filtering options for listing clients.
type ClientFilter struct {
	Type     ClientType
	IsActive bool
	Search   string
}

// ClientRepository is the registry of consumer/client applications.
type ClientRepository interface {
	// CreateClient registers a new client.
	CreateClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns errors.ErrClientNotFound
	// when absent. Lookups are case-sensitive.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// UpdateClient updates an existing client registration.
	UpdateClient(ctx context.Context, client *Client) error

	// DeleteClient removes a client registration.
	DeleteClient(ctx context.Context, clientID string) error

	// ListClients returns registered clients, optionally filtered.
	ListClients(ctx context.Context, filter ClientFilter) ([]*Client, error)

	// ValidateClient checks client credentials and returns the registration.
	// Returns errors.ErrInvalidClientCredentials on mismatch.
	ValidateClient(ctx context.Context, clientID, clientSecret string) (*Client, error)
}
