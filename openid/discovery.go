package openid

import (
	"context"
	"net/url"
)

// Endpoint is the outcome of discovery: where to send checkid requests and
// which identifiers to assert.
type Endpoint struct {
	// ProviderEndpoint accepts direct and indirect OpenID messages.
	ProviderEndpoint *url.URL
	// ClaimedID is the identifier the user presented, after normalization.
	ClaimedID string
	// LocalID is the provider-local identifier, when delegation applies.
	LocalID string
	// Priority orders endpoints when discovery yields more than one;
	// lower runs first.
	Priority int
}

// Discoverer resolves a user-supplied identifier to provider endpoints.
// Implementations cover XRDS/Yadis and HTML-based discovery; this package
// only consumes the result.
type Discoverer interface {
	Discover(ctx context.Context, identifier string) ([]Endpoint, error)
}
