package oauth

import (
	"net/url"
	"strings"

	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/messaging"
)

// Endpoints names the three service-provider endpoints of an OAuth 1.0
// deployment.
type Endpoints struct {
	RequestToken      *url.URL
	UserAuthorization *url.URL
	AccessToken       *url.URL
}

// sameEndpoint compares endpoints by scheme, host and path; query strings do
// not participate in dispatch.
func sameEndpoint(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host) &&
		canonicalPath(a) == canonicalPath(b)
}

// ProviderFactory recognizes inbound consumer requests by the endpoint they
// arrived at and the discriminator parts they carry. Requests arriving at any
// other endpoint carrying oauth_signature are treated as protected-resource
// requests.
type ProviderFactory struct {
	Endpoints Endpoints
}

// NewRequestMessage implements messaging.MessageFactory.
func (f *ProviderFactory) NewRequestMessage(recipient *url.URL, fields url.Values) (messaging.Message, error) {
	// Query parameters already arrived in fields; keeping them on the
	// recipient too would count them twice in the signature base string.
	if recipient != nil && recipient.RawQuery != "" {
		stripped := *recipient
		stripped.RawQuery = ""
		recipient = &stripped
	}

	switch {
	case sameEndpoint(recipient, f.Endpoints.RequestToken):
		if !fields.Has("oauth_consumer_key") {
			return nil, errors.NewValidation("oauth_consumer_key", "request token endpoint requires oauth_consumer_key")
		}
		m := &UnauthorizedTokenRequest{}
		m.SetRecipient(recipient)
		return m, nil

	case sameEndpoint(recipient, f.Endpoints.AccessToken):
		if !fields.Has("oauth_verifier") {
			return nil, errors.NewValidation("oauth_verifier", "access token endpoint requires oauth_verifier")
		}
		m := &AccessTokenRequest{}
		m.SetRecipient(recipient)
		return m, nil

	case sameEndpoint(recipient, f.Endpoints.UserAuthorization):
		if !fields.Has("oauth_token") {
			return nil, nil
		}
		m := &UserAuthorizationRequest{}
		m.SetRecipient(recipient)
		return m, nil

	case fields.Has("oauth_signature"):
		m := &AccessProtectedRequest{}
		m.SetRecipient(recipient)
		return m, nil

	default:
		return nil, nil
	}
}

// NewResponseMessage implements messaging.MessageFactory. A provider channel
// never receives direct responses.
func (f *ProviderFactory) NewResponseMessage(messaging.Message, url.Values) (messaging.Message, error) {
	return nil, errors.NewHost("service provider channel cannot receive direct responses")
}

// ConsumerFactory recognizes the service provider's answers to the consumer's
// own requests, and the authorization redirect arriving back at the callback.
type ConsumerFactory struct{}

// NewRequestMessage implements messaging.MessageFactory; the only message a
// consumer receives unsolicited is the callback redirect.
func (f *ConsumerFactory) NewRequestMessage(recipient *url.URL, fields url.Values) (messaging.Message, error) {
	if fields.Has("oauth_token") && fields.Has("oauth_verifier") {
		m := &UserAuthorizationResponse{}
		m.SetRecipient(recipient)
		return m, nil
	}
	return nil, nil
}

// NewResponseMessage implements messaging.MessageFactory.
func (f *ConsumerFactory) NewResponseMessage(request messaging.Message, fields url.Values) (messaging.Message, error) {
	if fields.Has("oauth_problem") {
		return &ErrorResponse{}, nil
	}
	switch req := request.(type) {
	case *UnauthorizedTokenRequest:
		return &UnauthorizedTokenResponse{directResponse: directResponse{request: req}}, nil
	case *AccessTokenRequest:
		return &AccessTokenResponse{directResponse: directResponse{request: req}}, nil
	default:
		return nil, nil
	}
}
