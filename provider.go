// Package openauth assembles the messaging channel, the OAuth 1.0 message
// family and the token lifecycle into the two party-level facades: the
// ServiceProvider answering consumers, and the Consumer acting on a user's
// behalf.
package openauth

import (
	"context"
	goerrors "errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/messaging"
	"go.pilab.hu/openauth/oauth"
	"go.pilab.hu/openauth/services"
)

// ServiceProvider is the provider-side facade: it receives signed consumer
// requests on the three endpoints, drives the token lifecycle, and renders
// protocol-level error responses.
type ServiceProvider struct {
	endpoints oauth.Endpoints
	channel   *messaging.Channel
	lifecycle *services.TokenLifecycleService
}

type providerOptions struct {
	maxMessageAge time.Duration
	realm         string
	keys          oauth.KeyResolver
}

// ProviderOption configures a ServiceProvider.
type ProviderOption func(*providerOptions)

// WithMaxMessageAge bounds how old a signed request may be.
func WithMaxMessageAge(age time.Duration) ProviderOption {
	return func(o *providerOptions) { o.maxMessageAge = age }
}

// WithRealm sets the realm announced in Authorization headers.
func WithRealm(realm string) ProviderOption {
	return func(o *providerOptions) { o.realm = realm }
}

// WithRSAKeys enables RSA-SHA1 verification against the given resolver.
func WithRSAKeys(keys oauth.KeyResolver) ProviderOption {
	return func(o *providerOptions) { o.keys = keys }
}

// NewServiceProvider assembles a provider over its endpoints, lifecycle
// service and nonce store.
func NewServiceProvider(
	endpoints oauth.Endpoints,
	lifecycle *services.TokenLifecycleService,
	nonces domain.NonceStore,
	opts ...ProviderOption,
) *ServiceProvider {
	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}

	elements := []messaging.BindingElement{
		messaging.NewExpirationElement(o.maxMessageAge),
		messaging.NewReplayElement(nonces),
		&oauth.HMACSHA1Element{Secrets: lifecycle},
		&oauth.PlaintextElement{Secrets: lifecycle},
	}
	if o.keys != nil {
		elements = append(elements, &oauth.RSASHA1Element{Keys: o.keys})
	}

	channel := messaging.NewChannel(
		&oauth.ProviderFactory{Endpoints: endpoints},
		messaging.FormCodec{},
		elements,
		messaging.WithAuthorizationScheme("OAuth", o.realm),
	)

	return &ServiceProvider{
		endpoints: endpoints,
		channel:   channel,
		lifecycle: lifecycle,
	}
}

// Channel exposes the underlying messaging channel for advanced callers.
func (p *ServiceProvider) Channel() *messaging.Channel { return p.channel }

// HandleRequestToken serves the request-token endpoint: it authenticates the
// signed request and answers with a fresh unauthorized token. The optional
// scope parameter travels as extra data under the signature.
func (p *ServiceProvider) HandleRequestToken(ctx context.Context, req *http.Request) *messaging.WebResponse {
	m, err := p.channel.Receive(ctx, req)
	if err != nil {
		return p.errorResponse(ctx, err)
	}
	request, ok := m.(*oauth.UnauthorizedTokenRequest)
	if !ok {
		return p.errorResponse(ctx, errors.NewValidation("", "not a request token message"))
	}

	scope := request.ExtraData().Get("scope")
	token, err := p.lifecycle.IssueRequestToken(ctx, request.ConsumerKey, request.Callback, scope)
	if err != nil {
		return p.errorResponse(ctx, err)
	}

	response := oauth.NewUnauthorizedTokenResponse(request, token.Token, token.Secret)
	wr, err := p.channel.PrepareResponse(ctx, response)
	if err != nil {
		return p.errorResponse(ctx, err)
	}
	return wr
}

// HandleAccessToken serves the access-token endpoint: it authenticates the
// exchange request and swaps the authorized request token for an access
// token.
func (p *ServiceProvider) HandleAccessToken(ctx context.Context, req *http.Request) *messaging.WebResponse {
	m, err := p.channel.Receive(ctx, req)
	if err != nil {
		return p.errorResponse(ctx, err)
	}
	request, ok := m.(*oauth.AccessTokenRequest)
	if !ok {
		return p.errorResponse(ctx, errors.NewValidation("", "not an access token message"))
	}

	access, err := p.lifecycle.ExchangeForAccessToken(ctx, request.Token, request.Verifier, request.ConsumerKey)
	if err != nil {
		return p.errorResponse(ctx, err)
	}

	response := oauth.NewAccessTokenResponse(request, access.Token, access.Secret)
	wr, err := p.channel.PrepareResponse(ctx, response)
	if err != nil {
		return p.errorResponse(ctx, err)
	}
	return wr
}

// ReadAuthorizationRequest decodes the browser's arrival at the user
// authorization page. A nil message means the request carried no recognizable
// token.
func (p *ServiceProvider) ReadAuthorizationRequest(ctx context.Context, req *http.Request) (*oauth.UserAuthorizationRequest, error) {
	m, err := p.channel.Receive(ctx, req)
	if err != nil || m == nil {
		return nil, err
	}
	request, ok := m.(*oauth.UserAuthorizationRequest)
	if !ok {
		return nil, errors.NewValidation("", "not a user authorization message")
	}
	return request, nil
}

// AuthorizationDecision is the outcome of GrantAuthorization: either a
// redirect carrying the verifier back to the consumer's callback, or — for
// out-of-band clients — the verifier itself for on-screen display.
type AuthorizationDecision struct {
	Redirect *messaging.WebResponse
	Verifier string
}

// GrantAuthorization records the signed-in user's approval of a request
// token and produces the callback redirect, or the verifier to display when
// the consumer registered no callback channel.
func (p *ServiceProvider) GrantAuthorization(ctx context.Context, tokenValue, userID string) (*AuthorizationDecision, error) {
	verifier, err := p.lifecycle.AuthorizeRequestToken(ctx, tokenValue, userID)
	if err != nil {
		return nil, err
	}
	token, err := p.lifecycle.GetToken(ctx, tokenValue)
	if err != nil {
		return nil, err
	}

	if token.Callback == "" || token.Callback == domain.OutOfBandCallback {
		return &AuthorizationDecision{Verifier: verifier}, nil
	}

	callback, err := parseCallback(token.Callback)
	if err != nil {
		return nil, err
	}
	response := oauth.NewUserAuthorizationResponse(callback, tokenValue, verifier)
	wr, err := p.channel.PrepareResponse(ctx, response)
	if err != nil {
		return nil, err
	}
	return &AuthorizationDecision{Redirect: wr, Verifier: verifier}, nil
}

// ValidateProtectedRequest authenticates a signed resource request and checks
// the access token it presents, including the required scopes. It returns the
// token record so the resource can identify the user.
func (p *ServiceProvider) ValidateProtectedRequest(ctx context.Context, req *http.Request, requiredScopes ...string) (*domain.Token, error) {
	m, err := p.channel.Receive(ctx, req)
	if err != nil {
		return nil, err
	}
	request, ok := m.(*oauth.AccessProtectedRequest)
	if !ok {
		return nil, errors.NewValidation("", "not a signed resource request")
	}
	return p.lifecycle.ValidateAccessToken(ctx, request.Token, requiredScopes...)
}

// errorResponse renders any fault as a direct problem-reporting response.
// Host faults are logged in full but answered opaquely.
func (p *ServiceProvider) errorResponse(ctx context.Context, err error) *messaging.WebResponse {
	log.Debug().Err(err).Msg("answering protocol fault")

	response := oauth.NewErrorResponse(err)
	wr, prepErr := p.channel.PrepareResponse(ctx, response)
	if prepErr != nil {
		log.Error().Err(prepErr).Msg("failed to prepare error response")
		return &messaging.WebResponse{
			Status: http.StatusInternalServerError,
			Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
			Body:   []byte("internal error"),
		}
	}
	wr.Status = statusFor(err)
	return wr
}

// statusFor maps fault kinds onto the problem-reporting status codes:
// authentication-class faults challenge with 401, malformed requests get 400,
// and host faults surface as 500.
func statusFor(err error) int {
	var pe *errors.ProtocolError
	if !goerrors.As(err, &pe) {
		if goerrors.Is(err, errors.ErrTokenNotFound) ||
			goerrors.Is(err, errors.ErrTokenExpiredOrRevoked) ||
			goerrors.Is(err, errors.ErrInvalidTokenState) ||
			goerrors.Is(err, errors.ErrClientNotFound) ||
			goerrors.Is(err, errors.ErrInvalidClientCredentials) {
			return http.StatusUnauthorized
		}
		return http.StatusInternalServerError
	}
	switch pe.Kind {
	case errors.FaultSignature, errors.FaultExpired, errors.FaultReplay:
		return http.StatusUnauthorized
	case errors.FaultHost:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
