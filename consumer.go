package openauth

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/messaging"
	"go.pilab.hu/openauth/oauth"
)

// Consumer is the client-side facade: it obtains a request token, sends the
// user off to authorize it, exchanges it for an access token and signs
// resource requests with it.
type Consumer struct {
	consumerKey string
	endpoints   oauth.Endpoints
	channel     *messaging.Channel
	secrets     *consumerSecrets
}

// consumerSecrets resolves the consumer's own secret and the token secrets it
// has been handed so far.
type consumerSecrets struct {
	consumerSecret string

	mu           sync.RWMutex
	tokenSecrets map[string]string
}

func (s *consumerSecrets) ConsumerSecret(_ context.Context, consumerKey string) (string, error) {
	return s.consumerSecret, nil
}

func (s *consumerSecrets) TokenSecret(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.tokenSecrets[token]
	if !ok {
		return "", errors.ErrTokenNotFound
	}
	return secret, nil
}

func (s *consumerSecrets) remember(token, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenSecrets[token] = secret
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*consumerOptions)

type consumerOptions struct {
	client messaging.Doer
}

// WithConsumerHTTPClient substitutes the outbound HTTP client.
func WithConsumerHTTPClient(client messaging.Doer) ConsumerOption {
	return func(o *consumerOptions) { o.client = client }
}

// NewConsumer assembles a consumer around its key, shared secret and the
// service provider's endpoints.
func NewConsumer(consumerKey, consumerSecret string, endpoints oauth.Endpoints, opts ...ConsumerOption) *Consumer {
	var o consumerOptions
	for _, opt := range opts {
		opt(&o)
	}

	secrets := &consumerSecrets{
		consumerSecret: consumerSecret,
		tokenSecrets:   make(map[string]string),
	}

	elements := []messaging.BindingElement{
		messaging.NewExpirationElement(0),
		messaging.NewReplayElement(nil), // stamps outgoing nonces only
		&oauth.HMACSHA1Element{Secrets: secrets},
	}

	channelOpts := []messaging.Option{
		messaging.WithAuthorizationScheme("OAuth", ""),
	}
	if o.client != nil {
		channelOpts = append(channelOpts, messaging.WithHTTPClient(o.client))
	}

	return &Consumer{
		consumerKey: consumerKey,
		endpoints:   endpoints,
		channel:     messaging.NewChannel(&oauth.ConsumerFactory{}, messaging.FormCodec{}, elements, channelOpts...),
		secrets:     secrets,
	}
}

// Channel exposes the underlying messaging channel for advanced callers.
func (c *Consumer) Channel() *messaging.Channel { return c.channel }

// UserAuthorization is what the consumer needs after obtaining a request
// token: where to send the user, and the token credentials to keep until the
// callback returns.
type UserAuthorization struct {
	// AuthorizeURL is the provider page the user must visit.
	AuthorizeURL *url.URL
	// RequestToken is the temporary credential awaiting authorization.
	RequestToken string
}

// RequestUserAuthorization obtains a request token and builds the
// authorization URL to send the user to. callback receives the user after
// approval; out-of-band clients pass domain.OutOfBandCallback. extra
// parameters (such as scope) ride under the signature.
func (c *Consumer) RequestUserAuthorization(ctx context.Context, callback string, extra url.Values) (*UserAuthorization, error) {
	request := oauth.NewUnauthorizedTokenRequest(c.endpoints.RequestToken, c.consumerKey, callback)
	for key, values := range extra {
		for _, v := range values {
			request.ExtraData().Add(key, v)
		}
	}

	wr, err := c.channel.Send(ctx, request)
	if err != nil {
		return nil, err
	}
	response, ok := wr.Message.(*oauth.UnauthorizedTokenResponse)
	if !ok {
		return nil, c.asProtocolError(wr.Message)
	}
	c.secrets.remember(response.Token, response.TokenSecret)

	redirect := oauth.NewUserAuthorizationRequest(c.endpoints.UserAuthorization, response.Token)
	indirect, err := c.channel.Send(ctx, redirect)
	if err != nil {
		return nil, err
	}
	location, err := url.Parse(indirect.Header.Get("Location"))
	if err != nil {
		return nil, errors.WrapHost(err, "building authorization URL")
	}

	return &UserAuthorization{
		AuthorizeURL: location,
		RequestToken: response.Token,
	}, nil
}

// HandleCallback decodes the provider's redirect back to the callback URL,
// returning the request token and its verifier.
func (c *Consumer) HandleCallback(ctx context.Context, req *http.Request) (token, verifier string, err error) {
	m, err := c.channel.Receive(ctx, req)
	if err != nil {
		return "", "", err
	}
	response, ok := m.(*oauth.UserAuthorizationResponse)
	if !ok {
		return "", "", errors.NewValidation("", "not an authorization callback")
	}
	return response.Token, response.Verifier, nil
}

// AccessToken is the granted credential pair.
type AccessToken struct {
	Token  string
	Secret string
}

// ExchangeRequestToken swaps an authorized request token plus its verifier
// for an access token.
func (c *Consumer) ExchangeRequestToken(ctx context.Context, requestToken, verifier string) (*AccessToken, error) {
	request := oauth.NewAccessTokenRequest(c.endpoints.AccessToken, c.consumerKey, requestToken, verifier)

	wr, err := c.channel.Send(ctx, request)
	if err != nil {
		return nil, err
	}
	response, ok := wr.Message.(*oauth.AccessTokenResponse)
	if !ok {
		return nil, c.asProtocolError(wr.Message)
	}
	c.secrets.remember(response.Token, response.TokenSecret)

	return &AccessToken{Token: response.Token, Secret: response.TokenSecret}, nil
}

// RestoreAccessToken reloads a previously granted credential, so a consumer
// can sign requests across restarts without re-running the flow.
func (c *Consumer) RestoreAccessToken(token, secret string) {
	c.secrets.remember(token, secret)
}

// SignedRequest builds and signs an HTTP request for a protected resource.
// Query parameters already present on the resource URL are covered by the
// signature.
func (c *Consumer) SignedRequest(ctx context.Context, httpMethod string, resource *url.URL, accessToken string) (*http.Request, error) {
	message := oauth.NewAccessProtectedRequest(resource, httpMethod, c.consumerKey, accessToken)
	return c.channel.PrepareRequest(ctx, message)
}

// asProtocolError surfaces a provider's problem report as an error.
func (c *Consumer) asProtocolError(m messaging.Message) error {
	if er, ok := m.(*oauth.ErrorResponse); ok {
		return errors.NewValidation("", "service provider reported %s: %s", er.Problem, er.Advice)
	}
	return errors.NewValidation("", "unexpected response message")
}

func parseCallback(callback string) (*url.URL, error) {
	u, err := url.Parse(callback)
	if err != nil || !u.IsAbs() {
		return nil, errors.NewValidation("oauth_callback", "callback %q is not an absolute URL", callback)
	}
	return u, nil
}
