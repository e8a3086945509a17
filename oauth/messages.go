// Package oauth implements the OAuth 1.0a protocol messages and signing
// binding elements layered on the messaging channel.
package oauth

import (
	goerrors "errors"
	"net/http"
	"net/url"
	"time"

	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/messaging"
)

// Signature method names as transmitted in oauth_signature_method.
const (
	SignatureHMACSHA1  = "HMAC-SHA1"
	SignatureRSASHA1   = "RSA-SHA1"
	SignaturePlaintext = "PLAINTEXT"
)

// VersionValue is the oauth_version wire value for every 1.x revision.
const VersionValue = "1.0"

// SignedRequest is the common shape of every signed OAuth request: consumer
// identification, the replay and expiration stamps, and the signature.
// Message types embed it and add their own parts.
type SignedRequest struct {
	messaging.Base

	recipient  *url.URL
	httpMethod string

	ConsumerKey     string    `msg:"oauth_consumer_key,required"`
	Token           string    `msg:"oauth_token"`
	SignatureMethod string    `msg:"oauth_signature_method,required"`
	Signature       string    `msg:"oauth_signature,required,empty"`
	Timestamp       time.Time `msg:"oauth_timestamp,required"`
	Nonce           string    `msg:"oauth_nonce,required"`
	ProtocolVersion string    `msg:"oauth_version"`
}

// NewSignedRequest addresses a signed request at an endpoint. httpMethod
// participates in the signature base string and defaults to GET.
func NewSignedRequest(recipient *url.URL, httpMethod string) SignedRequest {
	if httpMethod == "" {
		httpMethod = http.MethodGet
	}
	return SignedRequest{recipient: recipient, httpMethod: httpMethod, ProtocolVersion: VersionValue}
}

// Version implements messaging.Message.
func (m *SignedRequest) Version() messaging.Version { return messaging.V10a }

// Transport implements messaging.Message.
func (m *SignedRequest) Transport() messaging.Transport { return messaging.TransportDirect }

// Validate implements messaging.Message.
func (m *SignedRequest) Validate() error {
	if m.ProtocolVersion != "" && m.ProtocolVersion != VersionValue {
		return errors.NewValidation("oauth_version", "unsupported oauth_version %q", m.ProtocolVersion)
	}
	return nil
}

// Recipient implements messaging.Directed.
func (m *SignedRequest) Recipient() *url.URL { return m.recipient }

// SetRecipient records the endpoint a received request arrived at; the base
// string must be computed against it.
func (m *SignedRequest) SetRecipient(u *url.URL) { m.recipient = u }

// Methods implements messaging.Directed.
func (m *SignedRequest) Methods() messaging.DeliveryMethods {
	return messaging.DeliverAuthorizationHeader | messaging.DeliverPost | messaging.DeliverGet
}

// HTTPMethod returns the HTTP method covered by the signature.
func (m *SignedRequest) HTTPMethod() string { return m.httpMethod }

// SetHTTPMethod records the method a received request used.
func (m *SignedRequest) SetHTTPMethod(method string) { m.httpMethod = method }

// CreationTime implements messaging.Expiring.
func (m *SignedRequest) CreationTime() time.Time { return m.Timestamp }

// SetCreationTime implements messaging.Expiring.
func (m *SignedRequest) SetCreationTime(t time.Time) { m.Timestamp = t }

// ReplayNonce implements messaging.ReplayProtected.
func (m *SignedRequest) ReplayNonce() string { return m.Nonce }

// SetReplayNonce implements messaging.ReplayProtected.
func (m *SignedRequest) SetReplayNonce(nonce string) { m.Nonce = nonce }

// TamperProtected implements messaging.TamperResistant.
func (m *SignedRequest) TamperProtected() {}

// signedRequest gives the signing elements access to the embedded base
// through any embedding message type.
func (m *SignedRequest) signedRequest() *SignedRequest { return m }

type signedCarrier interface {
	signedRequest() *SignedRequest
}

// directResponse is the common shape of unsigned direct responses.
type directResponse struct {
	messaging.Base
	request messaging.Message
}

func (m *directResponse) Version() messaging.Version     { return messaging.V10a }
func (m *directResponse) Transport() messaging.Transport { return messaging.TransportDirect }
func (m *directResponse) Validate() error                { return nil }

// OriginatingRequest implements messaging.Response.
func (m *directResponse) OriginatingRequest() messaging.Message { return m.request }

// UnauthorizedTokenRequest asks the service provider for a new request token.
// The callback is required in 1.0a; clients that cannot receive a redirect
// send the out-of-band value.
type UnauthorizedTokenRequest struct {
	SignedRequest

	Callback string `msg:"oauth_callback,required"`
}

// NewUnauthorizedTokenRequest builds a request-token request for a consumer.
func NewUnauthorizedTokenRequest(endpoint *url.URL, consumerKey, callback string) *UnauthorizedTokenRequest {
	m := &UnauthorizedTokenRequest{SignedRequest: NewSignedRequest(endpoint, http.MethodPost)}
	m.ConsumerKey = consumerKey
	m.Callback = callback
	return m
}

// UnauthorizedTokenResponse returns the new request token and its secret.
type UnauthorizedTokenResponse struct {
	directResponse

	Token             string `msg:"oauth_token,required"`
	TokenSecret       string `msg:"oauth_token_secret,required,empty"`
	CallbackConfirmed bool   `msg:"oauth_callback_confirmed,required"`
}

// NewUnauthorizedTokenResponse answers a request-token request.
func NewUnauthorizedTokenResponse(request *UnauthorizedTokenRequest, token, secret string) *UnauthorizedTokenResponse {
	return &UnauthorizedTokenResponse{
		directResponse:    directResponse{request: request},
		Token:             token,
		TokenSecret:       secret,
		CallbackConfirmed: true,
	}
}

// Validate implements messaging.Message.
func (m *UnauthorizedTokenResponse) Validate() error {
	if !m.CallbackConfirmed {
		return errors.NewValidation("oauth_callback_confirmed", "service provider did not confirm the callback")
	}
	return nil
}

// UserAuthorizationRequest sends the user to the service provider's
// authorization page. It travels through the user agent and is not signed.
type UserAuthorizationRequest struct {
	messaging.Base

	recipient *url.URL

	Token string `msg:"oauth_token"`
}

// NewUserAuthorizationRequest builds the authorization redirect for a request
// token.
func NewUserAuthorizationRequest(authorizationEndpoint *url.URL, token string) *UserAuthorizationRequest {
	return &UserAuthorizationRequest{recipient: authorizationEndpoint, Token: token}
}

func (m *UserAuthorizationRequest) Version() messaging.Version     { return messaging.V10a }
func (m *UserAuthorizationRequest) Transport() messaging.Transport { return messaging.TransportIndirect }
func (m *UserAuthorizationRequest) Validate() error                { return nil }
func (m *UserAuthorizationRequest) Recipient() *url.URL            { return m.recipient }
func (m *UserAuthorizationRequest) SetRecipient(u *url.URL)        { m.recipient = u }
func (m *UserAuthorizationRequest) Methods() messaging.DeliveryMethods {
	return messaging.DeliverGet
}

// UserAuthorizationResponse carries the user back to the consumer's callback
// with the verifier after authorization. Indirect and unsigned.
type UserAuthorizationResponse struct {
	messaging.Base

	recipient *url.URL

	Token    string `msg:"oauth_token,required"`
	Verifier string `msg:"oauth_verifier,required"`
}

// NewUserAuthorizationResponse builds the callback redirect announcing that
// the user authorized the request token.
func NewUserAuthorizationResponse(callback *url.URL, token, verifier string) *UserAuthorizationResponse {
	return &UserAuthorizationResponse{recipient: callback, Token: token, Verifier: verifier}
}

func (m *UserAuthorizationResponse) Version() messaging.Version     { return messaging.V10a }
func (m *UserAuthorizationResponse) Transport() messaging.Transport { return messaging.TransportIndirect }
func (m *UserAuthorizationResponse) Validate() error                { return nil }
func (m *UserAuthorizationResponse) Recipient() *url.URL            { return m.recipient }
func (m *UserAuthorizationResponse) SetRecipient(u *url.URL)        { m.recipient = u }
func (m *UserAuthorizationResponse) Methods() messaging.DeliveryMethods {
	return messaging.DeliverGet
}

// AccessTokenRequest exchanges an authorized request token plus its verifier
// for an access token.
type AccessTokenRequest struct {
	SignedRequest

	Verifier string `msg:"oauth_verifier,required"`
}

// NewAccessTokenRequest builds an access-token exchange request.
func NewAccessTokenRequest(endpoint *url.URL, consumerKey, requestToken, verifier string) *AccessTokenRequest {
	m := &AccessTokenRequest{SignedRequest: NewSignedRequest(endpoint, http.MethodPost)}
	m.ConsumerKey = consumerKey
	m.Token = requestToken
	m.Verifier = verifier
	return m
}

// AccessTokenResponse returns the new access token and its secret.
type AccessTokenResponse struct {
	directResponse

	Token       string `msg:"oauth_token,required"`
	TokenSecret string `msg:"oauth_token_secret,required,empty"`
}

// NewAccessTokenResponse answers an access-token exchange.
func NewAccessTokenResponse(request *AccessTokenRequest, token, secret string) *AccessTokenResponse {
	return &AccessTokenResponse{directResponse: directResponse{request: request}, Token: token, TokenSecret: secret}
}

// AccessProtectedRequest is a signed request for a protected resource. The
// resource's own parameters travel as extra data and are covered by the
// signature.
type AccessProtectedRequest struct {
	SignedRequest
}

// NewAccessProtectedRequest builds a signed resource request.
func NewAccessProtectedRequest(resource *url.URL, httpMethod, consumerKey, accessToken string) *AccessProtectedRequest {
	m := &AccessProtectedRequest{SignedRequest: NewSignedRequest(resource, httpMethod)}
	m.ConsumerKey = consumerKey
	m.Token = accessToken
	return m
}

// Methods implements messaging.Directed; resource requests may also travel on
// PUT and DELETE.
func (m *AccessProtectedRequest) Methods() messaging.DeliveryMethods {
	return m.SignedRequest.Methods() | messaging.DeliverPut | messaging.DeliverDelete
}

// ErrorResponse is a protocol-level error answer carrying OAuth problem
// reporting parameters.
type ErrorResponse struct {
	directResponse

	Problem string `msg:"oauth_problem,required"`
	Advice  string `msg:"oauth_problem_advice"`
}

// NewErrorResponse translates a protocol fault into a well-formed error
// response for the remote party.
func NewErrorResponse(err error) *ErrorResponse {
	return &ErrorResponse{Problem: errors.ProblemOf(err), Advice: adviceFor(err)}
}

func adviceFor(err error) string {
	var pe *errors.ProtocolError
	if !goerrors.As(err, &pe) {
		return ""
	}
	switch pe.Kind {
	case errors.FaultSignature, errors.FaultHost:
		// No detail: a verifier must not serve as an oracle.
		return ""
	default:
		return pe.Error()
	}
}
