// Package services drives the authorization state machine over the domain
// repositories: request-token issuance, user authorization, access-token
// exchange, validation and revocation.
package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/oauth2"
)

// TokenPolicy bundles the lifetimes and formats token issuance follows.
type TokenPolicy struct {
	// RequestTokenTTL bounds how long an unexchanged request token lives.
	RequestTokenTTL time.Duration
	// AccessTokenTTL bounds access-token life; zero means non-expiring.
	AccessTokenTTL time.Duration
	// IssuanceTolerance compensates for store timestamp precision when
	// comparing token issuance against authorization records. A token minted
	// within this window before its grant still validates.
	IssuanceTolerance time.Duration
	// VerifierFormat and VerifierLength control verification codes.
	VerifierFormat VerifierFormat
	VerifierLength int
}

// DefaultTokenPolicy mirrors the usual deployment: hour-long request tokens,
// non-expiring access tokens, one second of timestamp tolerance.
func DefaultTokenPolicy() TokenPolicy {
	return TokenPolicy{
		RequestTokenTTL:   time.Hour,
		IssuanceTolerance: time.Second,
		VerifierFormat:    VerifierAlphaNumericNoLookalikes,
		VerifierLength:    10,
	}
}

// TokenLifecycleService is the token/authorization state machine:
// Unauthorized → Authorized → AccessGranted, with Expired and Revoked as
// terminal outcomes. The repositories provide the atomicity the transitions
// rely on.
type TokenLifecycleService struct {
	tokens  domain.TokenRepository
	clients domain.ClientRepository
	grants  domain.AuthorizationRepository
	policy  TokenPolicy

	now func() time.Time
}

// NewTokenLifecycleService wires the state machine over its stores.
func NewTokenLifecycleService(
	tokens domain.TokenRepository,
	clients domain.ClientRepository,
	grants domain.AuthorizationRepository,
	policy TokenPolicy,
) *TokenLifecycleService {
	if policy.IssuanceTolerance == 0 {
		policy.IssuanceTolerance = time.Second
	}
	if policy.RequestTokenTTL == 0 {
		policy.RequestTokenTTL = time.Hour
	}
	if policy.VerifierLength == 0 {
		policy.VerifierLength = 10
	}
	return &TokenLifecycleService{
		tokens:  tokens,
		clients: clients,
		grants:  grants,
		policy:  policy,
		now:     time.Now,
	}
}

// newCredential produces an opaque unguessable token or secret value.
func newCredential() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// IssueRequestToken creates an unauthorized request token for a client. The
// callback must be permitted by the client's registration.
func (s *TokenLifecycleService) IssueRequestToken(ctx context.Context, clientID, callback, scope string) (*domain.Token, error) {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.IsActive {
		return nil, errors.ErrClientNotFound
	}
	if !client.AllowsCallback(callback) {
		return nil, errors.NewValidation("oauth_callback", "callback %q is not registered for client %q", callback, clientID)
	}
	if scope != "" && len(client.AllowedScopes) > 0 {
		if !oauth2.ScopeSubset(oauth2.JoinScopes(client.AllowedScopes), scope) {
			return nil, errors.NewValidation("scope", "scope %q exceeds the client registration", scope)
		}
	}

	value, err := newCredential()
	if err != nil {
		return nil, err
	}
	secret, err := newCredential()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	expires := now.Add(s.policy.RequestTokenTTL)
	token := &domain.Token{
		ID:         uuid.NewString(),
		Kind:       domain.TokenKindRequest,
		State:      domain.TokenStateUnauthorized,
		Token:      value,
		Secret:     secret,
		ClientID:   clientID,
		Scope:      scope,
		Callback:   callback,
		CreatedAt:  now,
		ExpiresAt:  &expires,
		LastUsedAt: now,
	}
	if err := s.tokens.StoreToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store request token: %w", err)
	}
	log.Debug().Str("client_id", clientID).Msg("issued request token")
	return token, nil
}

// GetToken looks a token up by value, for callers that need its callback or
// scope before acting on it.
func (s *TokenLifecycleService) GetToken(ctx context.Context, tokenValue string) (*domain.Token, error) {
	return s.tokens.GetToken(ctx, tokenValue)
}

// AuthorizeRequestToken records that a user approved a request token,
// generating its verification code and writing the grant record validation
// will later be checked against. Only an unexpired token still in the
// Unauthorized state can be authorized.
func (s *TokenLifecycleService) AuthorizeRequestToken(ctx context.Context, tokenValue, userID string) (verifier string, err error) {
	token, err := s.tokens.GetToken(ctx, tokenValue)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	if token.ExpiredAt(now) {
		return "", errors.ErrTokenExpiredOrRevoked
	}
	if token.State != domain.TokenStateUnauthorized {
		return "", errors.ErrInvalidTokenState
	}
	verifier, err = GenerateVerificationCode(s.policy.VerifierFormat, s.policy.VerifierLength)
	if err != nil {
		return "", err
	}
	if err := s.tokens.AuthorizeToken(ctx, tokenValue, userID, verifier); err != nil {
		return "", err
	}
	grant := &domain.Authorization{
		ID:        uuid.NewString(),
		ClientID:  token.ClientID,
		UserID:    userID,
		Scope:     token.Scope,
		CreatedAt: now,
	}
	if err := s.grants.SaveAuthorization(ctx, grant); err != nil {
		return "", fmt.Errorf("failed to save authorization: %w", err)
	}
	log.Info().Str("client_id", token.ClientID).Str("user_id", userID).Msg("request token authorized")
	return verifier, nil
}

// ExchangeForAccessToken swaps an authorized request token plus verifier for
// a new access token. The promotion atomically replaces the token value and
// secret, so the request token cannot be exchanged twice: the loser of a race
// observes the AccessGranted state and fails.
func (s *TokenLifecycleService) ExchangeForAccessToken(ctx context.Context, requestTokenValue, verifier, clientID string) (*domain.Token, error) {
	token, err := s.tokens.GetToken(ctx, requestTokenValue)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if token.ExpiredAt(now) {
		return nil, errors.ErrTokenExpiredOrRevoked
	}
	if token.State != domain.TokenStateAuthorized {
		return nil, errors.ErrInvalidTokenState
	}
	if token.ClientID != clientID {
		return nil, errors.NewValidation("oauth_consumer_key", "token was issued to a different client")
	}
	if subtle.ConstantTimeCompare([]byte(token.Verifier), []byte(verifier)) != 1 {
		return nil, errors.NewValidation("oauth_verifier", "verifier does not match")
	}

	value, err := newCredential()
	if err != nil {
		return nil, err
	}
	secret, err := newCredential()
	if err != nil {
		return nil, err
	}
	access := &domain.Token{
		ID:         token.ID,
		Kind:       domain.TokenKindAccess,
		State:      domain.TokenStateAccessGranted,
		Token:      value,
		Secret:     secret,
		ClientID:   token.ClientID,
		UserID:     token.UserID,
		Scope:      token.Scope,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if ttl := s.policy.AccessTokenTTL; ttl > 0 {
		expires := now.Add(ttl)
		access.ExpiresAt = &expires
	}
	if err := s.tokens.PromoteToken(ctx, requestTokenValue, access); err != nil {
		return nil, err
	}
	log.Info().Str("client_id", clientID).Str("user_id", token.UserID).Msg("access token granted")
	return access, nil
}

// ValidateAccessToken checks that a token is a live access token and that the
// requested scopes are covered by a grant still in effect. Validity is
// computed against the grant records, not mere token presence: a grant must
// exist for the token's client and user, covering its scope, unrevoked, and
// created at or before the token's issuance plus the configured tolerance.
func (s *TokenLifecycleService) ValidateAccessToken(ctx context.Context, tokenValue string, requestedScopes ...string) (*domain.Token, error) {
	token, err := s.tokens.GetToken(ctx, tokenValue)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if token.State != domain.TokenStateAccessGranted || token.Kind != domain.TokenKindAccess {
		return nil, errors.ErrInvalidTokenState
	}
	if token.IsRevoked || token.ExpiredAt(now) {
		return nil, errors.ErrTokenExpiredOrRevoked
	}
	if len(requestedScopes) > 0 && !oauth2.ScopeSubset(token.Scope, oauth2.JoinScopes(requestedScopes)) {
		return nil, errors.NewInvalidScope("requested scope exceeds the granted scope")
	}
	if err := s.grantInEffect(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// grantInEffect finds an authorization record justifying the token.
func (s *TokenLifecycleService) grantInEffect(ctx context.Context, token *domain.Token) error {
	grants, err := s.grants.ListAuthorizations(ctx, token.ClientID, token.UserID)
	if err != nil {
		return fmt.Errorf("failed to list authorizations: %w", err)
	}
	cutoff := token.CreatedAt.Add(s.policy.IssuanceTolerance)
	for _, g := range grants {
		if !g.InEffect() {
			continue
		}
		if g.CreatedAt.After(cutoff) {
			// A grant issued after the token never legitimizes it; a token
			// minted before a revocation stays dead through re-authorization.
			continue
		}
		if token.Scope != "" && !oauth2.ScopeSubset(g.Scope, token.Scope) {
			continue
		}
		return nil
	}
	return errors.ErrTokenExpiredOrRevoked
}

// RevokeAuthorization withdraws every grant a user gave a client. Tokens
// minted under those grants fail validation from this moment even though
// their records still exist.
func (s *TokenLifecycleService) RevokeAuthorization(ctx context.Context, clientID, userID string) error {
	now := s.now().UTC()
	if err := s.grants.RevokeAuthorizations(ctx, clientID, userID, now); err != nil {
		return fmt.Errorf("failed to revoke authorizations: %w", err)
	}
	log.Info().Str("client_id", clientID).Str("user_id", userID).Msg("authorization revoked")
	return nil
}

// IssueRefreshToken creates a refresh token bound to an access token's grant.
func (s *TokenLifecycleService) IssueRefreshToken(ctx context.Context, access *domain.Token) (*domain.Token, error) {
	value, err := newCredential()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	refresh := &domain.Token{
		ID:         uuid.NewString(),
		Kind:       domain.TokenKindRefresh,
		State:      domain.TokenStateAccessGranted,
		Token:      value,
		ClientID:   access.ClientID,
		UserID:     access.UserID,
		Scope:      access.Scope,
		AccessID:   access.ID,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := s.tokens.StoreToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}
	return refresh, nil
}

// RefreshAccessToken rotates an access token under the grant its refresh
// token was issued for. The grant must still be in effect; a revoked grant
// kills the refresh token along with the access tokens it minted.
func (s *TokenLifecycleService) RefreshAccessToken(ctx context.Context, refreshTokenValue, clientID string) (*domain.Token, error) {
	refresh, err := s.tokens.GetToken(ctx, refreshTokenValue)
	if err != nil {
		if goerrors.Is(err, errors.ErrTokenNotFound) {
			return nil, errors.NewInvalidGrant("unknown refresh token")
		}
		return nil, err
	}
	now := s.now().UTC()
	if refresh.Kind != domain.TokenKindRefresh || refresh.IsRevoked || refresh.ExpiredAt(now) {
		return nil, errors.NewInvalidGrant("refresh token is not usable")
	}
	if refresh.ClientID != clientID {
		return nil, errors.NewInvalidClient("refresh token was issued to a different client")
	}
	if err := s.grantInEffect(ctx, refresh); err != nil {
		return nil, errors.NewInvalidGrant("authorization is no longer in effect")
	}

	value, err := newCredential()
	if err != nil {
		return nil, err
	}
	secret, err := newCredential()
	if err != nil {
		return nil, err
	}
	access := &domain.Token{
		ID:         uuid.NewString(),
		Kind:       domain.TokenKindAccess,
		State:      domain.TokenStateAccessGranted,
		Token:      value,
		Secret:     secret,
		ClientID:   refresh.ClientID,
		UserID:     refresh.UserID,
		Scope:      refresh.Scope,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if ttl := s.policy.AccessTokenTTL; ttl > 0 {
		expires := now.Add(ttl)
		access.ExpiresAt = &expires
	}
	if err := s.tokens.StoreToken(ctx, access); err != nil {
		return nil, fmt.Errorf("failed to store rotated access token: %w", err)
	}
	return access, nil
}

// ConsumerSecret implements oauth.SecretResolver over the client registry.
func (s *TokenLifecycleService) ConsumerSecret(ctx context.Context, consumerKey string) (string, error) {
	client, err := s.clients.GetClient(ctx, consumerKey)
	if err != nil {
		return "", err
	}
	if !client.IsActive {
		return "", errors.ErrClientNotFound
	}
	return client.Secret, nil
}

// TokenSecret implements oauth.SecretResolver over the token store.
func (s *TokenLifecycleService) TokenSecret(ctx context.Context, tokenValue string) (string, error) {
	if tokenValue == "" {
		return "", nil
	}
	token, err := s.tokens.GetToken(ctx, tokenValue)
	if err != nil {
		return "", err
	}
	return token.Secret, nil
}
