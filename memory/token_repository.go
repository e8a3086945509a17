// Package memory provides mutex-guarded map implementations of the domain
// repositories. They back tests and single-process providers; durable
// deployments use the mongodb or bolt packages.
package memory

import (
	"context"
	"sync"
	"time"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// TokenRepository keeps tokens in a map keyed by token value. The single
// mutex makes the guarded transitions trivially atomic.
type TokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token // token value -> record
	used   map[string]struct{}      // every value ever issued, for uniqueness
}

// NewTokenRepository creates an empty in-memory token repository.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		tokens: make(map[string]*domain.Token),
		used:   make(map[string]struct{}),
	}
}

func (r *TokenRepository) clone(t *domain.Token) *domain.Token {
	cp := *t
	return &cp
}

// StoreToken implements domain.TokenRepository.
func (r *TokenRepository) StoreToken(_ context.Context, token *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.used[token.Token]; ok {
		return errors.NewHost("token value already issued")
	}
	r.used[token.Token] = struct{}{}
	r.tokens[token.Token] = r.clone(token)
	return nil
}

// GetToken implements domain.TokenRepository.
func (r *TokenRepository) GetToken(_ context.Context, tokenValue string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenValue]
	if !ok {
		return nil, errors.ErrTokenNotFound
	}
	return r.clone(t), nil
}

// AuthorizeToken implements domain.TokenRepository.
func (r *TokenRepository) AuthorizeToken(_ context.Context, tokenValue, userID, verifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenValue]
	if !ok {
		return errors.ErrTokenNotFound
	}
	if t.State != domain.TokenStateUnauthorized {
		return errors.ErrInvalidTokenState
	}
	t.State = domain.TokenStateAuthorized
	t.UserID = userID
	t.Verifier = verifier
	return nil
}

// PromoteToken implements domain.TokenRepository.
func (r *TokenRepository) PromoteToken(_ context.Context, requestTokenValue string, access *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[requestTokenValue]
	if !ok {
		return errors.ErrTokenNotFound
	}
	if t.State != domain.TokenStateAuthorized {
		return errors.ErrInvalidTokenState
	}
	if _, ok := r.used[access.Token]; ok {
		return errors.NewHost("token value already issued")
	}

	promoted := r.clone(t)
	promoted.Kind = domain.TokenKindAccess
	promoted.State = domain.TokenStateAccessGranted
	promoted.Token = access.Token
	promoted.Secret = access.Secret
	promoted.Verifier = ""
	promoted.CreatedAt = access.CreatedAt
	promoted.ExpiresAt = access.ExpiresAt

	delete(r.tokens, requestTokenValue)
	r.used[access.Token] = struct{}{}
	r.tokens[access.Token] = promoted
	return nil
}

// RevokeToken implements domain.TokenRepository.
func (r *TokenRepository) RevokeToken(_ context.Context, tokenValue string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenValue]
	if !ok {
		return errors.ErrTokenNotFound
	}
	t.IsRevoked = true
	return nil
}

// RevokeClientUserTokens implements domain.TokenRepository.
func (r *TokenRepository) RevokeClientUserTokens(_ context.Context, clientID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tokens {
		if t.ClientID == clientID && t.UserID == userID {
			t.IsRevoked = true
		}
	}
	return nil
}

// DeleteExpiredTokens implements domain.TokenRepository.
func (r *TokenRepository) DeleteExpiredTokens(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for value, t := range r.tokens {
		if t.ExpiredAt(now) {
			delete(r.tokens, value)
		}
	}
	return nil
}
