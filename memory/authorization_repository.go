package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.pilab.hu/openauth/domain"
)

// AuthorizationRepository keeps grant records in a slice per (client, user)
// pair.
type AuthorizationRepository struct {
	mu     sync.Mutex
	grants map[string][]*domain.Authorization
}

// NewAuthorizationRepository creates an empty in-memory grant store.
func NewAuthorizationRepository() *AuthorizationRepository {
	return &AuthorizationRepository{grants: make(map[string][]*domain.Authorization)}
}

func grantKey(clientID, userID string) string { return clientID + "\n" + userID }

func (r *AuthorizationRepository) clone(a *domain.Authorization) *domain.Authorization {
	cp := *a
	if a.RevokedAt != nil {
		at := *a.RevokedAt
		cp.RevokedAt = &at
	}
	return &cp
}

// SaveAuthorization implements domain.AuthorizationRepository.
func (r *AuthorizationRepository) SaveAuthorization(_ context.Context, auth *domain.Authorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := grantKey(auth.ClientID, auth.UserID)
	r.grants[key] = append(r.grants[key], r.clone(auth))
	return nil
}

// ListAuthorizations implements domain.AuthorizationRepository, newest first.
func (r *AuthorizationRepository) ListAuthorizations(_ context.Context, clientID, userID string) ([]*domain.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := r.grants[grantKey(clientID, userID)]
	out := make([]*domain.Authorization, 0, len(stored))
	for _, a := range stored {
		out = append(out, r.clone(a))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RevokeAuthorizations implements domain.AuthorizationRepository.
func (r *AuthorizationRepository) RevokeAuthorizations(_ context.Context, clientID, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.grants[grantKey(clientID, userID)] {
		if a.InEffect() {
			revoked := at
			a.RevokedAt = &revoked
		}
	}
	return nil
}
