package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// ClientRepository keeps client registrations in a map.
type ClientRepository struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewClientRepository creates an empty in-memory client registry.
func NewClientRepository() *ClientRepository {
	return &ClientRepository{clients: make(map[string]*domain.Client)}
}

func (r *ClientRepository) clone(c *domain.Client) *domain.Client {
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.AllowedScopes = append([]string(nil), c.AllowedScopes...)
	return &cp
}

// CreateClient implements domain.ClientRepository.
func (r *ClientRepository) CreateClient(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client.ID]; ok {
		return errors.NewValidation("client_id", "client %q already registered", client.ID)
	}
	cp := r.clone(client)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	r.clients[client.ID] = cp
	return nil
}

// GetClient implements domain.ClientRepository.
func (r *ClientRepository) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, errors.ErrClientNotFound
	}
	return r.clone(c), nil
}

// UpdateClient implements domain.ClientRepository.
func (r *ClientRepository) UpdateClient(_ context.Context, client *domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[client.ID]; !ok {
		return errors.ErrClientNotFound
	}
	cp := r.clone(client)
	cp.UpdatedAt = time.Now().UTC()
	r.clients[client.ID] = cp
	return nil
}

// DeleteClient implements domain.ClientRepository.
func (r *ClientRepository) DeleteClient(_ context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[clientID]; !ok {
		return errors.ErrClientNotFound
	}
	delete(r.clients, clientID)
	return nil
}

// ListClients implements domain.ClientRepository.
func (r *ClientRepository) ListClients(_ context.Context, filter domain.ClientFilter) ([]*domain.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Client
	for _, c := range r.clients {
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.IsActive && !c.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, r.clone(c))
	}
	return out, nil
}

// ValidateClient implements domain.ClientRepository.
func (r *ClientRepository) ValidateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	c, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, errors.ErrInvalidClientCredentials
	}
	if !c.VerifySecret(clientSecret) {
		return nil, errors.ErrInvalidClientCredentials
	}
	return c, nil
}
