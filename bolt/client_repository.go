package bolt

import (
	"context"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// ClientRepository implements domain.ClientRepository in the clients bucket.
type ClientRepository struct {
	db *bbolt.DB
}

// CreateClient implements domain.ClientRepository.
func (r *ClientRepository) CreateClient(_ context.Context, client *domain.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	client.UpdatedAt = client.CreatedAt
	data, err := encode(client)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClients)
		if b.Get([]byte(client.ID)) != nil {
			return errors.NewValidation("client_id", "client %q already registered", client.ID)
		}
		return b.Put([]byte(client.ID), data)
	})
}

// GetClient implements domain.ClientRepository.
func (r *ClientRepository) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketClients).Get([]byte(clientID))
		if data == nil {
			return errors.ErrClientNotFound
		}
		return decode(data, &client)
	})
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// UpdateClient implements domain.ClientRepository.
func (r *ClientRepository) UpdateClient(_ context.Context, client *domain.Client) error {
	client.UpdatedAt = time.Now().UTC()
	data, err := encode(client)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClients)
		if b.Get([]byte(client.ID)) == nil {
			return errors.ErrClientNotFound
		}
		return b.Put([]byte(client.ID), data)
	})
}

// DeleteClient implements domain.ClientRepository.
func (r *ClientRepository) DeleteClient(_ context.Context, clientID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketClients)
		if b.Get([]byte(clientID)) == nil {
			return errors.ErrClientNotFound
		}
		return b.Delete([]byte(clientID))
	})
}

// ListClients implements domain.ClientRepository.
func (r *ClientRepository) ListClients(_ context.Context, filter domain.ClientFilter) ([]*domain.Client, error) {
	var clients []*domain.Client
	err := r.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClients).ForEach(func(_, data []byte) error {
			var client domain.Client
			if err := decode(data, &client); err != nil {
				return err
			}
			if filter.Type != "" && client.Type != filter.Type {
				return nil
			}
			if filter.IsActive && !client.IsActive {
				return nil
			}
			if filter.Search != "" && !strings.Contains(strings.ToLower(client.Name), strings.ToLower(filter.Search)) {
				return nil
			}
			clients = append(clients, &client)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return clients, nil
}

// ValidateClient implements domain.ClientRepository.
func (r *ClientRepository) ValidateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	client, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, errors.ErrInvalidClientCredentials
	}
	if !client.VerifySecret(clientSecret) {
		return nil, errors.ErrInvalidClientCredentials
	}
	return client, nil
}
