package bolt

import (
	"bytes"
	"context"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"go.pilab.hu/openauth/domain"
)

// AuthorizationRepository implements domain.AuthorizationRepository in the
// authorizations bucket, keyed by client, user and grant ID.
type AuthorizationRepository struct {
	db *bbolt.DB
}

func grantPrefix(clientID, userID string) []byte {
	return []byte(clientID + "\n" + userID + "\n")
}

func grantID(a *domain.Authorization) []byte {
	return append(grantPrefix(a.ClientID, a.UserID), a.ID...)
}

// SaveAuthorization implements domain.AuthorizationRepository.
func (r *AuthorizationRepository) SaveAuthorization(_ context.Context, auth *domain.Authorization) error {
	data, err := encode(auth)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuthorizations).Put(grantID(auth), data)
	})
}

// ListAuthorizations implements domain.AuthorizationRepository, newest first.
func (r *AuthorizationRepository) ListAuthorizations(_ context.Context, clientID, userID string) ([]*domain.Authorization, error) {
	prefix := grantPrefix(clientID, userID)
	var grants []*domain.Authorization
	err := r.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketAuthorizations).Cursor()
		for id, data := c.Seek(prefix); id != nil && bytes.HasPrefix(id, prefix); id, data = c.Next() {
			var grant domain.Authorization
			if err := decode(data, &grant); err != nil {
				return err
			}
			grants = append(grants, &grant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(grants, func(i, j int) bool {
		return grants[i].CreatedAt.After(grants[j].CreatedAt)
	})
	return grants, nil
}

// RevokeAuthorizations implements domain.AuthorizationRepository.
func (r *AuthorizationRepository) RevokeAuthorizations(_ context.Context, clientID, userID string, at time.Time) error {
	prefix := grantPrefix(clientID, userID)
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAuthorizations)
		c := b.Cursor()
		updates := make(map[string][]byte)
		for id, data := c.Seek(prefix); id != nil && bytes.HasPrefix(id, prefix); id, data = c.Next() {
			var grant domain.Authorization
			if err := decode(data, &grant); err != nil {
				return err
			}
			if !grant.InEffect() {
				continue
			}
			revoked := at
			grant.RevokedAt = &revoked
			updated, err := encode(&grant)
			if err != nil {
				return err
			}
			updates[string(id)] = updated
		}
		for id, data := range updates {
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
}
