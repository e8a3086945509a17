package bolt

import (
	"context"
	"time"

	"go.etcd.io/bbolt"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// TokenRepository implements domain.TokenRepository in the tokens bucket,
// keyed by token value. The issued-values bucket remembers every value ever
// minted so uniqueness survives deletion.
type TokenRepository struct {
	db *bbolt.DB
}

// StoreToken implements domain.TokenRepository.
func (r *TokenRepository) StoreToken(_ context.Context, token *domain.Token) error {
	data, err := encode(token)
	if err != nil {
		return err
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		issued := tx.Bucket(bucketIssuedValues)
		key := []byte(token.Token)
		if issued.Get(key) != nil {
			return errors.NewHost("token value already issued")
		}
		if err := issued.Put(key, []byte{1}); err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put(key, data)
	})
}

// GetToken implements domain.TokenRepository.
func (r *TokenRepository) GetToken(_ context.Context, tokenValue string) (*domain.Token, error) {
	var token domain.Token
	err := r.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(tokenValue))
		if data == nil {
			return errors.ErrTokenNotFound
		}
		return decode(data, &token)
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// AuthorizeToken implements domain.TokenRepository.
func (r *TokenRepository) AuthorizeToken(_ context.Context, tokenValue, userID, verifier string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(tokenValue))
		if data == nil {
			return errors.ErrTokenNotFound
		}
		var token domain.Token
		if err := decode(data, &token); err != nil {
			return err
		}
		if token.State != domain.TokenStateUnauthorized {
			return errors.ErrInvalidTokenState
		}
		token.State = domain.TokenStateAuthorized
		token.UserID = userID
		token.Verifier = verifier
		updated, err := encode(&token)
		if err != nil {
			return err
		}
		return b.Put([]byte(tokenValue), updated)
	})
}

// PromoteToken implements domain.TokenRepository. The whole swap happens in
// one write transaction.
func (r *TokenRepository) PromoteToken(_ context.Context, requestTokenValue string, access *domain.Token) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(requestTokenValue))
		if data == nil {
			return errors.ErrTokenNotFound
		}
		var token domain.Token
		if err := decode(data, &token); err != nil {
			return err
		}
		if token.State != domain.TokenStateAuthorized {
			return errors.ErrInvalidTokenState
		}

		issued := tx.Bucket(bucketIssuedValues)
		newKey := []byte(access.Token)
		if issued.Get(newKey) != nil {
			return errors.NewHost("token value already issued")
		}

		token.Kind = domain.TokenKindAccess
		token.State = domain.TokenStateAccessGranted
		token.Token = access.Token
		token.Secret = access.Secret
		token.Verifier = ""
		token.CreatedAt = access.CreatedAt
		token.ExpiresAt = access.ExpiresAt

		updated, err := encode(&token)
		if err != nil {
			return err
		}
		if err := b.Delete([]byte(requestTokenValue)); err != nil {
			return err
		}
		if err := issued.Put(newKey, []byte{1}); err != nil {
			return err
		}
		return b.Put(newKey, updated)
	})
}

// RevokeToken implements domain.TokenRepository.
func (r *TokenRepository) RevokeToken(_ context.Context, tokenValue string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		data := b.Get([]byte(tokenValue))
		if data == nil {
			return errors.ErrTokenNotFound
		}
		var token domain.Token
		if err := decode(data, &token); err != nil {
			return err
		}
		token.IsRevoked = true
		updated, err := encode(&token)
		if err != nil {
			return err
		}
		return b.Put([]byte(tokenValue), updated)
	})
}

// RevokeClientUserTokens implements domain.TokenRepository.
func (r *TokenRepository) RevokeClientUserTokens(_ context.Context, clientID, userID string) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		updates := make(map[string][]byte)
		err := b.ForEach(func(key, data []byte) error {
			var token domain.Token
			if err := decode(data, &token); err != nil {
				return err
			}
			if token.ClientID != clientID || token.UserID != userID || token.IsRevoked {
				return nil
			}
			token.IsRevoked = true
			updated, err := encode(&token)
			if err != nil {
				return err
			}
			updates[string(key)] = updated
			return nil
		})
		if err != nil {
			return err
		}
		for key, data := range updates {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteExpiredTokens implements domain.TokenRepository.
func (r *TokenRepository) DeleteExpiredTokens(_ context.Context) error {
	now := time.Now()
	return r.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		var expired [][]byte
		err := b.ForEach(func(key, data []byte) error {
			var token domain.Token
			if err := decode(data, &token); err != nil {
				return err
			}
			if token.ExpiredAt(now) {
				expired = append(expired, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := b.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
