package oauth2

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"go.pilab.hu/openauth/domain"
	"go.pilab.hu/openauth/errors"
)

// BearerKeyBucket is the crypto-key-store bucket holding bearer signing keys.
const BearerKeyBucket = "oauth2-bearer"

// BearerSerializer renders access tokens as issuer-signed JWTs so resource
// servers can validate them without a store lookup. Signing keys live in the
// crypto key store and rotate by expiration: the newest unexpired key signs,
// while older keys still verify tokens minted under them.
type BearerSerializer struct {
	Issuer string
	Keys   domain.CryptoKeyStore

	now func() time.Time
}

// NewBearerSerializer builds a serializer issuing under the given issuer URI.
func NewBearerSerializer(issuer string, keys domain.CryptoKeyStore) *BearerSerializer {
	return &BearerSerializer{Issuer: issuer, Keys: keys, now: time.Now}
}

// Claims is what a resource server learns from a verified bearer token.
type Claims struct {
	TokenID  string
	ClientID string
	UserID   string
	Scope    string
	IssuedAt time.Time
	Expiry   time.Time
}

// Issue signs a bearer JWT for an access token.
func (s *BearerSerializer) Issue(ctx context.Context, token *domain.Token) (string, error) {
	key, err := s.signingKey(ctx)
	if err != nil {
		return "", err
	}
	now := s.clock().UTC()
	claims := jwt.MapClaims{
		"iss":   s.Issuer,
		"sub":   token.UserID,
		"aud":   jwt.ClaimStrings{token.ClientID},
		"iat":   jwt.NewNumericDate(now).Unix(),
		"nbf":   jwt.NewNumericDate(now).Unix(),
		"jti":   token.ID,
		"scope": token.Scope,
	}
	if token.ExpiresAt != nil {
		claims["exp"] = jwt.NewNumericDate(*token.ExpiresAt).Unix()
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = key.Handle
	signed, err := t.SignedString(key.Key)
	if err != nil {
		return "", fmt.Errorf("cannot sign bearer token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks a bearer JWT, resolving the verification key from
// the kid header. Expired signing keys still verify: the token's own exp
// claim bounds its life.
func (s *BearerSerializer) Verify(ctx context.Context, raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.MapClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, goerrors.New("bearer token has no kid header")
		}
		key, err := s.Keys.GetKey(ctx, BearerKeyBucket, kid)
		if err != nil {
			return nil, err
		}
		return key.Key, nil
	}, jwt.WithIssuer(s.Issuer))
	if err != nil || !parsed.Valid {
		return nil, errors.NewSignature()
	}
	claims := *parsed.Claims.(*jwt.MapClaims)

	out := &Claims{}
	out.TokenID, _ = claims["jti"].(string)
	out.UserID, _ = claims["sub"].(string)
	out.Scope, _ = claims["scope"].(string)
	switch aud := claims["aud"].(type) {
	case string:
		out.ClientID = aud
	case []any:
		if len(aud) > 0 {
			out.ClientID, _ = aud[0].(string)
		}
	}
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if exp, ok := claims["exp"].(float64); ok {
		out.Expiry = time.Unix(int64(exp), 0).UTC()
		if s.clock().After(out.Expiry) {
			return nil, errors.ErrTokenExpiredOrRevoked
		}
	}
	return out, nil
}

// signingKey returns the newest unexpired key. Key provisioning and rotation
// happen outside the serializer.
func (s *BearerSerializer) signingKey(ctx context.Context) (*domain.CryptoKey, error) {
	keys, err := s.Keys.GetKeys(ctx, BearerKeyBucket)
	if err != nil {
		return nil, fmt.Errorf("cannot list bearer signing keys: %w", err)
	}
	now := s.clock().UTC()
	for _, k := range keys {
		if !k.ExpiredAt(now) {
			return k, nil
		}
	}
	return nil, errors.NewHost("no unexpired bearer signing key in bucket %q", BearerKeyBucket)
}

func (s *BearerSerializer) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
