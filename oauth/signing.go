package oauth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // protocol-mandated algorithm
	"crypto/subtle"
	"encoding/base64"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/messaging"
)

// SecretResolver supplies the shared secrets signatures are keyed with. A
// consumer resolves its own secret and the token secret it holds; a service
// provider resolves them from its client registry and token store.
type SecretResolver interface {
	// ConsumerSecret returns the secret registered for a consumer key.
	ConsumerSecret(ctx context.Context, consumerKey string) (string, error)
	// TokenSecret returns the secret of a token, or "" when token is empty
	// (request-token requests carry no token yet).
	TokenSecret(ctx context.Context, token string) (string, error)
}

// KeyResolver supplies the RSA key material for RSA-SHA1. A consumer signs
// with its private key; a provider verifies with the public key registered
// for the consumer.
type KeyResolver interface {
	// SigningKey returns this party's private key, or nil when this party
	// only verifies.
	SigningKey(ctx context.Context) (*rsa.PrivateKey, error)
	// VerificationKey returns the public key registered for a consumer key.
	VerificationKey(ctx context.Context, consumerKey string) (*rsa.PublicKey, error)
}

// signedCarrierOf extracts the signed-request base from a message, if it has
// one.
func signedCarrierOf(m messaging.Message) (*SignedRequest, messaging.Message, bool) {
	if c, ok := m.(signedCarrier); ok {
		return c.signedRequest(), m, true
	}
	return nil, nil, false
}

// HMACSHA1Element signs and verifies messages with HMAC-SHA1, the usual
// choice for shared-secret deployments.
type HMACSHA1Element struct {
	Secrets SecretResolver
}

// Protection implements messaging.BindingElement.
func (e *HMACSHA1Element) Protection() messaging.Protections { return messaging.ProtectionTamper }

// PrepareOutgoing implements messaging.BindingElement.
func (e *HMACSHA1Element) PrepareOutgoing(ctx context.Context, m messaging.Message) (bool, error) {
	sr, outer, ok := signedCarrierOf(m)
	if !ok {
		return false, nil
	}
	if sr.SignatureMethod == "" {
		sr.SignatureMethod = SignatureHMACSHA1
	} else if sr.SignatureMethod != SignatureHMACSHA1 {
		return false, nil
	}
	sig, err := e.sign(ctx, sr, outer)
	if err != nil {
		return false, err
	}
	sr.Signature = sig
	return true, nil
}

// PrepareIncoming implements messaging.BindingElement.
func (e *HMACSHA1Element) PrepareIncoming(ctx context.Context, m messaging.Message) (bool, error) {
	sr, outer, ok := signedCarrierOf(m)
	if !ok || sr.SignatureMethod != SignatureHMACSHA1 {
		return false, nil
	}
	expected, err := e.sign(ctx, sr, outer)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sr.Signature)) != 1 {
		log.Warn().Str("consumer", sr.ConsumerKey).Msg("HMAC-SHA1 signature mismatch")
		return false, errors.NewSignature()
	}
	return true, nil
}

func (e *HMACSHA1Element) sign(ctx context.Context, sr *SignedRequest, outer messaging.Message) (string, error) {
	base, err := SignatureBaseString(sr, outer)
	if err != nil {
		return "", err
	}
	key, err := signingKey(ctx, e.Secrets, sr)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// signingKey builds enc(consumerSecret) "&" enc(tokenSecret), the key shared
// by HMAC-SHA1 and PLAINTEXT.
func signingKey(ctx context.Context, secrets SecretResolver, sr *SignedRequest) (string, error) {
	if secrets == nil {
		return "", errors.NewHost("no secret resolver configured")
	}
	consumerSecret, err := secrets.ConsumerSecret(ctx, sr.ConsumerKey)
	if err != nil {
		return "", errors.WrapHost(err, "resolving consumer secret")
	}
	tokenSecret := ""
	if sr.Token != "" {
		if tokenSecret, err = secrets.TokenSecret(ctx, sr.Token); err != nil {
			return "", errors.WrapHost(err, "resolving token secret")
		}
	}
	return messaging.PercentEncode(consumerSecret) + "&" + messaging.PercentEncode(tokenSecret), nil
}

// RSASHA1Element signs the base string with an RSA private key and verifies
// with the public key registered for the consumer.
type RSASHA1Element struct {
	Keys KeyResolver
}

// Protection implements messaging.BindingElement.
func (e *RSASHA1Element) Protection() messaging.Protections { return messaging.ProtectionTamper }

// PrepareOutgoing implements messaging.BindingElement.
func (e *RSASHA1Element) PrepareOutgoing(ctx context.Context, m messaging.Message) (bool, error) {
	sr, outer, ok := signedCarrierOf(m)
	if !ok {
		return false, nil
	}
	if sr.SignatureMethod == "" {
		sr.SignatureMethod = SignatureRSASHA1
	} else if sr.SignatureMethod != SignatureRSASHA1 {
		return false, nil
	}
	if e.Keys == nil {
		return false, errors.NewHost("no key resolver configured")
	}
	key, err := e.Keys.SigningKey(ctx)
	if err != nil {
		return false, errors.WrapHost(err, "resolving signing key")
	}
	if key == nil {
		return false, errors.NewHost("this party holds no RSA signing key")
	}
	base, err := SignatureBaseString(sr, outer)
	if err != nil {
		return false, err
	}
	digest := sha1.Sum([]byte(base)) //nolint:gosec // protocol-mandated algorithm
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA1, digest[:])
	if err != nil {
		return false, errors.WrapHost(err, "signing base string")
	}
	sr.Signature = base64.StdEncoding.EncodeToString(sig)
	return true, nil
}

// PrepareIncoming implements messaging.BindingElement.
func (e *RSASHA1Element) PrepareIncoming(ctx context.Context, m messaging.Message) (bool, error) {
	sr, outer, ok := signedCarrierOf(m)
	if !ok || sr.SignatureMethod != SignatureRSASHA1 {
		return false, nil
	}
	if e.Keys == nil {
		return false, errors.NewHost("no key resolver configured")
	}
	pub, err := e.Keys.VerificationKey(ctx, sr.ConsumerKey)
	if err != nil || pub == nil {
		return false, errors.NewSignature()
	}
	sig, err := base64.StdEncoding.DecodeString(sr.Signature)
	if err != nil {
		return false, errors.NewSignature()
	}
	base, err := SignatureBaseString(sr, outer)
	if err != nil {
		return false, err
	}
	digest := sha1.Sum([]byte(base)) //nolint:gosec // protocol-mandated algorithm
	if rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest[:], sig) != nil {
		log.Warn().Str("consumer", sr.ConsumerKey).Msg("RSA-SHA1 signature mismatch")
		return false, errors.NewSignature()
	}
	return true, nil
}

// PlaintextElement transmits the secrets themselves as the signature. It is
// only sound when the transport already provides confidentiality, so it
// refuses to act — in both directions — unless the recipient is HTTPS.
type PlaintextElement struct {
	Secrets SecretResolver
}

// Protection implements messaging.BindingElement.
func (e *PlaintextElement) Protection() messaging.Protections { return messaging.ProtectionTamper }

// PrepareOutgoing implements messaging.BindingElement.
func (e *PlaintextElement) PrepareOutgoing(ctx context.Context, m messaging.Message) (bool, error) {
	sr, _, ok := signedCarrierOf(m)
	if !ok {
		return false, nil
	}
	if sr.SignatureMethod != "" && sr.SignatureMethod != SignaturePlaintext {
		return false, nil
	}
	if !messaging.IsTransportSecure(sr.Recipient()) {
		// Never disclose secrets over plain HTTP; let another signer act.
		return false, nil
	}
	sig, err := signingKey(ctx, e.Secrets, sr)
	if err != nil {
		return false, err
	}
	sr.SignatureMethod = SignaturePlaintext
	sr.Signature = sig
	return true, nil
}

// PrepareIncoming implements messaging.BindingElement.
func (e *PlaintextElement) PrepareIncoming(ctx context.Context, m messaging.Message) (bool, error) {
	sr, _, ok := signedCarrierOf(m)
	if !ok || sr.SignatureMethod != SignaturePlaintext {
		return false, nil
	}
	if !messaging.IsTransportSecure(sr.Recipient()) {
		return false, nil
	}
	expected, err := signingKey(ctx, e.Secrets, sr)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sr.Signature)) != 1 {
		return false, errors.NewSignature()
	}
	return true, nil
}
