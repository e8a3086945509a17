package messaging

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"go.pilab.hu/openauth/domain"
	oaerrors "go.pilab.hu/openauth/errors"
)

// defaultNonceLength is the entropy of generated nonces, in bytes.
const defaultNonceLength = 16

// ReplayElement stamps outgoing messages with a fresh unpredictable nonce and
// consumes incoming nonces through the store's atomic insert-if-absent, so a
// message presented twice is rejected as a replay. The nonce namespace is
// scoped per recipient endpoint; the message's creation timestamp doubles as
// the triple's timestamp.
type ReplayElement struct {
	store domain.NonceStore

	// ContextPrefix namespaces nonce contexts when several channels share one
	// store.
	ContextPrefix string
	// AllowEmptyNonce accepts zero-length incoming nonces for protocol
	// versions that explicitly permit them.
	AllowEmptyNonce bool

	now func() time.Time
}

// NewReplayElement returns an element recording nonces in store.
func NewReplayElement(store domain.NonceStore) *ReplayElement {
	return &ReplayElement{store: store, now: time.Now}
}

// Protection implements BindingElement.
func (e *ReplayElement) Protection() Protections { return ProtectionReplay }

// PrepareOutgoing stamps a fresh nonce if the message carries one and it is
// not already set.
func (e *ReplayElement) PrepareOutgoing(_ context.Context, m Message) (bool, error) {
	rp, ok := m.(ReplayProtected)
	if !ok {
		return false, nil
	}
	if rp.ReplayNonce() == "" {
		nonce, err := generateNonce(defaultNonceLength)
		if err != nil {
			return false, oaerrors.WrapHost(err, "generating nonce")
		}
		rp.SetReplayNonce(nonce)
	}
	return true, nil
}

// PrepareIncoming records the (context, nonce, timestamp) triple; a duplicate
// is a replay fault.
func (e *ReplayElement) PrepareIncoming(ctx context.Context, m Message) (bool, error) {
	rp, ok := m.(ReplayProtected)
	if !ok {
		return false, nil
	}
	nonce := rp.ReplayNonce()
	if nonce == "" && !e.AllowEmptyNonce {
		return false, oaerrors.NewValidation("", "message carries an empty nonce")
	}
	if e.store == nil {
		// Outgoing-only deployments (consumers) never receive replay
		// protected messages.
		return false, oaerrors.NewHost("no nonce store configured")
	}
	err := e.store.Store(ctx, e.nonceContext(m), nonce, rp.CreationTime())
	if errors.Is(err, oaerrors.ErrNonceUsed) {
		return false, oaerrors.NewReplay()
	}
	if err != nil {
		return false, oaerrors.WrapHost(err, "storing nonce")
	}
	return true, nil
}

// nonceContext derives the triple's namespace from the recipient endpoint,
// stripping query and fragment so equivalent requests share one namespace.
func (e *ReplayElement) nonceContext(m Message) string {
	scope := e.ContextPrefix
	if d, ok := m.(Directed); ok && d.Recipient() != nil {
		r := *d.Recipient()
		r.RawQuery = ""
		r.Fragment = ""
		scope += r.String()
	}
	return scope
}

func generateNonce(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
