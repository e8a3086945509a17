package messaging

import (
	"context"
	"time"

	oaerrors "go.pilab.hu/openauth/errors"
)

const (
	// DefaultMaxMessageAge bounds how old a received message may be.
	DefaultMaxMessageAge = 13 * time.Minute
	// DefaultClockSkew bounds how far ahead of the local clock a remote
	// party's timestamp may run before it is rejected.
	DefaultClockSkew = 10 * time.Minute
)

// ExpirationElement stamps outgoing messages with their creation time and
// rejects incoming messages older than a maximum age. Messages whose type
// carries no timestamp pass through untouched.
type ExpirationElement struct {
	// MaxAge is the maximum allowed message age. The boundary is inclusive:
	// a message exactly MaxAge old is still accepted.
	MaxAge time.Duration
	// ClockSkew tolerates remote clocks running ahead of the local one.
	ClockSkew time.Duration

	now func() time.Time
}

// NewExpirationElement returns an element with the given maximum age, using
// defaults for zero values.
func NewExpirationElement(maxAge time.Duration) *ExpirationElement {
	if maxAge <= 0 {
		maxAge = DefaultMaxMessageAge
	}
	return &ExpirationElement{MaxAge: maxAge, ClockSkew: DefaultClockSkew, now: time.Now}
}

// Protection implements BindingElement.
func (e *ExpirationElement) Protection() Protections { return ProtectionExpiration }

// PrepareOutgoing stamps the creation time if the message carries one and it
// is not already set.
func (e *ExpirationElement) PrepareOutgoing(_ context.Context, m Message) (bool, error) {
	exp, ok := m.(Expiring)
	if !ok {
		return false, nil
	}
	if exp.CreationTime().IsZero() {
		exp.SetCreationTime(e.clock().UTC())
	}
	return true, nil
}

// PrepareIncoming checks the message age against MaxAge.
func (e *ExpirationElement) PrepareIncoming(_ context.Context, m Message) (bool, error) {
	exp, ok := m.(Expiring)
	if !ok {
		return false, nil
	}
	created := exp.CreationTime()
	if created.IsZero() {
		return false, oaerrors.NewValidation("", "expiring message carries no creation time")
	}
	now := e.clock()
	if age := now.Sub(created); age > e.MaxAge {
		return false, oaerrors.NewExpired(age.String(), e.MaxAge.String())
	}
	if created.After(now.Add(e.ClockSkew)) {
		return false, oaerrors.NewValidation("", "message creation time %s is in the future", created)
	}
	return true, nil
}

func (e *ExpirationElement) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}
