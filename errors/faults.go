package errors

import (
	"errors"
	"fmt"
	"net/url"
)

// FaultKind classifies protocol faults so hosts can route them: expired
// messages may restart a flow, replays are security events, host faults must
// never be handled by protocol-level error handlers.
type FaultKind int

const (
	// FaultValidation marks a malformed or incomplete message.
	FaultValidation FaultKind = iota
	// FaultExpired marks a message older than the maximum allowed age.
	FaultExpired
	// FaultReplay marks a message whose nonce was already consumed.
	FaultReplay
	// FaultSignature marks a failed signature or trust check. The fault
	// deliberately carries no detail about which check failed.
	FaultSignature
	// FaultHost marks a configuration or collaborator failure. It aborts the
	// request pipeline and is never translated into a protocol error response.
	FaultHost
)

func (k FaultKind) String() string {
	switch k {
	case FaultValidation:
		return "validation"
	case FaultExpired:
		return "expired"
	case FaultReplay:
		return "replay"
	case FaultSignature:
		return "signature"
	case FaultHost:
		return "host"
	default:
		return "unknown"
	}
}

// ProtocolError is a typed protocol fault. When the faulting message could be
// attributed to a recipient, Recipient and Fields carry enough context for the
// caller to produce a well-formed protocol error response instead of a
// transport-level failure.
type ProtocolError struct {
	Kind      FaultKind
	Part      string // offending message part, validation faults only
	Recipient *url.URL
	Fields    url.Values

	msg   string
	cause error
}

func (e *ProtocolError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s fault: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s fault: %s", e.Kind, e.msg)
}

func (e *ProtocolError) Unwrap() error { return e.cause }

// Attribute records the recipient and raw fields of the faulting message so a
// protocol error response can be addressed. It returns the error for chaining.
func (e *ProtocolError) Attribute(recipient *url.URL, fields url.Values) *ProtocolError {
	e.Recipient = recipient
	e.Fields = fields
	return e
}

// NewValidation reports a malformed message. part may be empty when the fault
// is not attributable to a single part.
func NewValidation(part, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: FaultValidation, Part: part, msg: fmt.Sprintf(format, args...)}
}

// NewExpired reports a message past the maximum allowed age.
func NewExpired(age, maxAge string) *ProtocolError {
	return &ProtocolError{Kind: FaultExpired, msg: fmt.Sprintf("message is %s old, limit is %s", age, maxAge)}
}

// NewReplay reports a reused nonce.
func NewReplay() *ProtocolError {
	return &ProtocolError{Kind: FaultReplay, msg: "message replay detected"}
}

// NewSignature reports a failed signature or trust check. The message is fixed
// so a verifier cannot be used as an oracle for which check failed.
func NewSignature() *ProtocolError {
	return &ProtocolError{Kind: FaultSignature, msg: "message signature verification failed"}
}

// NewHost reports a configuration or collaborator failure.
func NewHost(format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: FaultHost, msg: fmt.Sprintf(format, args...)}
}

// WrapHost wraps a collaborator error as a host fault.
func WrapHost(err error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: FaultHost, msg: fmt.Sprintf(format, args...), cause: err}
}

// KindOf returns the fault kind of err and whether err is a ProtocolError.
func KindOf(err error) (FaultKind, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a ProtocolError of the given kind.
func IsKind(err error, kind FaultKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Store-level sentinels shared by every persistence backend.
var (
	// ErrNonceUsed is returned by nonce stores when the (context, nonce,
	// timestamp) triple was already recorded. It is the replay primitive.
	ErrNonceUsed = errors.New("nonce already used")
	// ErrTokenNotFound is returned when no token matches the given value.
	ErrTokenNotFound = errors.New("token not found")
	// ErrInvalidTokenState is returned when a guarded state transition finds
	// the token in a different state than required.
	ErrInvalidTokenState = errors.New("token is not in the required state")
	// ErrClientNotFound is returned when no client is registered under an ID.
	ErrClientNotFound = errors.New("client not found")
	// ErrInvalidClientCredentials is returned when client authentication fails.
	ErrInvalidClientCredentials = errors.New("invalid client credentials")
	// ErrKeyNotFound is returned when no crypto key exists for (bucket, handle).
	ErrKeyNotFound = errors.New("crypto key not found")
	// ErrTokenExpiredOrRevoked is returned when a token exists but is no
	// longer eligible for use.
	ErrTokenExpiredOrRevoked = errors.New("token expired or revoked")
)
