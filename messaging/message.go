// Package messaging implements the protocol message channel: typed messages
// with named parts are run through an ordered pipeline of security transforms
// (expiration stamping, replay-nonce marking, signing), serialized to one of
// several wire encodings and delivered over HTTP; incoming HTTP data is
// decoded back into typed messages and the same transforms are verified in
// reverse order.
package messaging

import (
	"net/url"
	"time"
)

// Version identifies the protocol revision a message belongs to.
type Version string

const (
	// V10 is OAuth 1.0.
	V10 Version = "1.0"
	// V10a is OAuth 1.0a (callback confirmation, verifier).
	V10a Version = "1.0a"
	// V20 is OAuth 2.0.
	V20 Version = "2.0"
	// OpenID20 is OpenID Authentication 2.0.
	OpenID20 Version = "openid-2.0"
)

// Transport distinguishes how a message travels.
type Transport int

const (
	// TransportDirect messages travel in a direct HTTP request/response pair.
	TransportDirect Transport = iota
	// TransportIndirect messages travel through the user agent as a redirect
	// or auto-submitted form; the "response" is a redirect description.
	TransportIndirect
)

// DeliveryMethods is a bitset of HTTP delivery methods a message supports.
type DeliveryMethods uint

const (
	// DeliverGet carries fields in the URL query string.
	DeliverGet DeliveryMethods = 1 << iota
	// DeliverPost carries fields in an application/x-www-form-urlencoded body.
	DeliverPost
	// DeliverAuthorizationHeader carries fields in an Authorization header.
	DeliverAuthorizationHeader
	// DeliverPut and DeliverDelete are accepted for protected-resource
	// requests; their fields travel like DeliverGet.
	DeliverPut
	DeliverDelete
)

// Has reports whether every method in m is present.
func (d DeliveryMethods) Has(m DeliveryMethods) bool { return d&m == m }

// Message is a typed protocol message: an ordered set of named parts declared
// through `msg` struct tags plus free-form extra data.
type Message interface {
	// Version returns the protocol revision this message belongs to.
	Version() Version
	// Transport returns whether the message travels directly or through the
	// user agent.
	Transport() Transport
	// ExtraData returns the mutable bag of parts not declared by the type.
	ExtraData() url.Values
	// Validate checks rules that reach beyond single-part presence checks.
	Validate() error
}

// Directed is a message with a known recipient endpoint.
type Directed interface {
	Message
	// Recipient returns the endpoint the message is addressed to.
	Recipient() *url.URL
	// Methods returns the HTTP delivery methods the message supports.
	Methods() DeliveryMethods
}

// Response is a direct response decoded from an HTTP response body.
type Response interface {
	Message
	// OriginatingRequest returns the request this message answers.
	OriginatingRequest() Message
}

// Expiring is a message carrying a creation timestamp subject to a maximum
// message age.
type Expiring interface {
	Message
	CreationTime() time.Time
	SetCreationTime(t time.Time)
}

// ReplayProtected is a message carrying a single-use nonce.
type ReplayProtected interface {
	Expiring
	ReplayNonce() string
	SetReplayNonce(nonce string)
}

// TamperResistant marks messages that must carry a verified signature.
// Signature mechanics are protocol-specific; the channel only accounts for
// the protection having been applied.
type TamperResistant interface {
	Message
	TamperProtected()
}

// Protections is a bitset of the security transforms applied to a message.
type Protections uint

const (
	// ProtectionTamper means the message was signed or its signature verified.
	ProtectionTamper Protections = 1 << iota
	// ProtectionExpiration means a creation timestamp was stamped or checked.
	ProtectionExpiration
	// ProtectionReplay means a nonce was stamped or consumed.
	ProtectionReplay

	// ProtectionNone is the empty set.
	ProtectionNone Protections = 0
)

// RequiredProtections derives the transforms a message's type demands from
// the interfaces it implements.
func RequiredProtections(m Message) Protections {
	p := ProtectionNone
	if _, ok := m.(TamperResistant); ok {
		p |= ProtectionTamper
	}
	if _, ok := m.(Expiring); ok {
		p |= ProtectionExpiration
	}
	if _, ok := m.(ReplayProtected); ok {
		p |= ProtectionReplay
	}
	return p
}

// Base carries the extra-data bag shared by message implementations. Embed it
// and implement the remaining Message methods on the outer type.
type Base struct {
	extra url.Values
}

// ExtraData implements Message.
func (b *Base) ExtraData() url.Values {
	if b.extra == nil {
		b.extra = url.Values{}
	}
	return b.extra
}
