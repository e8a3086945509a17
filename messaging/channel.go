package messaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	oaerrors "go.pilab.hu/openauth/errors"
)

// MessageFactory recognizes wire fields as concrete message types.
type MessageFactory interface {
	// NewRequestMessage returns an empty message of the type the fields
	// announce, or nil when the fields are not a recognizable message for
	// this channel.
	NewRequestMessage(recipient *url.URL, fields url.Values) (Message, error)

	// NewResponseMessage returns an empty message of the type that answers
	// the given request.
	NewResponseMessage(request Message, fields url.Values) (Message, error)
}

// Doer abstracts the HTTP client used for outbound direct requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebResponse describes the HTTP response a channel produced: a direct
// response body, or an indirect redirect for the user agent. For direct sends
// Message carries the decoded typed response.
type WebResponse struct {
	Status  int
	Header  http.Header
	Body    []byte
	Message Message
}

// WriteTo plays the response into an http.ResponseWriter.
func (r *WebResponse) WriteTo(w http.ResponseWriter) error {
	for name, values := range r.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}

// Channel is the single orchestration point for message processing. It has no
// mutable state of its own: every Send and Receive operates on an independent
// message instance, so concurrent requests need no channel-level locking.
type Channel struct {
	factory  MessageFactory
	codec    WireCodec
	outgoing []BindingElement // stamping first, signing last
	incoming []BindingElement // reverse of outgoing
	client   Doer

	authScheme string // Authorization header scheme, "" disables header delivery
	realm      string

	// indirectGetLimit is the longest redirect URL emitted before falling
	// back to a form-post page.
	indirectGetLimit int
}

// Option configures a Channel.
type Option func(*Channel)

// WithHTTPClient substitutes the outbound HTTP client.
func WithHTTPClient(client Doer) Option {
	return func(c *Channel) { c.client = client }
}

// WithAuthorizationScheme enables Authorization-header delivery under the
// given scheme (for OAuth, "OAuth") and realm.
func WithAuthorizationScheme(scheme, realm string) Option {
	return func(c *Channel) { c.authScheme = scheme; c.realm = realm }
}

// NewChannel assembles a channel over the given binding elements. Elements
// are ordered so that signing happens last on the way out — the signature
// must cover the expiration and nonce stamps — and first on the way in.
func NewChannel(factory MessageFactory, codec WireCodec, elements []BindingElement, opts ...Option) *Channel {
	c := &Channel{
		factory:          factory,
		codec:            codec,
		client:           &http.Client{Timeout: 30 * time.Second},
		indirectGetLimit: 2048,
	}
	for _, el := range elements {
		if el.Protection()&ProtectionTamper == 0 {
			c.outgoing = append(c.outgoing, el)
		}
	}
	for _, el := range elements {
		if el.Protection()&ProtectionTamper != 0 {
			c.outgoing = append(c.outgoing, el)
		}
	}
	c.incoming = make([]BindingElement, len(c.outgoing))
	for i, el := range c.outgoing {
		c.incoming[len(c.outgoing)-1-i] = el
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send processes and delivers an outgoing directed message. Direct messages
// are sent over HTTP and their typed response is returned; indirect messages
// yield the redirect response to hand to the user agent.
func (c *Channel) Send(ctx context.Context, m Message) (*WebResponse, error) {
	directed, ok := m.(Directed)
	if !ok || directed.Recipient() == nil {
		return nil, oaerrors.NewHost("cannot send a message of type %T with no recipient", m)
	}
	if err := c.processOutgoing(ctx, m); err != nil {
		return nil, err
	}
	if m.Transport() == TransportIndirect {
		return c.prepareIndirect(directed)
	}
	return c.roundTrip(ctx, directed)
}

// PrepareRequest processes a direct outgoing message and builds the signed
// HTTP request for it without performing the exchange, for callers that send
// through their own client.
func (c *Channel) PrepareRequest(ctx context.Context, m Message) (*http.Request, error) {
	directed, ok := m.(Directed)
	if !ok || directed.Recipient() == nil {
		return nil, oaerrors.NewHost("cannot prepare a message of type %T with no recipient", m)
	}
	if m.Transport() != TransportDirect {
		return nil, oaerrors.NewHost("only direct messages become HTTP requests")
	}
	if err := c.processOutgoing(ctx, m); err != nil {
		return nil, err
	}
	fields, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	return c.createHTTPRequest(ctx, directed, fields)
}

// PrepareResponse processes a message this host is answering with: a direct
// response is encoded into a body; an indirect message becomes a redirect.
func (c *Channel) PrepareResponse(ctx context.Context, m Message) (*WebResponse, error) {
	if err := c.processOutgoing(ctx, m); err != nil {
		return nil, err
	}
	if m.Transport() == TransportIndirect {
		directed, ok := m.(Directed)
		if !ok || directed.Recipient() == nil {
			return nil, oaerrors.NewHost("indirect message of type %T has no recipient", m)
		}
		return c.prepareIndirect(directed)
	}
	fields, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	body, err := c.codec.EncodeBody(fields)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", c.codec.ContentType())
	header.Set("Cache-Control", "no-store")
	header.Set("Pragma", "no-cache")
	return &WebResponse{Status: http.StatusOK, Header: header, Body: body, Message: m}, nil
}

// Receive decodes an inbound HTTP request into a typed message and verifies
// its transforms in reverse order. It returns (nil, nil) when the request
// carries no recognizable protocol message.
func (c *Channel) Receive(ctx context.Context, req *http.Request) (Message, error) {
	fields, err := ExtractFields(req, c.authScheme)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	recipient := RequestURL(req)
	m, err := c.factory.NewRequestMessage(recipient, fields)
	if err != nil {
		return nil, c.attribute(err, recipient, fields)
	}
	if m == nil {
		return nil, nil
	}
	if hm, ok := m.(interface{ SetHTTPMethod(string) }); ok {
		// Signatures cover the HTTP method the request traveled on.
		hm.SetHTTPMethod(req.Method)
	}
	if err := Unmarshal(fields, m); err != nil {
		return nil, c.attribute(err, recipient, fields)
	}
	if err := m.Validate(); err != nil {
		return nil, c.attribute(err, recipient, fields)
	}
	if err := c.processIncoming(ctx, m); err != nil {
		return nil, c.attribute(err, recipient, fields)
	}
	return m, nil
}

// ReceiveDirectResponse decodes the HTTP response to a direct request into
// the typed message answering it.
func (c *Channel) ReceiveDirectResponse(ctx context.Context, request Message, resp *http.Response) (Message, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIncomingBody))
	if err != nil {
		return nil, oaerrors.WrapHost(err, "reading direct response body")
	}
	fields, err := c.codec.DecodeBody(body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oaerrors.NewValidation("", "remote party answered %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	m, err := c.factory.NewResponseMessage(request, fields)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, oaerrors.NewValidation("", "remote party's response is not a recognizable message")
	}
	if err := Unmarshal(fields, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := c.processIncoming(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Channel) processOutgoing(ctx context.Context, m Message) error {
	applied := ProtectionNone
	for _, el := range c.outgoing {
		ok, err := el.PrepareOutgoing(ctx, m)
		if err != nil {
			return err
		}
		if ok {
			applied |= el.Protection()
		}
	}
	if missing := RequiredProtections(m) &^ applied; missing != 0 {
		return oaerrors.NewHost("message of type %T requires protections %b the channel cannot apply", m, missing)
	}
	return m.Validate()
}

func (c *Channel) processIncoming(ctx context.Context, m Message) error {
	applied := ProtectionNone
	for _, el := range c.incoming {
		ok, err := el.PrepareIncoming(ctx, m)
		if err != nil {
			return err
		}
		if ok {
			applied |= el.Protection()
		}
	}
	if missing := RequiredProtections(m) &^ applied; missing != 0 {
		if missing&ProtectionTamper != 0 {
			// An unverifiable signature is indistinguishable from a bad one.
			return oaerrors.NewSignature()
		}
		return oaerrors.NewValidation("", "message of type %T lacks required protections", m)
	}
	return nil
}

// roundTrip serializes a direct message per its preferred delivery method,
// performs the HTTP exchange and decodes the typed response.
func (c *Channel) roundTrip(ctx context.Context, m Directed) (*WebResponse, error) {
	fields, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	req, err := c.createHTTPRequest(ctx, m, fields)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("recipient", m.Recipient().String()).Str("method", req.Method).
		Msg("sending direct message")
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("direct request canceled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("direct request to %s failed: %w", m.Recipient(), err)
	}
	response, err := c.ReceiveDirectResponse(ctx, m, resp)
	if err != nil {
		return nil, err
	}
	return &WebResponse{Status: resp.StatusCode, Header: resp.Header, Message: response}, nil
}

// createHTTPRequest picks the first mutually supported delivery method in
// preference order: Authorization header, POST body, query string.
func (c *Channel) createHTTPRequest(ctx context.Context, m Directed, fields url.Values) (*http.Request, error) {
	methods := m.Methods()
	recipient := m.Recipient()
	switch {
	case c.authScheme != "" && methods.Has(DeliverAuthorizationHeader):
		// Declared parts ride in the header; extra data stays in the query
		// string where it remains covered by the signature base string.
		headerFields := url.Values{}
		extra := url.Values{}
		d, err := Describe(m)
		if err != nil {
			return nil, err
		}
		for name, values := range fields {
			if _, declared := d.byName[name]; declared {
				headerFields[name] = values
			} else {
				extra[name] = values
			}
		}
		target := *recipient
		if len(extra) > 0 {
			q := target.Query()
			for name, values := range extra {
				q[name] = values
			}
			target.RawQuery = q.Encode()
		}
		httpMethod := http.MethodGet
		if hm, ok := m.(interface{ HTTPMethod() string }); ok && hm.HTTPMethod() != "" {
			httpMethod = hm.HTTPMethod()
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, target.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", BuildAuthorizationHeader(c.authScheme, c.realm, headerFields))
		return req, nil

	case methods.Has(DeliverPost):
		body, err := c.codec.EncodeBody(fields)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", c.codec.ContentType())
		return req, nil

	case methods.Has(DeliverGet):
		target := *recipient
		q := target.Query()
		for name, values := range fields {
			q[name] = values
		}
		target.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)

	default:
		return nil, oaerrors.NewHost("message of type %T supports no delivery method this channel can use", m)
	}
}

// prepareIndirect renders a message traveling through the user agent: a 302
// redirect when the URL stays short enough, a self-submitting form otherwise.
func (c *Channel) prepareIndirect(m Directed) (*WebResponse, error) {
	fields, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	target := *m.Recipient()
	q := target.Query()
	for name, values := range fields {
		q[name] = values
	}
	target.RawQuery = q.Encode()

	if m.Methods().Has(DeliverGet) && len(target.String()) <= c.indirectGetLimit {
		header := http.Header{}
		header.Set("Location", target.String())
		header.Set("Cache-Control", "no-store")
		header.Set("Pragma", "no-cache")
		return &WebResponse{Status: http.StatusFound, Header: header}, nil
	}
	return c.formPostResponse(m.Recipient(), fields)
}

func (c *Channel) formPostResponse(action *url.URL, fields url.Values) (*WebResponse, error) {
	var b strings.Builder
	b.WriteString("<html><body onload=\"document.forms[0].submit()\">")
	fmt.Fprintf(&b, "<form method=\"POST\" action=%q>", html.EscapeString(action.String()))
	for name, values := range fields {
		for _, v := range values {
			fmt.Fprintf(&b, "<input type=\"hidden\" name=%q value=%q/>",
				html.EscapeString(name), html.EscapeString(v))
		}
	}
	b.WriteString("<noscript><input type=\"submit\" value=\"Continue\"/></noscript></form></body></html>")
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	return &WebResponse{Status: http.StatusOK, Header: header, Body: []byte(b.String())}, nil
}

// attribute fills in recipient and fields on protocol faults so the caller
// can answer with a well-formed protocol error response.
func (c *Channel) attribute(err error, recipient *url.URL, fields url.Values) error {
	var pe *oaerrors.ProtocolError
	if errors.As(err, &pe) && pe.Kind != oaerrors.FaultHost && pe.Recipient == nil {
		pe.Attribute(recipient, fields)
	}
	return err
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
