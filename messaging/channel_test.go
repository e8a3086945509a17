package messaging

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oaerrors "go.pilab.hu/openauth/errors"
)

// chanRequest is a direct, fully protected request message for channel tests.
type chanRequest struct {
	Base
	Name      string    `msg:"name,required"`
	Created   time.Time `msg:"timestamp,required"`
	Nonce     string    `msg:"nonce,required"`
	Signature string    `msg:"signature"`

	recipient *url.URL
}

func (m *chanRequest) Version() Version            { return V10a }
func (m *chanRequest) Transport() Transport        { return TransportDirect }
func (m *chanRequest) Validate() error             { return nil }
func (m *chanRequest) Recipient() *url.URL         { return m.recipient }
func (m *chanRequest) Methods() DeliveryMethods    { return DeliverPost | DeliverAuthorizationHeader }
func (m *chanRequest) CreationTime() time.Time     { return m.Created }
func (m *chanRequest) SetCreationTime(t time.Time) { m.Created = t }
func (m *chanRequest) ReplayNonce() string         { return m.Nonce }
func (m *chanRequest) SetReplayNonce(n string)     { m.Nonce = n }
func (m *chanRequest) TamperProtected()            {}

// chanResponse answers a chanRequest.
type chanResponse struct {
	Base
	Echo string `msg:"echo,required"`

	request Message
}

func (m *chanResponse) Version() Version            { return V10a }
func (m *chanResponse) Transport() Transport        { return TransportDirect }
func (m *chanResponse) Validate() error             { return nil }
func (m *chanResponse) OriginatingRequest() Message { return m.request }

// chanRedirect is an indirect message for redirect tests.
type chanRedirect struct {
	Base
	Token string `msg:"token,required"`

	recipient *url.URL
}

func (m *chanRedirect) Version() Version         { return V10a }
func (m *chanRedirect) Transport() Transport     { return TransportIndirect }
func (m *chanRedirect) Validate() error          { return nil }
func (m *chanRedirect) Recipient() *url.URL      { return m.recipient }
func (m *chanRedirect) Methods() DeliveryMethods { return DeliverGet }

type chanFactory struct{}

func (chanFactory) NewRequestMessage(recipient *url.URL, fields url.Values) (Message, error) {
	if fields.Get("name") == "" {
		return nil, nil
	}
	return &chanRequest{recipient: recipient}, nil
}

func (chanFactory) NewResponseMessage(request Message, fields url.Values) (Message, error) {
	if fields.Get("echo") == "" {
		return nil, nil
	}
	return &chanResponse{request: request}, nil
}

// markSigner signs by writing a fixed marker, and records what the message
// looked like when signing ran.
type markSigner struct {
	sawTimestamp bool
	sawNonce     bool
}

func (s *markSigner) Protection() Protections { return ProtectionTamper }

func (s *markSigner) PrepareOutgoing(_ context.Context, m Message) (bool, error) {
	r, ok := m.(*chanRequest)
	if !ok {
		return false, nil
	}
	s.sawTimestamp = !r.Created.IsZero()
	s.sawNonce = r.Nonce != ""
	r.Signature = "valid"
	return true, nil
}

func (s *markSigner) PrepareIncoming(_ context.Context, m Message) (bool, error) {
	r, ok := m.(*chanRequest)
	if !ok {
		return false, nil
	}
	if r.Signature != "valid" {
		return false, oaerrors.NewSignature()
	}
	return true, nil
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func testChannel(signer BindingElement, opts ...Option) *Channel {
	elements := []BindingElement{
		NewExpirationElement(0),
		NewReplayElement(newMapNonceStore()),
	}
	if signer != nil {
		elements = append(elements, signer)
	}
	return NewChannel(chanFactory{}, FormCodec{}, elements, opts...)
}

func TestChannelSend(t *testing.T) {
	recipient := &url.URL{Scheme: "https", Host: "provider.example.net", Path: "/token"}

	t.Run("stamps, signs last and decodes the typed response", func(t *testing.T) {
		signer := &markSigner{}
		var sentBody url.Values
		client := doerFunc(func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			sentBody, _ = url.ParseQuery(string(body))
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}},
				Body:       io.NopCloser(strings.NewReader("echo=hello")),
			}, nil
		})
		c := testChannel(signer, WithHTTPClient(client))

		resp, err := c.Send(context.Background(), &chanRequest{Name: "hello", recipient: recipient})
		require.NoError(t, err)

		assert.True(t, signer.sawTimestamp, "signature must cover the timestamp stamp")
		assert.True(t, signer.sawNonce, "signature must cover the nonce stamp")
		assert.Equal(t, "hello", sentBody.Get("name"))
		assert.Equal(t, "valid", sentBody.Get("signature"))

		echoed, ok := resp.Message.(*chanResponse)
		require.True(t, ok)
		assert.Equal(t, "hello", echoed.Echo)
	})

	t.Run("refuses a message without a recipient", func(t *testing.T) {
		c := testChannel(&markSigner{})
		_, err := c.Send(context.Background(), &chanRequest{Name: "hello"})
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultHost))
	})

	t.Run("refuses when a required protection has no element", func(t *testing.T) {
		c := testChannel(nil)
		_, err := c.Send(context.Background(), &chanRequest{Name: "hello", recipient: recipient})
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultHost))
	})

	t.Run("non-200 responses surface the remote body", func(t *testing.T) {
		client := doerFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusUnauthorized,
				Body:       io.NopCloser(strings.NewReader("oauth_problem=nonce_used")),
			}, nil
		})
		c := testChannel(&markSigner{}, WithHTTPClient(client))
		_, err := c.Send(context.Background(), &chanRequest{Name: "hello", recipient: recipient})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Contains(t, err.Error(), "nonce_used")
	})
}

func TestChannelReceive(t *testing.T) {
	buildRequest := func(t *testing.T, c *Channel) *http.Request {
		t.Helper()
		m := &chanRequest{
			Name:      "hello",
			recipient: &url.URL{Scheme: "http", Host: "provider.local", Path: "/token"},
		}
		require.NoError(t, c.processOutgoing(context.Background(), m))
		fields, err := Marshal(m)
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "http://provider.local/token",
			bytes.NewReader([]byte(fields.Encode())))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	t.Run("verifies a well-formed request", func(t *testing.T) {
		c := testChannel(&markSigner{})
		m, err := c.Receive(context.Background(), buildRequest(t, c))
		require.NoError(t, err)
		r, ok := m.(*chanRequest)
		require.True(t, ok)
		assert.Equal(t, "hello", r.Name)
		assert.Equal(t, "provider.local", r.recipient.Host)
	})

	t.Run("unrecognized requests yield nil, nil", func(t *testing.T) {
		c := testChannel(&markSigner{})
		req := httptest.NewRequest("GET", "http://provider.local/token?foo=bar", nil)
		m, err := c.Receive(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("replayed requests fault with attribution", func(t *testing.T) {
		c := testChannel(&markSigner{})
		req := buildRequest(t, c)
		body, _ := io.ReadAll(req.Body)

		first := httptest.NewRequest("POST", "http://provider.local/token", bytes.NewReader(body))
		first.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		_, err := c.Receive(context.Background(), first)
		require.NoError(t, err)

		second := httptest.NewRequest("POST", "http://provider.local/token", bytes.NewReader(body))
		second.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		_, err = c.Receive(context.Background(), second)
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultReplay))

		var pe *oaerrors.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.NotNil(t, pe.Recipient)
		assert.Equal(t, "hello", pe.Fields.Get("name"))
	})

	t.Run("bad signature faults without detail", func(t *testing.T) {
		c := testChannel(&markSigner{})
		req := buildRequest(t, c)
		body, _ := io.ReadAll(req.Body)
		tampered := strings.Replace(string(body), "signature=valid", "signature=forged", 1)
		forged := httptest.NewRequest("POST", "http://provider.local/token", strings.NewReader(tampered))
		forged.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		_, err := c.Receive(context.Background(), forged)
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultSignature))
		assert.NotContains(t, err.Error(), "forged")
	})

	t.Run("unverifiable signature is a signature fault", func(t *testing.T) {
		signing := testChannel(&markSigner{})
		receiving := testChannel(nil)
		_, err := receiving.Receive(context.Background(), buildRequest(t, signing))
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultSignature))
	})
}

func TestChannelPrepareResponse(t *testing.T) {
	t.Run("direct responses are form encoded with cache suppression", func(t *testing.T) {
		c := testChannel(&markSigner{})
		wr, err := c.PrepareResponse(context.Background(), &chanResponse{Echo: "hello"})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, wr.Status)
		assert.Equal(t, "application/x-www-form-urlencoded", wr.Header.Get("Content-Type"))
		assert.Equal(t, "no-store", wr.Header.Get("Cache-Control"))
		fields, err := url.ParseQuery(string(wr.Body))
		require.NoError(t, err)
		assert.Equal(t, "hello", fields.Get("echo"))
	})

	t.Run("short indirect messages redirect", func(t *testing.T) {
		c := testChannel(&markSigner{})
		m := &chanRedirect{Token: "t1", recipient: &url.URL{Scheme: "https", Host: "consumer.example.com", Path: "/ready"}}
		wr, err := c.PrepareResponse(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, http.StatusFound, wr.Status)
		loc, err := url.Parse(wr.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "consumer.example.com", loc.Host)
		assert.Equal(t, "t1", loc.Query().Get("token"))
	})

	t.Run("oversized indirect messages fall back to a form post", func(t *testing.T) {
		c := testChannel(&markSigner{})
		m := &chanRedirect{
			Token:     strings.Repeat("x", 4096),
			recipient: &url.URL{Scheme: "https", Host: "consumer.example.com", Path: "/ready"},
		}
		wr, err := c.PrepareResponse(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, wr.Status)
		assert.Contains(t, wr.Header.Get("Content-Type"), "text/html")
		assert.Contains(t, string(wr.Body), `method="POST"`)
		assert.Contains(t, string(wr.Body), "consumer.example.com")
	})
}

func TestChannelPrepareRequest(t *testing.T) {
	t.Run("without a header scheme fields travel in the POST body", func(t *testing.T) {
		c := testChannel(&markSigner{})
		m := &chanRequest{
			Name:      "hello",
			recipient: &url.URL{Scheme: "https", Host: "photos.example.net", Path: "/photos"},
		}
		m.ExtraData().Set("size", "original")

		req, err := c.PrepareRequest(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Empty(t, req.Header.Get("Authorization"))
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		fields, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		assert.Equal(t, "hello", fields.Get("name"))
		assert.Equal(t, "valid", fields.Get("signature"))
		assert.Equal(t, "original", fields.Get("size"))
	})

	t.Run("with a scheme declared parts ride the header, extra data the query", func(t *testing.T) {
		c := NewChannel(chanFactory{}, FormCodec{}, []BindingElement{
			NewExpirationElement(0), NewReplayElement(newMapNonceStore()), &markSigner{},
		}, WithAuthorizationScheme("OAuth", "Example"))
		m := &chanRequest{
			Name:      "hello",
			recipient: &url.URL{Scheme: "https", Host: "photos.example.net", Path: "/photos"},
		}
		m.ExtraData().Set("size", "original")

		req, err := c.PrepareRequest(context.Background(), m)
		require.NoError(t, err)
		header := req.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(header, "OAuth "))
		assert.Contains(t, header, `name="hello"`)
		assert.Contains(t, header, `signature="valid"`)
		assert.Equal(t, "original", req.URL.Query().Get("size"))
		assert.Empty(t, req.URL.Query().Get("name"))
	})
}
