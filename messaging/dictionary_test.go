package messaging

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oaerrors "go.pilab.hu/openauth/errors"
)

type dictMessage struct {
	Base
	Name     string    `msg:"name,required"`
	Note     string    `msg:"note"`
	Blank    string    `msg:"blank,required,empty"`
	Count    int       `msg:"count"`
	Enabled  bool      `msg:"enabled"`
	Stamp    time.Time `msg:"stamp"`
	Callback *url.URL  `msg:"callback"`
}

func (m *dictMessage) Version() Version     { return V10a }
func (m *dictMessage) Transport() Transport { return TransportDirect }
func (m *dictMessage) Validate() error      { return nil }

func TestMarshal(t *testing.T) {
	t.Run("declared parts and extra data", func(t *testing.T) {
		stamp := time.Date(2009, 7, 21, 12, 0, 0, 0, time.UTC)
		m := &dictMessage{
			Name:     "photos",
			Count:    3,
			Enabled:  true,
			Stamp:    stamp,
			Callback: &url.URL{Scheme: "https", Host: "printer.example.com", Path: "/ready"},
		}
		m.ExtraData().Set("scope", "read")

		fields, err := Marshal(m)
		require.NoError(t, err)
		assert.Equal(t, "photos", fields.Get("name"))
		assert.Equal(t, "3", fields.Get("count"))
		assert.Equal(t, "true", fields.Get("enabled"))
		assert.Equal(t, "1248177600", fields.Get("stamp"))
		assert.Equal(t, "https://printer.example.com/ready", fields.Get("callback"))
		assert.Equal(t, "read", fields.Get("scope"))
	})

	t.Run("empty optional parts are omitted", func(t *testing.T) {
		fields, err := Marshal(&dictMessage{Name: "photos"})
		require.NoError(t, err)
		assert.NotContains(t, fields, "note")
		assert.NotContains(t, fields, "count")
		assert.NotContains(t, fields, "stamp")
		assert.NotContains(t, fields, "callback")
	})

	t.Run("required part allowing empty is kept", func(t *testing.T) {
		fields, err := Marshal(&dictMessage{Name: "photos"})
		require.NoError(t, err)
		values, present := fields["blank"]
		require.True(t, present)
		assert.Equal(t, []string{""}, values)
	})

	t.Run("empty required part faults", func(t *testing.T) {
		_, err := Marshal(&dictMessage{})
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultValidation))
	})

	t.Run("extra data colliding with a declared part faults", func(t *testing.T) {
		m := &dictMessage{Name: "photos"}
		m.ExtraData().Set("name", "shadow")
		_, err := Marshal(m)
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultValidation))
	})
}

func TestUnmarshal(t *testing.T) {
	t.Run("declared parts are decoded, the rest is extra data", func(t *testing.T) {
		fields := url.Values{
			"name":     {"photos"},
			"blank":    {""},
			"count":    {"7"},
			"enabled":  {"1"},
			"stamp":    {"1248177600"},
			"callback": {"https://printer.example.com/ready"},
			"scope":    {"read write"},
		}
		var m dictMessage
		require.NoError(t, Unmarshal(fields, &m))
		assert.Equal(t, "photos", m.Name)
		assert.Equal(t, 7, m.Count)
		assert.True(t, m.Enabled)
		assert.Equal(t, time.Date(2009, 7, 21, 12, 0, 0, 0, time.UTC), m.Stamp)
		require.NotNil(t, m.Callback)
		assert.Equal(t, "printer.example.com", m.Callback.Host)
		assert.Equal(t, "read write", m.ExtraData().Get("scope"))
		assert.Empty(t, m.ExtraData().Get("name"))
	})

	t.Run("missing required part faults", func(t *testing.T) {
		err := Unmarshal(url.Values{"blank": {""}}, &dictMessage{})
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultValidation))
		assert.Contains(t, err.Error(), `required part "name" is missing`)
	})

	t.Run("multi-valued part is ambiguous", func(t *testing.T) {
		fields := url.Values{"name": {"a", "b"}, "blank": {""}}
		err := Unmarshal(fields, &dictMessage{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `part "name" supplied 2 times`)
	})

	t.Run("multi-valued extra data is ambiguous", func(t *testing.T) {
		fields := url.Values{"name": {"photos"}, "blank": {""}, "scope": {"read", "write"}}
		err := Unmarshal(fields, &dictMessage{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `part "scope" supplied 2 times`)
	})

	t.Run("empty required part faults", func(t *testing.T) {
		err := Unmarshal(url.Values{"name": {""}, "blank": {""}}, &dictMessage{})
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultValidation))
	})

	t.Run("malformed integer names the part", func(t *testing.T) {
		fields := url.Values{"name": {"photos"}, "blank": {""}, "count": {"seven"}}
		err := Unmarshal(fields, &dictMessage{})
		require.Error(t, err)
		var pe *oaerrors.ProtocolError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "count", pe.Part)
	})
}

type signedDictMessage struct {
	Base
	Mode   string `msg:"openid.mode,required,signed"`
	Handle string `msg:"openid.assoc_handle,signed"`
	NS     string `msg:"openid.ns"`
}

func (m *signedDictMessage) Version() Version     { return OpenID20 }
func (m *signedDictMessage) Transport() Transport { return TransportDirect }
func (m *signedDictMessage) Validate() error      { return nil }

func TestDescribeSignedParts(t *testing.T) {
	d, err := Describe(&signedDictMessage{})
	require.NoError(t, err)
	assert.Equal(t, []string{"openid.mode", "openid.assoc_handle"}, d.SignedParts())
}
