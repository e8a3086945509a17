package messaging

import (
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oaerrors "go.pilab.hu/openauth/errors"
)

func TestBuildAuthorizationHeader(t *testing.T) {
	fields := url.Values{
		"oauth_consumer_key": {"dpf43f3p2l4k3l03"},
		"oauth_signature":    {"tR3+Ty81lMeYAr/Fid0kMTYa/WM="},
	}
	header := BuildAuthorizationHeader("OAuth", "http://photos.example.net/", fields)
	assert.True(t, strings.HasPrefix(header, `OAuth realm="http%3A%2F%2Fphotos.example.net%2F"`))
	assert.Contains(t, header, `oauth_consumer_key="dpf43f3p2l4k3l03"`)
	assert.Contains(t, header, `oauth_signature="tR3%2BTy81lMeYAr%2FFid0kMTYa%2FWM%3D"`)
}

func TestParseAuthorizationHeader(t *testing.T) {
	t.Run("roundtrip drops realm and decodes values", func(t *testing.T) {
		original := url.Values{
			"oauth_consumer_key": {"dpf43f3p2l4k3l03"},
			"oauth_signature":    {"tR3+Ty81lMeYAr/Fid0kMTYa/WM="},
		}
		header := BuildAuthorizationHeader("OAuth", "Example", original)
		fields, ok, err := ParseAuthorizationHeader(header, "OAuth")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, original, fields)
		assert.NotContains(t, fields, "realm")
	})

	t.Run("different scheme is not a match", func(t *testing.T) {
		_, ok, err := ParseAuthorizationHeader(`Bearer abc`, "OAuth")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unquoted parameter is malformed", func(t *testing.T) {
		_, _, err := ParseAuthorizationHeader(`OAuth oauth_token=abc`, "OAuth")
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultValidation))
	})

	t.Run("duplicate parameter is ambiguous", func(t *testing.T) {
		_, _, err := ParseAuthorizationHeader(`OAuth oauth_token="a", oauth_token="b"`, "OAuth")
		require.Error(t, err)
	})
}

func TestExtractFields(t *testing.T) {
	t.Run("merges header, body and query", func(t *testing.T) {
		req := httptest.NewRequest("POST", "http://provider.local/oauth/request_token?scope=read",
			strings.NewReader("oauth_callback=oob"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", `OAuth oauth_consumer_key="dpf43f3p2l4k3l03"`)

		fields, err := ExtractFields(req, "OAuth")
		require.NoError(t, err)
		assert.Equal(t, "dpf43f3p2l4k3l03", fields.Get("oauth_consumer_key"))
		assert.Equal(t, "oob", fields.Get("oauth_callback"))
		assert.Equal(t, "read", fields.Get("scope"))
	})

	t.Run("field delivered through two sources is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "http://provider.local/oauth/request_token?oauth_callback=oob",
			strings.NewReader("oauth_callback=oob"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		_, err := ExtractFields(req, "OAuth")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "more than one source")
	})

	t.Run("repeated query field is rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "http://provider.local/photos?size=small&size=large", nil)
		_, err := ExtractFields(req, "OAuth")
		require.Error(t, err)
		assert.True(t, oaerrors.IsKind(err, oaerrors.FaultValidation))
	})

	t.Run("foreign auth scheme is ignored", func(t *testing.T) {
		req := httptest.NewRequest("GET", "http://provider.local/photos", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		fields, err := ExtractFields(req, "OAuth")
		require.NoError(t, err)
		assert.Empty(t, fields)
	})
}

func TestRequestURL(t *testing.T) {
	req := httptest.NewRequest("GET", "http://provider.local/oauth/authorize?oauth_token=t1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	u := RequestURL(req)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "provider.local", u.Host)
	assert.Equal(t, "/oauth/authorize", u.Path)
}

func TestIsTransportSecure(t *testing.T) {
	assert.True(t, IsTransportSecure(&url.URL{Scheme: "https", Host: "example.com"}))
	assert.False(t, IsTransportSecure(&url.URL{Scheme: "http", Host: "example.com"}))
	assert.False(t, IsTransportSecure(nil))
}
