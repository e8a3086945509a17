package oauth

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendixRequest reproduces the signed photo request from OAuth Core 1.0
// Appendix A.5: consumer dpf43f3p2l4k3l03 fetching vacation.jpg with access
// token nnch734d00sl2jdk.
func appendixRequest(t *testing.T) *AccessProtectedRequest {
	t.Helper()
	resource, err := url.Parse("http://photos.example.net/photos?file=vacation.jpg&size=original")
	require.NoError(t, err)
	m := NewAccessProtectedRequest(resource, http.MethodGet, "dpf43f3p2l4k3l03", "nnch734d00sl2jdk")
	m.SignatureMethod = SignatureHMACSHA1
	m.Timestamp = time.Unix(1191242096, 0).UTC()
	m.Nonce = "kllo9940pd9333jh"
	return m
}

func TestSignatureBaseString(t *testing.T) {
	t.Run("reproduces the Appendix A.5 base string", func(t *testing.T) {
		m := appendixRequest(t)
		base, err := SignatureBaseString(m.signedRequest(), m)
		require.NoError(t, err)
		assert.Equal(t,
			"GET&http%3A%2F%2Fphotos.example.net%2Fphotos&file%3Dvacation.jpg%26"+
				"oauth_consumer_key%3Ddpf43f3p2l4k3l03%26oauth_nonce%3Dkllo9940pd9333jh%26"+
				"oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D1191242096%26"+
				"oauth_token%3Dnnch734d00sl2jdk%26oauth_version%3D1.0%26size%3Doriginal",
			base)
	})

	t.Run("excludes the signature itself", func(t *testing.T) {
		m := appendixRequest(t)
		m.Signature = "tR3+Ty81lMeYAr/Fid0kMTYa/WM="
		signed, err := SignatureBaseString(m.signedRequest(), m)
		require.NoError(t, err)
		m.Signature = ""
		unsigned, err := SignatureBaseString(m.signedRequest(), m)
		require.NoError(t, err)
		assert.Equal(t, unsigned, signed)
	})

	t.Run("normalizes default ports and case", func(t *testing.T) {
		endpoint, err := url.Parse("HTTP://Photos.Example.NET:80/photos")
		require.NoError(t, err)
		m := NewAccessProtectedRequest(endpoint, "get", "dpf43f3p2l4k3l03", "")
		m.SignatureMethod = SignatureHMACSHA1
		m.Timestamp = time.Unix(1191242096, 0).UTC()
		m.Nonce = "kllo9940pd9333jh"
		base, err := SignatureBaseString(m.signedRequest(), m)
		require.NoError(t, err)
		assert.Contains(t, base, "GET&http%3A%2F%2Fphotos.example.net%2Fphotos&")
	})

	t.Run("endpoints built with JoinPath sign like explicit paths", func(t *testing.T) {
		base, err := url.Parse("http://photos.example.net")
		require.NoError(t, err)
		joined := base.JoinPath("photos")
		explicit, err := url.Parse("http://photos.example.net/photos")
		require.NoError(t, err)

		request := func(endpoint *url.URL) string {
			m := NewAccessProtectedRequest(endpoint, http.MethodGet, "dpf43f3p2l4k3l03", "")
			m.SignatureMethod = SignatureHMACSHA1
			m.Timestamp = time.Unix(1191242096, 0).UTC()
			m.Nonce = "kllo9940pd9333jh"
			s, err := SignatureBaseString(m.signedRequest(), m)
			require.NoError(t, err)
			return s
		}
		assert.Equal(t, request(explicit), request(joined))
		assert.Contains(t, request(joined), "&http%3A%2F%2Fphotos.example.net%2Fphotos&")
	})

	t.Run("sorts repeated keys by value", func(t *testing.T) {
		endpoint, err := url.Parse("https://provider.example.net/list?tag=zebra&tag=ant")
		require.NoError(t, err)
		m := NewAccessProtectedRequest(endpoint, http.MethodGet, "dpf43f3p2l4k3l03", "")
		m.SignatureMethod = SignatureHMACSHA1
		m.Timestamp = time.Unix(1191242096, 0).UTC()
		m.Nonce = "kllo9940pd9333jh"
		base, err := SignatureBaseString(m.signedRequest(), m)
		require.NoError(t, err)
		assert.Contains(t, base, "tag%3Dant%26tag%3Dzebra")
	})

	t.Run("extra data is covered", func(t *testing.T) {
		endpoint, err := url.Parse("https://provider.example.net/photos")
		require.NoError(t, err)
		m := NewAccessProtectedRequest(endpoint, http.MethodGet, "dpf43f3p2l4k3l03", "")
		m.SignatureMethod = SignatureHMACSHA1
		m.Timestamp = time.Unix(1191242096, 0).UTC()
		m.Nonce = "kllo9940pd9333jh"
		m.ExtraData().Set("size", "original")
		base, err := SignatureBaseString(m.signedRequest(), m)
		require.NoError(t, err)
		assert.Contains(t, base, "size%3Doriginal")
	})

	t.Run("requires a recipient", func(t *testing.T) {
		m := &AccessProtectedRequest{}
		_, err := SignatureBaseString(m.signedRequest(), m)
		require.Error(t, err)
	})
}
