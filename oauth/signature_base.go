package oauth

import (
	"net/url"
	"sort"
	"strings"

	"go.pilab.hu/openauth/errors"
	"go.pilab.hu/openauth/messaging"
)

// SignatureBaseString builds the exact byte sequence a signature covers:
//
//	UPPER(method) "&" enc(endpoint) "&" enc(sorted params)
//
// where the endpoint is normalized (lowercase scheme and host, default port
// stripped, no query or fragment) and the params are every message part and
// endpoint query parameter except oauth_signature, percent-encoded, sorted by
// encoded key then encoded value, and joined as key=value pairs with "&".
// Verifier and signer must reproduce this byte-for-byte across
// implementations.
func SignatureBaseString(m *SignedRequest, outer messaging.Message) (string, error) {
	if m.recipient == nil {
		return "", errors.NewHost("cannot compute a signature base string without a recipient")
	}
	fields, err := messaging.Marshal(outer)
	if err != nil {
		return "", err
	}
	fields.Del("oauth_signature")
	for name, values := range m.recipient.Query() {
		for _, v := range values {
			fields.Add(name, v)
		}
	}

	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(fields))
	for name, values := range fields {
		for _, v := range values {
			pairs = append(pairs, pair{messaging.PercentEncode(name), messaging.PercentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	var params strings.Builder
	for i, p := range pairs {
		if i > 0 {
			params.WriteByte('&')
		}
		params.WriteString(p.key)
		params.WriteByte('=')
		params.WriteString(p.value)
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(m.httpMethod))
	b.WriteByte('&')
	b.WriteString(messaging.PercentEncode(normalizeEndpoint(m.recipient)))
	b.WriteByte('&')
	b.WriteString(messaging.PercentEncode(params.String()))
	return b.String(), nil
}

// normalizeEndpoint renders scheme://host[:port]/path with lowercase scheme
// and host, default ports stripped, and no query or fragment.
func normalizeEndpoint(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host + canonicalPath(u)
}

// canonicalPath returns the escaped path with the leading slash url.URL.String
// renders for host-carrying URLs. URLs built through JoinPath on a host-only
// base carry a slashless Path; signing and dispatch must not notice the
// difference.
func canonicalPath(u *url.URL) string {
	p := u.EscapedPath()
	if u.Host != "" && p != "" && !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
