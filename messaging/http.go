package messaging

import (
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	oaerrors "go.pilab.hu/openauth/errors"
)

// maxIncomingBody bounds how much of a request or response body is read.
const maxIncomingBody = 1 << 20

// ExtractFields pulls candidate protocol fields out of an HTTP request:
// the Authorization header (when authScheme is non-empty and matches), the
// form-encoded body, and the query string. A field delivered through more
// than one source, or repeated within one, is ambiguous and rejected.
func ExtractFields(req *http.Request, authScheme string) (url.Values, error) {
	fields := url.Values{}
	merge := func(src url.Values) error {
		for name, values := range src {
			if len(values) > 1 {
				return oaerrors.NewValidation(name, "field %q supplied %d times", name, len(values))
			}
			if _, dup := fields[name]; dup {
				return oaerrors.NewValidation(name, "field %q delivered through more than one source", name)
			}
			fields.Set(name, values[0])
		}
		return nil
	}

	if authScheme != "" {
		if header := req.Header.Get("Authorization"); header != "" {
			headerFields, ok, err := ParseAuthorizationHeader(header, authScheme)
			if err != nil {
				return nil, err
			}
			if ok {
				if err := merge(headerFields); err != nil {
					return nil, err
				}
			}
		}
	}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" && req.Body != nil {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxIncomingBody))
		if err != nil {
			return nil, oaerrors.WrapHost(err, "reading request body")
		}
		bodyFields, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, oaerrors.NewValidation("", "malformed form-encoded body: %v", err)
		}
		if err := merge(bodyFields); err != nil {
			return nil, err
		}
	}

	if err := merge(req.URL.Query()); err != nil {
		return nil, err
	}
	return fields, nil
}

// ParseAuthorizationHeader decodes a `Scheme key="value", ...` header. The
// realm parameter is not a protocol field and is dropped. The second return
// is false when the header carries a different scheme.
func ParseAuthorizationHeader(header, scheme string) (url.Values, bool, error) {
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return nil, false, nil
	}
	rest := header[len(scheme):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return nil, false, nil
	}
	fields := url.Values{}
	for _, param := range strings.Split(rest, ",") {
		param = strings.TrimSpace(param)
		if param == "" {
			continue
		}
		name, quoted, found := strings.Cut(param, "=")
		if !found {
			return nil, false, oaerrors.NewValidation("", "malformed Authorization header parameter %q", param)
		}
		quoted = strings.TrimSpace(quoted)
		if len(quoted) < 2 || quoted[0] != '"' || quoted[len(quoted)-1] != '"' {
			return nil, false, oaerrors.NewValidation(name, "Authorization header parameter %q is not quoted", name)
		}
		name = strings.TrimSpace(name)
		if strings.EqualFold(name, "realm") {
			continue
		}
		decodedName, err := PercentDecode(name)
		if err != nil {
			return nil, false, err
		}
		decodedValue, err := PercentDecode(quoted[1 : len(quoted)-1])
		if err != nil {
			return nil, false, err
		}
		if _, dup := fields[decodedName]; dup {
			return nil, false, oaerrors.NewValidation(decodedName, "field %q supplied %d times", decodedName, 2)
		}
		fields.Set(decodedName, decodedValue)
	}
	return fields, true, nil
}

// BuildAuthorizationHeader renders fields as a `Scheme key="value", ...`
// header with percent-encoded keys and values, realm first when given.
func BuildAuthorizationHeader(scheme, realm string, fields url.Values) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteByte(' ')
	first := true
	if realm != "" {
		b.WriteString(`realm="`)
		b.WriteString(PercentEncode(realm))
		b.WriteByte('"')
		first = false
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(PercentEncode(k))
		b.WriteString(`="`)
		b.WriteString(PercentEncode(fields.Get(k)))
		b.WriteByte('"')
	}
	return b.String()
}

// RequestURL reconstructs the absolute URL a request was addressed to,
// honoring X-Forwarded-Proto when a proxy terminated TLS.
func RequestURL(req *http.Request) *url.URL {
	u := *req.URL
	u.Host = req.Host
	u.Scheme = "http"
	if req.TLS != nil {
		u.Scheme = "https"
	}
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		u.Scheme = proto
	}
	return &u
}

// IsTransportSecure reports whether a URI provides transport confidentiality.
func IsTransportSecure(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Scheme, "https")
}
