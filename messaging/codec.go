package messaging

import (
	"net/url"
	"sort"
	"strings"

	oaerrors "go.pilab.hu/openauth/errors"
)

// WireCodec encodes and decodes the body of direct HTTP messages. The OAuth
// channel speaks form encoding; the OpenID channel speaks key-value form for
// direct responses.
type WireCodec interface {
	// ContentType returns the MIME type of encoded bodies.
	ContentType() string
	// EncodeBody renders fields as a body.
	EncodeBody(fields url.Values) ([]byte, error)
	// DecodeBody parses a body back into fields.
	DecodeBody(data []byte) (url.Values, error)
}

// FormCodec is application/x-www-form-urlencoded.
type FormCodec struct{}

// ContentType implements WireCodec.
func (FormCodec) ContentType() string { return "application/x-www-form-urlencoded" }

// EncodeBody implements WireCodec.
func (FormCodec) EncodeBody(fields url.Values) ([]byte, error) {
	return []byte(fields.Encode()), nil
}

// DecodeBody implements WireCodec.
func (FormCodec) DecodeBody(data []byte) (url.Values, error) {
	fields, err := url.ParseQuery(string(data))
	if err != nil {
		return nil, oaerrors.NewValidation("", "malformed form-encoded body: %v", err)
	}
	return fields, nil
}

// KVFormCodec is OpenID key-value form. Encoded output is strict and sorted
// by key for a deterministic byte sequence; decoding honors Mode.
type KVFormCodec struct {
	Mode KVMode
}

// ContentType implements WireCodec.
func (KVFormCodec) ContentType() string { return "text/plain; charset=utf-8" }

// EncodeBody implements WireCodec.
func (c KVFormCodec) EncodeBody(fields url.Values) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]KVPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, KVPair{Key: k, Value: fields.Get(k)})
	}
	return EncodeKV(pairs)
}

// DecodeBody implements WireCodec.
func (c KVFormCodec) DecodeBody(data []byte) (url.Values, error) {
	pairs, err := DecodeKV(data, c.Mode)
	if err != nil {
		return nil, err
	}
	return KVValues(pairs), nil
}

// unreserved characters per RFC 3986 section 2.3, the only bytes never
// percent-encoded on the OAuth wire.
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	}
	return false
}

const upperhex = "0123456789ABCDEF"

// PercentEncode applies strict RFC 3986 percent-encoding: every byte outside
// the unreserved set becomes %XX with uppercase hex. This is the encoding the
// signature base string and the Authorization header require; it is not
// interchangeable with query escaping, which emits '+' for spaces.
func PercentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0xf])
	}
	return b.String()
}

// PercentDecode reverses PercentEncode. '+' is left alone; it is not a space
// on this wire.
func PercentDecode(s string) (string, error) {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return "", oaerrors.NewValidation("", "malformed percent-encoding in %q", s)
	}
	return decoded, nil
}
