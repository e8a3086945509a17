package messaging

import (
	"bytes"
	"net/url"
	"strings"

	oaerrors "go.pilab.hu/openauth/errors"
)

// KVMode selects how tolerant the key-value form decoder is.
type KVMode int

const (
	// KVStrict rejects missing colons, empty keys, embedded blank lines and
	// a missing final newline. Encoders always produce strict output.
	KVStrict KVMode = iota
	// KVLoose skips blank and colon-less lines and tolerates a missing final
	// newline, for compatibility with sloppy remote parties.
	KVLoose
)

// KVPair is one ordered key-value form line. Order matters: OpenID signs the
// byte sequence of the encoded lines.
type KVPair struct {
	Key   string
	Value string
}

// EncodeKV renders pairs as key-value form: `key:value\n` UTF-8 lines with a
// trailing newline. Keys and values must not contain newlines; keys must not
// contain colons.
func EncodeKV(pairs []KVPair) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range pairs {
		if strings.ContainsAny(p.Key, ":\n") {
			return nil, oaerrors.NewValidation(p.Key, "key-value form key %q contains a reserved character", p.Key)
		}
		if strings.Contains(p.Value, "\n") {
			return nil, oaerrors.NewValidation(p.Key, "key-value form value for %q contains a newline", p.Key)
		}
		buf.WriteString(p.Key)
		buf.WriteByte(':')
		buf.WriteString(p.Value)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// DecodeKV parses key-value form data into ordered pairs.
func DecodeKV(data []byte, mode KVMode) ([]KVPair, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[len(data)-1] != '\n' {
		if mode == KVStrict {
			return nil, oaerrors.NewValidation("", "key-value form data does not end with a newline")
		}
	} else {
		data = data[:len(data)-1]
	}
	var pairs []KVPair
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			if mode == KVStrict {
				return nil, oaerrors.NewValidation("", "key-value form data contains a blank line")
			}
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			if mode == KVStrict {
				return nil, oaerrors.NewValidation("", "key-value form line %q has no colon", line)
			}
			continue
		}
		if key == "" && mode == KVStrict {
			return nil, oaerrors.NewValidation("", "key-value form line %q has an empty key", line)
		}
		pairs = append(pairs, KVPair{Key: key, Value: value})
	}
	return pairs, nil
}

// KVValues converts decoded pairs to url.Values, last value winning, for
// handing to Unmarshal.
func KVValues(pairs []KVPair) url.Values {
	fields := url.Values{}
	for _, p := range pairs {
		fields.Set(p.Key, p.Value)
	}
	return fields
}
