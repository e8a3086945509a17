package services

import (
	"crypto/rand"
	"math/big"

	"go.pilab.hu/openauth/errors"
)

// VerifierFormat selects the alphabet verification codes are drawn from.
// Codes are shown to users and often retyped, so the default alphabet avoids
// look-alike characters.
type VerifierFormat string

const (
	// VerifierNumeric uses digits only.
	VerifierNumeric VerifierFormat = "numeric"
	// VerifierAlpha uses lowercase and uppercase letters.
	VerifierAlpha VerifierFormat = "alpha"
	// VerifierAlphaNumericNoLookalikes uses letters and digits excluding
	// 0/O/1/l/I and similar confusable glyphs.
	VerifierAlphaNumericNoLookalikes VerifierFormat = "alphanumeric"
)

const (
	numericAlphabet     = "0123456789"
	alphaAlphabet       = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	noLookalikeAlphabet = "23456789abcdefghjkmnpqrstwxyzABCDEFGHJKMNPQRSTWXYZ"
)

// GenerateVerificationCode draws length characters uniformly from the
// format's alphabet using the system CSPRNG.
func GenerateVerificationCode(format VerifierFormat, length int) (string, error) {
	if length <= 0 {
		return "", errors.NewHost("verification code length must be positive, got %d", length)
	}
	var alphabet string
	switch format {
	case VerifierNumeric:
		alphabet = numericAlphabet
	case VerifierAlpha:
		alphabet = alphaAlphabet
	case VerifierAlphaNumericNoLookalikes, "":
		alphabet = noLookalikeAlphabet
	default:
		return "", errors.NewHost("unknown verification code format %q", format)
	}
	max := big.NewInt(int64(len(alphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.WrapHost(err, "generating verification code")
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
