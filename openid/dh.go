package openid

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // protocol-mandated algorithm
	"crypto/sha256"
	"math/big"

	"go.pilab.hu/openauth/errors"
)

// defaultModulusHex is the 1024-bit prime every OpenID 2.0 implementation
// must support when dh_modulus is absent.
const defaultModulusHex = "DCF93A0B883972EC0E19989AC5A2CE310E1D37717E8D9571BB7623731866E61E" +
	"F75A2E27898B057F9891C2E27A639C3F29B60814581CD3B2CA3986D268370557" +
	"7D45C2E7E52DC81C7A171876E5CEA74B1448BFDFAF18828EFD2519F14E45E382" +
	"6634AF1949E5B535CC829A483B8A76223E5D490A257F05BDFF16F2FB22C583AB"

// DefaultModulus returns the OpenID 2.0 default DH modulus.
func DefaultModulus() *big.Int {
	p, _ := new(big.Int).SetString(defaultModulusHex, 16)
	return p
}

// DefaultGenerator returns the OpenID 2.0 default DH generator.
func DefaultGenerator() *big.Int { return big.NewInt(2) }

// DiffieHellman holds one side's key pair for an association session.
type DiffieHellman struct {
	P *big.Int
	G *big.Int

	private *big.Int
	public  *big.Int
}

// NewDiffieHellman generates a key pair over the given group; nil p or g
// selects the OpenID 2.0 defaults.
func NewDiffieHellman(p, g *big.Int) (*DiffieHellman, error) {
	if p == nil {
		p = DefaultModulus()
	}
	if g == nil {
		g = DefaultGenerator()
	}
	// private exponent in [1, p-2]
	max := new(big.Int).Sub(p, big.NewInt(2))
	x, err := rand.Int(rand.Reader, max)
	if err != nil {
		return nil, errors.WrapHost(err, "generating DH private key")
	}
	x.Add(x, big.NewInt(1))
	return &DiffieHellman{
		P:       p,
		G:       g,
		private: x,
		public:  new(big.Int).Exp(g, x, p),
	}, nil
}

// PublicKey returns this side's public value in btwoc form, ready for
// base64 transmission as dh_consumer_public or dh_server_public.
func (d *DiffieHellman) PublicKey() []byte { return Btwoc(d.public) }

// SharedSecret computes the btwoc shared secret from the peer's public
// value.
func (d *DiffieHellman) SharedSecret(peerPublic []byte) ([]byte, error) {
	y := UnBtwoc(peerPublic)
	if y.Sign() <= 0 || y.Cmp(d.P) >= 0 {
		return nil, errors.NewValidation("dh_server_public", "peer public value out of range")
	}
	return Btwoc(new(big.Int).Exp(y, d.private, d.P)), nil
}

// Btwoc encodes a non-negative integer as the shortest big-endian two's
// complement byte string, which for positive values means a leading zero
// byte whenever the high bit is set.
func Btwoc(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) == 0 || b[0]&0x80 != 0 {
		b = append([]byte{0}, b...)
	}
	return b
}

// UnBtwoc is the inverse of Btwoc.
func UnBtwoc(b []byte) *big.Int { return new(big.Int).SetBytes(b) }

// MaskMACKey XORs the MAC key with the hash of the shared secret selected by
// the session type, producing enc_mac_key. Applying it twice unmasks.
func MaskMACKey(sessionType string, sharedSecret, macKey []byte) ([]byte, error) {
	var digest []byte
	switch sessionType {
	case SessionDHSHA1:
		d := sha1.Sum(sharedSecret) //nolint:gosec // protocol-mandated algorithm
		digest = d[:]
	case SessionDHSHA256:
		d := sha256.Sum256(sharedSecret)
		digest = d[:]
	default:
		return nil, errors.NewValidation("session_type", "unknown session type %q", sessionType)
	}
	if len(macKey) != len(digest) {
		return nil, errors.NewValidation("enc_mac_key", "MAC key length %d does not match session type %s", len(macKey), sessionType)
	}
	out := make([]byte, len(macKey))
	for i := range macKey {
		out[i] = macKey[i] ^ digest[i]
	}
	return out, nil
}

// SessionFor returns the session type matching an association type when the
// transport is not confidential.
func SessionFor(assocType string) string {
	if assocType == AssocHMACSHA256 {
		return SessionDHSHA256
	}
	return SessionDHSHA1
}
