package dsdcrypto

import (
	"crypto/sha512"
	"errors"
	"math/big"

	"github.com/distsvc/dsd-core/pkg/ids"
)

// ErrInvalidPoint is returned when a claimed Ed25519 public key does
// not decode to a point on the curve.
var ErrInvalidPoint = errors.New("dsdcrypto: invalid Ed25519 point")

// p25519 is the field prime 2^255 - 19 underlying both Curve25519 and
// Edwards25519.
var p25519 = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 255)
	return p.Sub(p, big.NewInt(19))
}()

// DeriveX25519PublicKey converts an Ed25519 public key to the X25519
// public key used for key exchange, so one identity keypair serves
// both signing and key agreement. This is the
// standard birational map between the twisted Edwards and Montgomery
// curve models: u = (1+y)/(1-y) mod p, where y is the curve's
// little-endian y-coordinate recovered from the compressed Ed25519
// point (the top bit of the last byte, which carries the x-coordinate
// sign, is not part of y and must be cleared first).
func DeriveX25519PublicKey(pk ids.PublicKey) ([32]byte, error) {
	yBytes := make([]byte, 32)
	copy(yBytes, pk[:])
	yBytes[31] &^= 0x80 // clear the sign bit to recover y alone

	// decode little-endian
	y := new(big.Int)
	for i := 31; i >= 0; i-- {
		y.Lsh(y, 8)
		y.Or(y, big.NewInt(int64(yBytes[i])))
	}
	if y.Cmp(p25519) >= 0 {
		return [32]byte{}, ErrInvalidPoint
	}

	one := big.NewInt(1)
	num := new(big.Int).Add(one, y)
	num.Mod(num, p25519)
	den := new(big.Int).Sub(one, y)
	den.Mod(den, p25519)
	denInv := new(big.Int).ModInverse(den, p25519)
	if denInv == nil {
		return [32]byte{}, ErrInvalidPoint
	}
	u := new(big.Int).Mul(num, denInv)
	u.Mod(u, p25519)

	var out [32]byte
	uBytes := u.Bytes() // big-endian, shorter than 32 bytes for small u
	for i := 0; i < len(uBytes); i++ {
		out[i] = uBytes[len(uBytes)-1-i]
	}
	return out, nil
}

// DeriveX25519PrivateKey converts an Ed25519 private key's seed into
// the clamped X25519 scalar used for key exchange. This mirrors how
// Ed25519 itself derives its internal signing scalar (SHA-512 of the
// 32-byte seed, clamped per RFC 7748 §5): the two curves deliberately
// share this derivation so that a single Ed25519 keypair can serve
// both signing and key agreement.
func DeriveX25519PrivateKey(sk ids.PrivateKey) [32]byte {
	seed := sk[:32]
	h := sha512.Sum512(seed)
	var scalar [32]byte
	copy(scalar[:], h[:32])
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64
	return scalar
}
