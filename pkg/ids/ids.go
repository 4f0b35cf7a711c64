// Package ids defines the fixed-length identifier and key types shared
// by every DSD envelope: 32-byte service/peer IDs, Ed25519 public and
// private keys, a 24-byte symmetric secret key, a 64-byte signature and
// a 16-byte request correlator. Every type is an opaque array wrapper
// with constant-time equality and hex debug formatting.
package ids

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ErrInvalidLength is returned when a byte slice handed to a FromBytes
// constructor does not match the type's fixed size.
var ErrInvalidLength = errors.New("ids: invalid length")

const (
	IDSize        = 32
	PublicKeySize = 32
	PrivateKeySize = 64
	SecretKeySize = 24
	SignatureSize = 64
	RequestIDSize = 16
)

// Id is a 32-byte service or peer identifier, typically H(PublicKey).
type Id [IDSize]byte

// IdFromBytes builds an Id from a slice, failing on any size mismatch.
func IdFromBytes(b []byte) (Id, error) {
	var id Id
	if len(b) != IDSize {
		return id, ErrInvalidLength
	}
	copy(id[:], b)
	return id, nil
}

// Equal reports whether id and other are byte-identical, in constant time.
func (id Id) Equal(other Id) bool {
	return subtle.ConstantTimeCompare(id[:], other[:]) == 1
}

// String renders the ID as lowercase hex.
func (id Id) String() string {
	return hex.EncodeToString(id[:])
}

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes builds a PublicKey from a slice.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, ErrInvalidLength
	}
	copy(pk[:], b)
	return pk, nil
}

func (pk PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pk[:], other[:]) == 1
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// PrivateKey is a 64-byte Ed25519 private key (seed || public key).
type PrivateKey [PrivateKeySize]byte

func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	var sk PrivateKey
	if len(b) != PrivateKeySize {
		return sk, ErrInvalidLength
	}
	copy(sk[:], b)
	return sk, nil
}

func (sk PrivateKey) String() string {
	return hex.EncodeToString(sk[:])
}

// Public returns the PublicKey half embedded in an Ed25519 private key.
func (sk PrivateKey) Public() PublicKey {
	var pk PublicKey
	copy(pk[:], sk[32:])
	return pk
}

// SecretKey is a 24-byte symmetric key used with the XSalsa20-Poly1305
// authenticated cipher to encrypt the data and secure-options regions.
type SecretKey [SecretKeySize]byte

func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	var k SecretKey
	if len(b) != SecretKeySize {
		return k, ErrInvalidLength
	}
	copy(k[:], b)
	return k, nil
}

func (k SecretKey) Equal(other SecretKey) bool {
	return subtle.ConstantTimeCompare(k[:], other[:]) == 1
}

// Signature is a 64-byte Ed25519 signature over an envelope prefix.
type Signature [SignatureSize]byte

func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureSize {
		return s, ErrInvalidLength
	}
	copy(s[:], b)
	return s, nil
}

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// RequestID is a 16-byte opaque correlator generated by the requester
// and echoed verbatim by the responder.
type RequestID [RequestIDSize]byte

func RequestIDFromBytes(b []byte) (RequestID, error) {
	var r RequestID
	if len(b) != RequestIDSize {
		return r, ErrInvalidLength
	}
	copy(r[:], b)
	return r, nil
}

func (r RequestID) Equal(other RequestID) bool {
	return subtle.ConstantTimeCompare(r[:], other[:]) == 1
}

func (r RequestID) String() string {
	return hex.EncodeToString(r[:])
}
