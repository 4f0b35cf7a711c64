// Package dsdcrypto is the crypto façade: a small capability set the
// envelope/page/message layers call through rather than hard-coding a
// cipher suite, so a caller can swap in a hardware signer or a
// FIPS-mode build without touching the codec. Default implements it
// with Ed25519 signatures, SHA-256 id derivation and XSalsa20-Poly1305
// symmetric encryption.
package dsdcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/distsvc/dsd-core/pkg/ids"
)

var (
	ErrSignatureInvalid = errors.New("dsdcrypto: signature invalid")
	ErrDecryptFailed    = errors.New("dsdcrypto: decrypt failed")
	ErrKeyMismatch      = errors.New("dsdcrypto: id does not match hash of public key")
)

// Suite is the capability set the codec layers depend on. Implementations
// must be pure functions with no hidden global state; a caller wiring in
// a non-reentrant library is responsible for its own serialization.
type Suite interface {
	DeriveID(pk ids.PublicKey) ids.Id
	Sign(sk ids.PrivateKey, body []byte) ids.Signature
	Verify(pk ids.PublicKey, body []byte, sig ids.Signature) bool
	Encrypt(sk ids.SecretKey, nonce [24]byte, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(sk ids.SecretKey, nonce [24]byte, ciphertext []byte) (plaintext []byte, err error)
	NewNonce() ([24]byte, error)
}

// Default is the reference Suite implementation.
type Default struct{}

// DeriveID computes Id = SHA-256(pk). The hash is fixed by the
// protocol; every implementation must derive byte-identical ids.
func (Default) DeriveID(pk ids.PublicKey) ids.Id {
	sum := sha256.Sum256(pk[:])
	return ids.Id(sum)
}

// Sign produces an Ed25519 signature over body.
func (Default) Sign(sk ids.PrivateKey, body []byte) ids.Signature {
	sig := ed25519.Sign(ed25519.PrivateKey(sk[:]), body)
	var out ids.Signature
	copy(out[:], sig)
	return out
}

// Verify checks an Ed25519 signature in constant time (ed25519.Verify
// already runs in constant time with respect to the signature itself).
func (Default) Verify(pk ids.PublicKey, body []byte, sig ids.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), body, sig[:])
}

// workingKey expands the protocol's 24-byte SecretKey into the 32-byte
// key XSalsa20-Poly1305 (golang.org/x/crypto/nacl/secretbox) requires.
// The expansion must stay stable: two holders of the same SecretKey
// have to derive the same cipher key.
func workingKey(sk ids.SecretKey) [32]byte {
	return blake2b.Sum256(sk[:])
}

// Encrypt seals plaintext (the concatenated data‖secure-options region)
// with XSalsa20-Poly1305, appending its 16-byte authentication tag.
func (Default) Encrypt(sk ids.SecretKey, nonce [24]byte, plaintext []byte) ([]byte, error) {
	key := workingKey(sk)
	return secretbox.Seal(nil, plaintext, &nonce, &key), nil
}

// Decrypt opens a ciphertext produced by Encrypt, failing with
// ErrDecryptFailed on tag mismatch (including when the wrong key is
// used).
func (Default) Decrypt(sk ids.SecretKey, nonce [24]byte, ciphertext []byte) ([]byte, error) {
	key := workingKey(sk)
	out, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return out, nil
}

// NewNonce returns 24 cryptographically random bytes.
func (Default) NewNonce() ([24]byte, error) {
	var n [24]byte
	_, err := rand.Read(n[:])
	return n, err
}

// ConstantTimeEqual reports whether a and b are byte-identical without
// leaking timing information; two slices of different lengths are never
// equal.
func ConstantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
