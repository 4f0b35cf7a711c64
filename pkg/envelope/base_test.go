package envelope

import (
	"crypto/ed25519"
	"testing"

	"github.com/distsvc/dsd-core/pkg/dsdcrypto"
	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/option"
	"github.com/distsvc/dsd-core/pkg/wire"
)

var suite = dsdcrypto.Default{}

func genKeypair(t *testing.T) (ids.PublicKey, ids.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk ids.PublicKey
	var sk ids.PrivateKey
	copy(pk[:], pub)
	copy(sk[:], priv)
	return pk, sk
}

// requestIDOptionsRegion builds a public-options region holding
// exactly one RequestId option: 20 bytes (4-byte header + 16-byte
// payload).
func requestIDOptionsRegion(t *testing.T, r ids.RequestID) []byte {
	t.Helper()
	opts := []option.Option{option.NewRequestID(r)}
	buf := make([]byte, option.EncodedLenAll(opts))
	w := wire.NewWriter(buf)
	if err := option.AppendAll(w, opts); err != nil {
		t.Fatalf("AppendAll: %v", err)
	}
	return buf
}

// TestEmptyPingSize checks that a Ping-shaped envelope with an empty
// body and a single RequestId option totals 44 (prefix) + 0 (data) +
// 0 (secure) + 20 (public) + 64 (sig) = 128 bytes.
func TestEmptyPingSize(t *testing.T) {
	pk, sk := genKeypair(t)
	var reqID ids.RequestID
	for i := range reqID {
		reqID[i] = byte(i)
	}
	publicOpts := requestIDOptionsRegion(t, reqID)
	if len(publicOpts) != 20 {
		t.Fatalf("RequestId region length = %d, want 20", len(publicOpts))
	}

	id := suite.DeriveID(pk)
	h := Header{Kind: 0x8000, ID: id}
	buf := make([]byte, 256)
	n, err := Encode(buf, h, nil, nil, publicOpts, suite, sk, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != 128 {
		t.Fatalf("encoded length = %d, want 128", n)
	}
}

// TestFindNodesSize checks the total length of a FindNodes-shaped
// envelope carrying a 32-byte target and one RequestId option.
func TestFindNodesSize(t *testing.T) {
	pk, sk := genKeypair(t)
	var reqID ids.RequestID
	publicOpts := requestIDOptionsRegion(t, reqID)

	target := make([]byte, 32)
	for i := range target {
		target[i] = 0xAA
	}

	id := suite.DeriveID(pk)
	h := Header{Kind: 0x8001, ID: id}
	buf := make([]byte, 256)
	n, err := Encode(buf, h, target, nil, publicOpts, suite, sk, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != 160 {
		t.Fatalf("encoded length = %d, want 160", n)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	pubKeyOpt := option.NewPubKey(pk)
	opts := []option.Option{pubKeyOpt, option.NewIssued(1_700_000_000_000), option.NewExpiry(1_700_003_600_000)}
	buf2 := make([]byte, option.EncodedLenAll(opts))
	w := wire.NewWriter(buf2)
	option.AppendAll(w, opts)

	h := Header{Kind: 0x0001, Version: 1, ID: id}
	buf := make([]byte, 512)
	n, err := Encode(buf, h, []byte("hello"), nil, buf2, suite, sk, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n], nil, nil, suite, nil, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(decoded.Data) != "hello" {
		t.Fatalf("Data = %q, want %q", decoded.Data, "hello")
	}
	if !decoded.Header.ID.Equal(id) {
		t.Fatal("decoded id does not match original")
	}
	if decoded.Header.Kind != h.Kind || decoded.Header.Version != h.Version {
		t.Fatalf("decoded header = %+v, want kind=%#x version=%d", decoded.Header, h.Kind, h.Version)
	}
}

// TestStability checks that re-encoding a decoded envelope reproduces
// the original bytes exactly.
func TestStability(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	opts := []option.Option{option.NewPubKey(pk)}
	region := make([]byte, option.EncodedLenAll(opts))
	w := wire.NewWriter(region)
	option.AppendAll(w, opts)

	h := Header{Kind: 1, ID: id}
	buf := make([]byte, 512)
	n, err := Encode(buf, h, nil, nil, region, suite, sk, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	original := append([]byte(nil), buf[:n]...)

	decoded, err := Decode(original, nil, nil, suite, nil, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	reencode := make([]byte, 512)
	m, err := Encode(reencode, decoded.Header, decoded.Data, decoded.SecureOptions, decoded.PublicOptions, suite, sk, nil)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if string(reencode[:m]) != string(original) {
		t.Fatal("re-encoding a decoded envelope did not reproduce the original bytes")
	}
}

// TestTamperDetection checks that any single-byte mutation of the
// signed prefix invalidates the envelope.
func TestTamperDetection(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	opts := []option.Option{option.NewPubKey(pk)}
	region := make([]byte, option.EncodedLenAll(opts))
	w := wire.NewWriter(region)
	option.AppendAll(w, opts)

	h := Header{Kind: 1, ID: id}
	buf := make([]byte, 512)
	n, err := Encode(buf, h, []byte("payload"), nil, region, suite, sk, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	signedLen := n - ids.SignatureSize

	// A single-byte mutation anywhere in the signed prefix must cause
	// decode to reject the envelope. Most mutations surface as
	// ErrSignatureInvalid or ErrIdKeyMismatch directly; a mutation that
	// corrupts an option's kind/length header can instead surface as a
	// structural parse error before the signature is even checked; both
	// outcomes satisfy the property that no mutated envelope decodes
	// successfully.
	for i := 0; i < signedLen; i++ {
		mutated := append([]byte(nil), buf[:n]...)
		mutated[i] ^= 0x01
		if _, err := Decode(mutated, nil, nil, suite, nil, true); err == nil {
			t.Fatalf("mutating byte %d: Decode succeeded, want an error", i)
		}
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	var symKey ids.SecretKey
	for i := range symKey {
		symKey[i] = byte(i)
	}
	opts := []option.Option{option.NewPubKey(pk)}
	region := make([]byte, option.EncodedLenAll(opts))
	w := wire.NewWriter(region)
	option.AppendAll(w, opts)

	secureOpts := []option.Option{option.NewMetadata("secret", "shh")}
	secureRegion := make([]byte, option.EncodedLenAll(secureOpts))
	sw := wire.NewWriter(secureRegion)
	option.AppendAll(sw, secureOpts)

	h := Header{Kind: 1, ID: id}
	buf := make([]byte, 512)
	n, err := Encode(buf, h, []byte("plaintext data"), secureRegion, region, suite, sk, &symKey)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(buf[:n], nil, &symKey, suite, nil, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.WasEncrypted || !decoded.Decrypted {
		t.Fatal("expected WasEncrypted and Decrypted to both be true")
	}
	if string(decoded.Data) != "plaintext data" {
		t.Fatalf("Data = %q, want %q", decoded.Data, "plaintext data")
	}
	parsed, err := option.Parse(decoded.SecureOptions, false)
	if err != nil {
		t.Fatalf("Parse secure options: %v", err)
	}
	metaOpt, found := option.FindOne(parsed.Options, option.Metadata)
	if !found {
		t.Fatal("decrypted secure options missing Metadata")
	}
	k, v, err := metaOpt.AsMetadata()
	if err != nil || k != "secret" || v != "shh" {
		t.Fatalf("AsMetadata = (%q, %q, %v), want (secret, shh, nil)", k, v, err)
	}
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	var symKey, wrongKey ids.SecretKey
	for i := range symKey {
		symKey[i] = byte(i)
		wrongKey[i] = byte(i + 1)
	}

	h := Header{Kind: 1, ID: id}
	buf := make([]byte, 512)
	n, err := Encode(buf, h, []byte("secret payload"), nil, nil, suite, sk, &symKey)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if _, err := Decode(buf[:n], nil, &wrongKey, suite, &pk, false); err != ErrDecryptFailed {
		t.Fatalf("Decode with wrong key: got %v, want ErrDecryptFailed", err)
	}
}

func TestReservedBitsRejected(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	h := Header{Kind: 1, Flags: 0x80, ID: id}
	buf := make([]byte, 256)
	if _, err := Encode(buf, h, nil, nil, nil, suite, sk, nil); err != ErrReservedBitsSet {
		t.Fatalf("Encode with reserved bit set: got %v, want ErrReservedBitsSet", err)
	}
}

func TestAllRegionLengthsAreAligned(t *testing.T) {
	pk, sk := genKeypair(t)
	id := suite.DeriveID(pk)
	opts := []option.Option{option.NewPubKey(pk)}
	region := make([]byte, option.EncodedLenAll(opts))
	w := wire.NewWriter(region)
	option.AppendAll(w, opts)

	h := Header{Kind: 1, ID: id}
	buf := make([]byte, 256)
	n, err := Encode(buf, h, []byte("x"), []byte("yz"), region, suite, sk, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(buf[:n], nil, nil, suite, nil, true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.DataLen%4 != 0 || decoded.SecureOptionsLen%4 != 0 || decoded.PublicOptionsLen%4 != 0 {
		t.Fatalf("region lengths not 4-byte aligned: %d %d %d", decoded.DataLen, decoded.SecureOptionsLen, decoded.PublicOptionsLen)
	}
}
