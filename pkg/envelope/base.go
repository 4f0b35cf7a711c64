// Package envelope implements Base, the common container shared by
// every Page and Message: a fixed header, three 4-byte-aligned regions
// (data, secure options, public options) and a trailing Ed25519
// signature. It carries the signing/verification and
// optional-encryption pipeline the rest of the codec is built on.
package envelope

import (
	"encoding/binary"
	"errors"

	"github.com/distsvc/dsd-core/pkg/dsdcrypto"
	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/option"
	"github.com/distsvc/dsd-core/pkg/wire"
)

// HeaderSize is the fixed 12-byte field prefix (kind/flags/reserved/
// version/three region lengths), before the 32-byte Id.
const HeaderSize = 12

// PrefixSize is HeaderSize+32: the offset at which the data region begins.
const PrefixSize = HeaderSize + ids.IDSize

// Header flag bits. Bits 3-7 are reserved and must be zero.
const (
	FlagSecondary      uint8 = 1 << 0
	FlagEncrypted      uint8 = 1 << 1
	FlagAddressRequest uint8 = 1 << 2
	flagsReservedMask  uint8 = 0xF8 // bits 3-7 must be zero
)

// KindMessageBit is the MSB of the 16-bit kind field: set iff the
// envelope is a Message, clear iff it is a Page.
const KindMessageBit uint16 = 0x8000

var (
	ErrBadAlignment       = errors.New("envelope: region length not 4-byte aligned")
	ErrFieldTooLong       = errors.New("envelope: region exceeds the 16-bit length field")
	ErrReservedBitsSet    = errors.New("envelope: reserved bits set")
	ErrTruncated          = errors.New("envelope: truncated")
	ErrLengthMismatch     = errors.New("envelope: declared length does not match slice")
	ErrNoPublicKey        = errors.New("envelope: no public key available to verify")
	ErrIdKeyMismatch      = dsdcrypto.ErrKeyMismatch
	ErrSignatureInvalid   = dsdcrypto.ErrSignatureInvalid
	ErrDecryptFailed      = dsdcrypto.ErrDecryptFailed
	ErrCiphertextTooSmall = errors.New("envelope: encrypted data region too small")
)

// Header carries the caller-supplied envelope fields; region lengths
// are derived from the actual content at encode time and are not part
// of this struct.
type Header struct {
	Kind    uint16
	Flags   uint8
	Version uint16
	ID      ids.Id
}

// Base is the fully decoded envelope: the header, the three region
// views (borrowed from the source slice, or owned plaintext when
// decryption was performed), and the signature.
type Base struct {
	Header            Header
	DataLen           uint16
	SecureOptionsLen  uint16
	PublicOptionsLen  uint16
	Data              []byte
	SecureOptions     []byte
	PublicOptions     []byte
	PublicOptionsView option.Parsed
	Signature         ids.Signature
	SignedLen         int // bytes [0:SignedLen) are what Signature covers
	WasEncrypted      bool
	Decrypted         bool
}

// IsMessage reports whether Kind's MSB marks this envelope a Message.
func (h Header) IsMessage() bool { return h.Kind&KindMessageBit != 0 }

// PublicKeyResolver looks up the signer's public key for an envelope
// whose id is known but whose PubKey option is absent (e.g. secondary
// pages, which carry PeerId rather than PubKey, and peer messages,
// where id already is the signer's identity). Returns ok=false if the
// key cannot be resolved.
type PublicKeyResolver func(id ids.Id) (ids.PublicKey, bool)

// frameEncryptedPlaintext frames the joint data‖secure-options plaintext
// with a 4-byte big-endian length prefix recording where data ends and
// secure-options begins, mirroring the length-prefixed wrapping
// pkg/protocol/padding.go uses for its own padded-message framing.
func frameEncryptedPlaintext(data, secureOpts []byte) []byte {
	out := make([]byte, 4+len(data)+len(secureOpts))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(data)))
	copy(out[4:], data)
	copy(out[4+len(data):], secureOpts)
	return out
}

func unframeEncryptedPlaintext(plain []byte) (data, secureOpts []byte, err error) {
	if len(plain) < 4 {
		return nil, nil, ErrCiphertextTooSmall
	}
	dataLen := binary.BigEndian.Uint32(plain[0:4])
	if 4+uint64(dataLen) > uint64(len(plain)) {
		return nil, nil, ErrCiphertextTooSmall
	}
	data = plain[4 : 4+dataLen]
	secureOpts = plain[4+dataLen:]
	return data, secureOpts, nil
}

// sealedDataRegion frames the wire bytes of the data region when
// ENCRYPTED is set: nonce(24) || cipherLen(u32BE) || ciphertext. The
// explicit length prefix lets decode recover exactly the sealed bytes
// even though the region as a whole is zero-padded to a 4-byte
// boundary afterwards.
func sealedDataRegion(nonce [24]byte, ciphertext []byte) []byte {
	out := make([]byte, 24+4+len(ciphertext))
	copy(out[0:24], nonce[:])
	binary.BigEndian.PutUint32(out[24:28], uint32(len(ciphertext)))
	copy(out[28:], ciphertext)
	return out
}

func unsealDataRegion(region []byte) (nonce [24]byte, ciphertext []byte, err error) {
	if len(region) < 28 {
		return nonce, nil, ErrCiphertextTooSmall
	}
	copy(nonce[:], region[0:24])
	cipherLen := binary.BigEndian.Uint32(region[24:28])
	if 28+uint64(cipherLen) > uint64(len(region)) {
		return nonce, nil, ErrCiphertextTooSmall
	}
	ciphertext = region[28 : 28+cipherLen]
	return nonce, ciphertext, nil
}

// Encode writes a complete Base envelope into buf: header, id,
// (optionally encrypted) data and secure options, public options, and
// the trailing signature. data and secureOpts are plaintext; secureOpts
// and publicOpts must already be serialized option regions (e.g. via
// option.AppendAll or option.Builder). When symKey is non-nil, data
// and secureOpts are sealed together under a fresh nonce and
// flags.ENCRYPTED is set; publicOpts is never encrypted. Returns the
// total number of bytes written.
func Encode(buf []byte, h Header, data, secureOpts, publicOpts []byte, suite dsdcrypto.Suite, signKey ids.PrivateKey, symKey *ids.SecretKey) (int, error) {
	if h.Flags&flagsReservedMask != 0 {
		return 0, ErrReservedBitsSet
	}

	w := wire.NewWriter(buf)
	if err := w.U16BE(h.Kind); err != nil {
		return 0, err
	}
	flags := h.Flags
	if symKey != nil {
		flags |= FlagEncrypted
	}
	if err := w.U8(flags); err != nil {
		return 0, err
	}
	if err := w.U8(0); err != nil { // reserved
		return 0, err
	}
	if err := w.U16BE(h.Version); err != nil {
		return 0, err
	}
	lenFieldsPos := w.Pos
	if err := w.U16BE(0); err != nil { // data_len placeholder
		return 0, err
	}
	if err := w.U16BE(0); err != nil { // secure_options_len placeholder
		return 0, err
	}
	if err := w.U16BE(0); err != nil { // public_options_len placeholder
		return 0, err
	}
	if err := w.Bytes(h.ID[:]); err != nil {
		return 0, err
	}

	dataStart := w.Pos
	var dataLen, secureOptsLen int
	if symKey != nil {
		nonce, err := suite.NewNonce()
		if err != nil {
			return 0, err
		}
		plain := frameEncryptedPlaintext(data, secureOpts)
		ciphertext, err := suite.Encrypt(*symKey, nonce, plain)
		if err != nil {
			return 0, err
		}
		sealed := sealedDataRegion(nonce, ciphertext)
		if err := w.Bytes(sealed); err != nil {
			return 0, err
		}
		if _, err := w.PadTo4(dataStart); err != nil {
			return 0, err
		}
		dataLen = w.Pos - dataStart
		secureOptsLen = 0
	} else {
		if err := w.Bytes(data); err != nil {
			return 0, err
		}
		if _, err := w.PadTo4(dataStart); err != nil {
			return 0, err
		}
		dataLen = w.Pos - dataStart

		secureOptsStart := w.Pos
		if err := w.Bytes(secureOpts); err != nil {
			return 0, err
		}
		if _, err := w.PadTo4(secureOptsStart); err != nil {
			return 0, err
		}
		secureOptsLen = w.Pos - secureOptsStart
	}

	publicOptsStart := w.Pos
	if err := w.Bytes(publicOpts); err != nil {
		return 0, err
	}
	if _, err := w.PadTo4(publicOptsStart); err != nil {
		return 0, err
	}
	publicOptsLen := w.Pos - publicOptsStart

	if dataLen > 0xFFFF || secureOptsLen > 0xFFFF || publicOptsLen > 0xFFFF {
		return 0, ErrFieldTooLong
	}
	binary.BigEndian.PutUint16(buf[lenFieldsPos:], uint16(dataLen))
	binary.BigEndian.PutUint16(buf[lenFieldsPos+2:], uint16(secureOptsLen))
	binary.BigEndian.PutUint16(buf[lenFieldsPos+4:], uint16(publicOptsLen))

	signedLen := w.Pos
	sig := suite.Sign(signKey, buf[:signedLen])
	if err := w.Bytes(sig[:]); err != nil {
		return 0, err
	}

	return w.Pos, nil
}

// Decode parses a Base envelope out of slice, verifying its signature
// and, if symKey is supplied and flags.ENCRYPTED is set, decrypting
// the data/secure-options regions. The signer key is knownSignerKey if
// non-nil, else the first PubKey option in the public-options region;
// resolvePublicKey is consulted only when neither is available.
// If ENCRYPTED is set but symKey is nil, the envelope is still
// returned with its ciphertext regions intact so a caller may forward
// it unchanged.
func Decode(slice []byte, resolvePublicKey PublicKeyResolver, symKey *ids.SecretKey, suite dsdcrypto.Suite, knownSignerKey *ids.PublicKey, expectIDMatchesKey bool) (Base, error) {
	r := wire.NewReader(slice)
	var b Base

	kind, err := r.U16BE()
	if err != nil {
		return Base{}, ErrTruncated
	}
	flags, err := r.U8()
	if err != nil {
		return Base{}, ErrTruncated
	}
	if flags&flagsReservedMask != 0 {
		return Base{}, ErrReservedBitsSet
	}
	reserved, err := r.U8()
	if err != nil {
		return Base{}, ErrTruncated
	}
	if reserved != 0 {
		return Base{}, ErrReservedBitsSet
	}
	version, err := r.U16BE()
	if err != nil {
		return Base{}, ErrTruncated
	}
	dataLen, err := r.U16BE()
	if err != nil {
		return Base{}, ErrTruncated
	}
	secureOptionsLen, err := r.U16BE()
	if err != nil {
		return Base{}, ErrTruncated
	}
	publicOptionsLen, err := r.U16BE()
	if err != nil {
		return Base{}, ErrTruncated
	}
	if dataLen%4 != 0 || secureOptionsLen%4 != 0 || publicOptionsLen%4 != 0 {
		return Base{}, ErrBadAlignment
	}
	idBytes, err := r.Bytes(ids.IDSize)
	if err != nil {
		return Base{}, ErrTruncated
	}
	id, _ := ids.IdFromBytes(idBytes)

	dataRegion, err := r.Bytes(int(dataLen))
	if err != nil {
		return Base{}, ErrTruncated
	}
	secureOptionsRegion, err := r.Bytes(int(secureOptionsLen))
	if err != nil {
		return Base{}, ErrTruncated
	}
	publicOptionsRegion, err := r.Bytes(int(publicOptionsLen))
	if err != nil {
		return Base{}, ErrTruncated
	}

	signatureOffset := PrefixSize + int(dataLen) + int(secureOptionsLen) + int(publicOptionsLen)
	if signatureOffset+ids.SignatureSize != len(slice) {
		return Base{}, ErrLengthMismatch
	}
	sigBytes, err := r.Bytes(ids.SignatureSize)
	if err != nil {
		return Base{}, ErrTruncated
	}
	sig, _ := ids.SignatureFromBytes(sigBytes)

	publicParsed, err := option.Parse(publicOptionsRegion, false)
	if err != nil {
		return Base{}, err
	}

	pk, ok := ids.PublicKey{}, false
	if knownSignerKey != nil {
		pk, ok = *knownSignerKey, true
	} else if opt, found := option.FindOne(publicParsed.Options, option.PubKey); found {
		pk, err = opt.AsPublicKey()
		if err != nil {
			return Base{}, err
		}
		ok = true
	} else if resolvePublicKey != nil {
		pk, ok = resolvePublicKey(id)
	}
	if !ok {
		return Base{}, ErrNoPublicKey
	}

	if expectIDMatchesKey {
		derived := suite.DeriveID(pk)
		if !derived.Equal(id) {
			return Base{}, ErrIdKeyMismatch
		}
	}

	if !suite.Verify(pk, slice[:signatureOffset], sig) {
		return Base{}, ErrSignatureInvalid
	}

	b = Base{
		Header: Header{
			Kind:    kind,
			Flags:   flags,
			Version: version,
			ID:      id,
		},
		DataLen:           dataLen,
		SecureOptionsLen:  secureOptionsLen,
		PublicOptionsLen:  publicOptionsLen,
		Data:              dataRegion,
		SecureOptions:     secureOptionsRegion,
		PublicOptions:     publicOptionsRegion,
		PublicOptionsView: publicParsed,
		Signature:         sig,
		SignedLen:         signatureOffset,
		WasEncrypted:      flags&FlagEncrypted != 0,
	}

	if b.WasEncrypted && symKey != nil {
		nonce, ciphertext, err := unsealDataRegion(dataRegion)
		if err != nil {
			return Base{}, err
		}
		plain, err := suite.Decrypt(*symKey, nonce, ciphertext)
		if err != nil {
			return Base{}, ErrDecryptFailed
		}
		data, secureOpts, err := unframeEncryptedPlaintext(plain)
		if err != nil {
			return Base{}, err
		}
		b.Data = data
		b.SecureOptions = secureOpts
		b.Decrypted = true
	}

	return b, nil
}
