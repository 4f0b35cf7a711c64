// Package page implements the three DSD page shapes over Base:
// Primary (id==H(pk)), Secondary (published under a third party's id,
// signed by a peer) and Peer (a primary page advertising a peer's
// addresses). Pages are the signed, expiring records a service
// publishes into the DHT under its id.
package page

import (
	"errors"

	"github.com/distsvc/dsd-core/pkg/dsdcrypto"
	"github.com/distsvc/dsd-core/pkg/envelope"
	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/option"
)

// PeerPageKind is the reserved page kind that marks a primary page as
// a peer advertisement rather than a generic service page.
const PeerPageKind uint16 = 0x0001

var (
	ErrPrimarySignerMismatch  = errors.New("page: id does not match signer's public key")
	ErrSecondaryPeerIDMissing = errors.New("page: secondary page missing PeerId option")
	ErrPeerPageNoAddress      = errors.New("page: peer page carries no V4Addr/V6Addr option")
	ErrMissingPubKey          = errors.New("page: primary page missing PubKey option")
	ErrMissingIssued          = errors.New("page: missing Issued option")
	ErrMissingExpiry          = errors.New("page: missing Expiry option")
)

// Page is a fully decoded page: the underlying Base envelope plus the
// options parsed from its public and secure regions (the secure region
// only when it is plaintext: unencrypted, or decrypted on decode).
type Page struct {
	Base          envelope.Base
	PublicOptions []option.Option
	SecureOptions []option.Option // nil while the secure region is still ciphertext
}

// IsSecondary reports whether flags.SECONDARY is set.
func (p Page) IsSecondary() bool { return p.Base.Header.Flags&envelope.FlagSecondary != 0 }

// IsPeer reports whether this is a primary page advertising a peer
// (kind == PeerPageKind and not Secondary).
func (p Page) IsPeer() bool {
	return !p.IsSecondary() && p.Base.Header.Kind == PeerPageKind
}

// Fields common to every page kind: the caller picks the public and
// secure option sets (V4Addr/V6Addr/Name/Kind/Metadata may go in
// either); EncodePrimary/EncodeSecondary/EncodePeer inject the
// kind-specific required options automatically.
type Fields struct {
	Version       uint16
	Data          []byte
	PublicOptions []option.Option
	SecureOptions []option.Option
	SymKey        *ids.SecretKey
}

func buildRegions(opts []option.Option) ([]byte, error) {
	b := option.NewBuilder()
	for _, o := range opts {
		b.Add(o)
	}
	return b.Build()
}

// EncodePrimary encodes a primary page: id = H(signerPub), kind.MSB=0,
// flags.SECONDARY=0. The public options are required to carry exactly
// one PubKey (matching the signer), one Issued and one Expiry; this
// function injects them if the caller has not already added them to
// f.PublicOptions.
func EncodePrimary(buf []byte, kind uint16, signerPub ids.PublicKey, signerPriv ids.PrivateKey, issuedMs, expiryMs uint64, f Fields, suite dsdcrypto.Suite) (int, error) {
	if kind&envelope.KindMessageBit != 0 {
		return 0, errors.New("page: kind MSB must be 0 for a page")
	}
	pub := ensureOne(f.PublicOptions, option.PubKey, option.NewPubKey(signerPub))
	pub = ensureOne(pub, option.Issued, option.NewIssued(issuedMs))
	pub = ensureOne(pub, option.Expiry, option.NewExpiry(expiryMs))

	secureRegion, err := buildRegions(f.SecureOptions)
	if err != nil {
		return 0, err
	}
	publicRegion, err := buildRegions(pub)
	if err != nil {
		return 0, err
	}

	id := suite.DeriveID(signerPub)
	h := envelope.Header{Kind: kind, Version: f.Version, ID: id}
	return envelope.Encode(buf, h, f.Data, secureRegion, publicRegion, suite, signerPriv, f.SymKey)
}

// EncodePeer is EncodePrimary specialised to PeerPageKind, additionally
// requiring at least one V4Addr or V6Addr somewhere in public or secure
// options.
func EncodePeer(buf []byte, signerPub ids.PublicKey, signerPriv ids.PrivateKey, issuedMs, expiryMs uint64, f Fields, suite dsdcrypto.Suite) (int, error) {
	if !hasAnyAddr(f.PublicOptions) && !hasAnyAddr(f.SecureOptions) {
		return 0, ErrPeerPageNoAddress
	}
	return EncodePrimary(buf, PeerPageKind, signerPub, signerPriv, issuedMs, expiryMs, f, suite)
}

// EncodeSecondary encodes a secondary page: id is the target service's
// id (supplied by the caller, not derived from the signer), flags.
// SECONDARY=1, and the public options are required to carry exactly
// one PeerId (identifying the signing peer), one Issued and one
// Expiry.
func EncodeSecondary(buf []byte, kind uint16, targetID ids.Id, peerID ids.Id, signerPriv ids.PrivateKey, issuedMs, expiryMs uint64, f Fields, suite dsdcrypto.Suite) (int, error) {
	if kind&envelope.KindMessageBit != 0 {
		return 0, errors.New("page: kind MSB must be 0 for a page")
	}
	pub := ensureOne(f.PublicOptions, option.PeerID, option.NewPeerID(peerID))
	pub = ensureOne(pub, option.Issued, option.NewIssued(issuedMs))
	pub = ensureOne(pub, option.Expiry, option.NewExpiry(expiryMs))

	secureRegion, err := buildRegions(f.SecureOptions)
	if err != nil {
		return 0, err
	}
	publicRegion, err := buildRegions(pub)
	if err != nil {
		return 0, err
	}

	h := envelope.Header{Kind: kind, Flags: envelope.FlagSecondary, Version: f.Version, ID: targetID}
	return envelope.Encode(buf, h, f.Data, secureRegion, publicRegion, suite, signerPriv, f.SymKey)
}

// ensureOne appends def to opts unless opts already has an option of
// def's kind.
func ensureOne(opts []option.Option, k option.Kind, def option.Option) []option.Option {
	if _, found := option.FindOne(opts, k); found {
		return opts
	}
	return append(append([]option.Option{}, opts...), def)
}

func hasAnyAddr(opts []option.Option) bool {
	_, v4 := option.FindOne(opts, option.V4Addr)
	_, v6 := option.FindOne(opts, option.V6Addr)
	return v4 || v6
}

// Decode decodes and semantically validates a page. Structural
// validation (alignment, signature, region parsing) happens inside
// envelope.Decode; semantic validation (required-option presence,
// id/key/PeerId correspondence) happens here.
func Decode(slice []byte, resolvePublicKey envelope.PublicKeyResolver, symKey *ids.SecretKey, suite dsdcrypto.Suite) (Page, error) {
	// A secondary page's id is the target service id, not H(signer pub),
	// so the id/key correspondence check only applies once we know
	// whether flags.SECONDARY is set, which requires peeking at the
	// header before choosing expectIDMatchesKey. envelope.Decode needs
	// that choice up front, so we decode flags first via a lightweight
	// pre-parse: byte [2] is the flags byte.
	if len(slice) < envelope.PrefixSize {
		return Page{}, envelope.ErrTruncated
	}
	secondary := slice[2]&envelope.FlagSecondary != 0

	base, err := envelope.Decode(slice, resolvePublicKey, symKey, suite, nil, !secondary)
	if err != nil {
		if !secondary && errors.Is(err, envelope.ErrIdKeyMismatch) {
			return Page{}, ErrPrimarySignerMismatch
		}
		return Page{}, err
	}

	p := Page{Base: base, PublicOptions: base.PublicOptionsView.Options}
	if base.Decrypted || !base.WasEncrypted {
		secureParsed, err := option.Parse(base.SecureOptions, false)
		if err != nil {
			return Page{}, err
		}
		p.SecureOptions = secureParsed.Options
	}

	if err := p.validate(); err != nil {
		return Page{}, err
	}
	return p, nil
}

func (p Page) validate() error {
	all := append(append([]option.Option{}, p.PublicOptions...), p.SecureOptions...)

	if _, found := option.FindOne(all, option.Issued); !found {
		return ErrMissingIssued
	}
	if _, found := option.FindOne(all, option.Expiry); !found {
		return ErrMissingExpiry
	}

	if p.IsSecondary() {
		if _, found := option.FindOne(p.PublicOptions, option.PeerID); !found {
			return ErrSecondaryPeerIDMissing
		}
		return nil
	}

	pkOpt, found := option.FindOne(p.PublicOptions, option.PubKey)
	if !found {
		return ErrMissingPubKey
	}
	// The id==H(pk) correspondence itself was already enforced by
	// envelope.Decode (expectIDMatchesKey=true for non-secondary pages);
	// here we only need the PubKey option's presence.
	if _, err := pkOpt.AsPublicKey(); err != nil {
		return err
	}

	if p.IsPeer() {
		if !hasAnyAddr(p.PublicOptions) && !hasAnyAddr(p.SecureOptions) {
			return ErrPeerPageNoAddress
		}
	}
	return nil
}
