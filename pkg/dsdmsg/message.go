// Package dsdmsg implements the seven request/response kinds peers
// exchange over Base: Ping, FindNodes, FindValues, Store, NodesFound,
// ValuesFound and NoResult, as tagged Message bodies dispatched off
// Kind the same way the page layer dispatches its shapes.
package dsdmsg

import (
	"encoding/binary"
	"errors"

	"github.com/distsvc/dsd-core/pkg/dsdcrypto"
	"github.com/distsvc/dsd-core/pkg/envelope"
	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/option"
)

// Kind values for the seven message shapes; all carry kind.MSB=1
// (envelope.KindMessageBit).
const (
	Ping        uint16 = envelope.KindMessageBit | 0x0000
	FindNodes   uint16 = envelope.KindMessageBit | 0x0001
	FindValues  uint16 = envelope.KindMessageBit | 0x0002
	Store       uint16 = envelope.KindMessageBit | 0x0003
	NodesFound  uint16 = envelope.KindMessageBit | 0x0004
	ValuesFound uint16 = envelope.KindMessageBit | 0x0005
	NoResult    uint16 = envelope.KindMessageBit | 0x0006
)

var (
	ErrNotAMessage              = errors.New("dsdmsg: kind.MSB is not set")
	ErrMessageMissingRequestID  = errors.New("dsdmsg: missing RequestId option")
	ErrBodyShapeMismatch        = errors.New("dsdmsg: body does not match kind's expected shape")
	ErrAddressRequestOnResponse = errors.New("dsdmsg: ADDRESS_REQUEST flag set on a response message")
	ErrPeerBlockNoAddress       = errors.New("dsdmsg: peer block carries no V4Addr/V6Addr option")
	ErrPeerBlockNoPeerID        = errors.New("dsdmsg: peer block does not start with a PeerId option")
)

// isResponseKind reports whether kind is one of the response shapes.
// Only requests (Ping/FindNodes/FindValues/Store) may carry
// ADDRESS_REQUEST.
func isResponseKind(kind uint16) bool {
	switch kind {
	case NodesFound, ValuesFound, NoResult:
		return true
	default:
		return false
	}
}

// Message is a fully decoded message envelope: the underlying Base plus
// its RequestId. The kind-specific body is read from Base.Data through
// Target, EncodedPages or PeerBlocks, dispatched off Header.Kind.
type Message struct {
	Base      envelope.Base
	RequestID ids.RequestID
}

// Fields carries the caller-supplied, kind-independent pieces of a
// message; Encode injects the RequestId option automatically.
type Fields struct {
	Version   uint16
	RequestID ids.RequestID
	Extra     []option.Option // additional public options (e.g. an AddressRequest response's V4Addr/V6Addr)
}

func buildOptions(f Fields) ([]byte, error) {
	b := option.NewBuilder()
	b.Add(option.NewRequestID(f.RequestID))
	for _, o := range f.Extra {
		b.Add(o)
	}
	return b.Build()
}

// Encode writes a complete message envelope: id is the sender's own
// node id, body is the kind-specific payload (see EncodePing/
// EncodeFindNodes/... for shape helpers), and flags may carry
// FlagAddressRequest on a request. Messages are never encrypted at
// this layer; the ENCRYPTED flag is a page concern.
func Encode(buf []byte, kind uint16, senderID ids.Id, flags uint8, body []byte, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	if kind&envelope.KindMessageBit == 0 {
		return 0, ErrNotAMessage
	}
	if flags&envelope.FlagAddressRequest != 0 && isResponseKind(kind) {
		return 0, ErrAddressRequestOnResponse
	}
	publicOpts, err := buildOptions(f)
	if err != nil {
		return 0, err
	}
	h := envelope.Header{Kind: kind, Flags: flags, Version: f.Version, ID: senderID}
	return envelope.Encode(buf, h, body, nil, publicOpts, suite, signKey, nil)
}

// EncodePing encodes an empty-body Ping request.
func EncodePing(buf []byte, senderID ids.Id, addressRequest bool, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	return Encode(buf, Ping, senderID, flagsFor(addressRequest), nil, f, signKey, suite)
}

// EncodeFindNodes encodes a FindNodes request whose body is the
// 32-byte lookup target.
func EncodeFindNodes(buf []byte, senderID ids.Id, target ids.Id, addressRequest bool, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	return Encode(buf, FindNodes, senderID, flagsFor(addressRequest), target[:], f, signKey, suite)
}

// EncodeFindValues encodes a FindValues request whose body is the
// 32-byte lookup target.
func EncodeFindValues(buf []byte, senderID ids.Id, target ids.Id, addressRequest bool, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	return Encode(buf, FindValues, senderID, flagsFor(addressRequest), target[:], f, signKey, suite)
}

// EncodeStore encodes a Store message whose body is the concatenation
// of already-encoded pages; each is self-delimiting by its own header
// lengths, so no extra framing is added here.
func EncodeStore(buf []byte, senderID ids.Id, encodedPages [][]byte, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	body := concatPages(encodedPages)
	return Encode(buf, Store, senderID, 0, body, f, signKey, suite)
}

// EncodeValuesFound encodes a ValuesFound response whose body is the
// concatenation of already-encoded pages.
func EncodeValuesFound(buf []byte, senderID ids.Id, encodedPages [][]byte, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	body := concatPages(encodedPages)
	return Encode(buf, ValuesFound, senderID, 0, body, f, signKey, suite)
}

// EncodeNoResult encodes an empty-body NoResult response.
func EncodeNoResult(buf []byte, senderID ids.Id, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	return Encode(buf, NoResult, senderID, 0, nil, f, signKey, suite)
}

// PeerBlock is one decoded NodesFound entry: the advertised peer's id
// plus whatever options followed it up to the next PeerId (or the end
// of the region).
type PeerBlock struct {
	PeerID  ids.Id
	Options []option.Option
}

// EncodeNodesFound encodes a NodesFound response from a set of peer
// blocks, each serialized as PeerId followed by its options in order.
func EncodeNodesFound(buf []byte, senderID ids.Id, blocks []PeerBlock, f Fields, signKey ids.PrivateKey, suite dsdcrypto.Suite) (int, error) {
	for _, blk := range blocks {
		if !hasAnyAddr(blk.Options) {
			return 0, ErrPeerBlockNoAddress
		}
	}
	b := option.NewBuilder()
	for _, blk := range blocks {
		b.Add(option.NewPeerID(blk.PeerID))
		for _, o := range blk.Options {
			b.Add(o)
		}
	}
	body, err := b.Build()
	if err != nil {
		return 0, err
	}
	return Encode(buf, NodesFound, senderID, 0, body, f, signKey, suite)
}

func flagsFor(addressRequest bool) uint8 {
	if addressRequest {
		return envelope.FlagAddressRequest
	}
	return 0
}

func hasAnyAddr(opts []option.Option) bool {
	_, v4 := option.FindOne(opts, option.V4Addr)
	_, v6 := option.FindOne(opts, option.V6Addr)
	return v4 || v6
}

func concatPages(pages [][]byte) []byte {
	total := 0
	for _, p := range pages {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range pages {
		out = append(out, p...)
	}
	return out
}

// Decode decodes a message envelope, verifies RequestId presence and
// the ADDRESS_REQUEST/response-kind constraint, and returns the
// decoded Message. Kind-specific body shape (FindNodes/FindValues's
// 32-byte target, NodesFound's peer blocks) is checked by the
// corresponding accessor below (Target, EncodedPages, PeerBlocks)
// rather than here, mirroring
// how Page splits structural from semantic validation.
func Decode(slice []byte, resolvePublicKey envelope.PublicKeyResolver, suite dsdcrypto.Suite) (Message, error) {
	base, err := envelope.Decode(slice, resolvePublicKey, nil, suite, nil, true)
	if err != nil {
		return Message{}, err
	}
	if !base.Header.IsMessage() {
		return Message{}, ErrNotAMessage
	}
	if base.Header.Flags&envelope.FlagAddressRequest != 0 && isResponseKind(base.Header.Kind) {
		return Message{}, ErrAddressRequestOnResponse
	}
	reqOpt, found := option.FindOne(base.PublicOptionsView.Options, option.RequestID)
	if !found {
		return Message{}, ErrMessageMissingRequestID
	}
	reqID, err := reqOpt.AsRequestID()
	if err != nil {
		return Message{}, err
	}
	return Message{Base: base, RequestID: reqID}, nil
}

// Target decodes the 32-byte lookup target carried in a FindNodes or
// FindValues message body.
func (m Message) Target() (ids.Id, error) {
	if m.Base.Header.Kind != FindNodes && m.Base.Header.Kind != FindValues {
		return ids.Id{}, ErrBodyShapeMismatch
	}
	if len(m.Base.Data) != ids.IDSize {
		return ids.Id{}, ErrBodyShapeMismatch
	}
	return ids.IdFromBytes(m.Base.Data)
}

// EncodedPages splits a Store or ValuesFound message body back into
// its constituent encoded pages. Each page is self-delimiting: its own
// 12-byte header carries the three region lengths needed to compute
// its total size (44 prefix + regions + 64-byte signature), so no
// additional framing is required on the wire.
func (m Message) EncodedPages() ([][]byte, error) {
	if m.Base.Header.Kind != Store && m.Base.Header.Kind != ValuesFound {
		return nil, ErrBodyShapeMismatch
	}
	var out [][]byte
	body := m.Base.Data
	for len(body) > 0 {
		if len(body) < envelope.PrefixSize {
			return nil, ErrBodyShapeMismatch
		}
		dataLen := binary.BigEndian.Uint16(body[6:8])
		secureLen := binary.BigEndian.Uint16(body[8:10])
		publicLen := binary.BigEndian.Uint16(body[10:12])
		total := envelope.PrefixSize + int(dataLen) + int(secureLen) + int(publicLen) + ids.SignatureSize
		if total > len(body) {
			return nil, ErrBodyShapeMismatch
		}
		out = append(out, body[:total])
		body = body[total:]
	}
	return out, nil
}

// PeerBlocks parses a NodesFound message body into its peer blocks,
// each required to carry at least one V4Addr or V6Addr. A block
// without a trailing PubKey is fine; the receiver may already hold
// the key. The region is walked with a raw iterator rather than
// Parse because PeerId repeats here by construction, once per block.
func (m Message) PeerBlocks() ([]PeerBlock, error) {
	if m.Base.Header.Kind != NodesFound {
		return nil, ErrBodyShapeMismatch
	}
	it := option.NewIterator(m.Base.Data)
	var blocks []PeerBlock
	var cur *PeerBlock
	for {
		opt, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if opt.Kind == option.PeerID {
			peerID, err := opt.AsPeerID()
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, PeerBlock{PeerID: peerID})
			cur = &blocks[len(blocks)-1]
			continue
		}
		if cur == nil {
			return nil, ErrPeerBlockNoPeerID
		}
		cur.Options = append(cur.Options, opt)
	}
	for _, blk := range blocks {
		if !hasAnyAddr(blk.Options) {
			return nil, ErrPeerBlockNoAddress
		}
	}
	return blocks, nil
}
