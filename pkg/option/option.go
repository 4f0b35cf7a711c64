// Package option implements the DSD option catalogue: encode/decode of
// every option kind, iteration over an option region, and typed
// presence queries. Every option is framed the same way on the wire:
// `kind (u16 BE) | length (u16 BE) | payload | zero-pad to 4 bytes`.
package option

import (
	"errors"
	"fmt"
	"strings"

	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/wire"
)

// Kind identifies an option's semantic type.
type Kind uint16

const (
	PubKey    Kind = 0x00
	PeerID    Kind = 0x01
	RequestID Kind = 0x02
	KindName  Kind = 0x03 // the service-kind string; named KindName to avoid colliding with the Kind type
	Name      Kind = 0x04
	V4Addr    Kind = 0x05
	V6Addr    Kind = 0x06
	Issued    Kind = 0x07
	Expiry    Kind = 0x08
	Metadata  Kind = 0x09
)

// repeating reports whether multiple options of kind k may appear in a
// single region. Non-repeating kinds are rejected on a second
// occurrence (DuplicateOption); repeating kinds may appear any number
// of times and preserve order.
func (k Kind) repeating() bool {
	switch k {
	case V4Addr, V6Addr, Metadata:
		return true
	default:
		return false
	}
}

// Address option payloads carry the raw address, the port and two
// reserved zero bytes; V6Addr is 24 bytes on the wire (2 kind +
// 2 length + 20 payload), V4Addr is 12.
const (
	V4AddrPayloadSize = 4 + 2 + 2  // ipv4 + port + 2 reserved bytes
	V6AddrPayloadSize = 16 + 2 + 2 // ipv6 + port + 2 reserved bytes
)

var (
	ErrDuplicateOption = errors.New("option: duplicate non-repeating option")
	ErrPayloadSize     = errors.New("option: payload has wrong size for kind")
	ErrMalformedValue  = errors.New("option: malformed payload value")
	ErrUnknownKind     = errors.New("option: unknown kind")
)

// Option is a single decoded (kind, payload) pair. Payload borrows from
// the source region's backing slice when decoded; it is an owned copy
// when constructed via one of the New* helpers.
type Option struct {
	Kind    Kind
	Payload []byte
}

// Append writes a single option to w, starting at offset w.Pos:
// header, payload and zero padding to the next 4-byte boundary.
func Append(w *wire.Writer, opt Option) error {
	start := w.Pos
	if err := w.U16BE(uint16(opt.Kind)); err != nil {
		return err
	}
	if err := w.U16BE(uint16(len(opt.Payload))); err != nil {
		return err
	}
	if err := w.Bytes(opt.Payload); err != nil {
		return err
	}
	_, err := w.PadTo4(start)
	return err
}

// AppendAll writes opts in order, as Append would for each.
func AppendAll(w *wire.Writer, opts []Option) error {
	for _, opt := range opts {
		if err := Append(w, opt); err != nil {
			return err
		}
	}
	return nil
}

// EncodedLen returns the 4-byte-aligned wire length of opt, including
// its 4-byte kind/length header.
func EncodedLen(opt Option) int {
	return wire.Align4(4 + len(opt.Payload))
}

// EncodedLenAll sums EncodedLen across opts.
func EncodedLenAll(opts []Option) int {
	total := 0
	for _, opt := range opts {
		total += EncodedLen(opt)
	}
	return total
}

// Iterator walks a decoded option region one option at a time, without
// allocating beyond the slice headers it returns. It is lazy, finite
// and non-restartable: once exhausted it always returns ok=false.
type Iterator struct {
	r *wire.Reader
}

// NewIterator wraps raw (a complete option region, already isolated
// from its neighbours by the caller using the declared region length)
// for iteration.
func NewIterator(raw []byte) *Iterator {
	return &Iterator{r: wire.NewReader(raw)}
}

// Next returns the next option, or ok=false once the region is
// exhausted. err is non-nil on a malformed region (truncated header,
// truncated payload, or non-zero padding).
func (it *Iterator) Next() (opt Option, ok bool, err error) {
	if it.r.Remaining() == 0 {
		return Option{}, false, nil
	}
	start := it.r.Pos
	kindVal, err := it.r.U16BE()
	if err != nil {
		return Option{}, false, err
	}
	length, err := it.r.U16BE()
	if err != nil {
		return Option{}, false, err
	}
	payload, err := it.r.Bytes(int(length))
	if err != nil {
		return Option{}, false, err
	}
	if err := it.r.SkipPad4(start); err != nil {
		return Option{}, false, err
	}
	return Option{Kind: Kind(kindVal), Payload: payload}, true, nil
}

// Parsed holds the result of fully consuming an option region: the
// ordered list of options actually present, and the count of unknown
// kinds that were skipped rather than rejected.
type Parsed struct {
	Options        []Option
	SkippedUnknown int
}

// knownKind reports whether k is part of the fixed DSD catalogue.
func knownKind(k Kind) bool {
	switch k {
	case PubKey, PeerID, RequestID, KindName, Name, V4Addr, V6Addr, Issued, Expiry, Metadata:
		return true
	default:
		return false
	}
}

// Parse consumes an entire option region, enforcing the duplicate
// policy for non-repeating kinds and counting unknown kinds that were
// skipped rather than rejected. Unknown kinds always succeed in
// non-strict mode; pass strict=true to turn them into errors.
func Parse(raw []byte, strict bool) (Parsed, error) {
	it := NewIterator(raw)
	seen := make(map[Kind]bool, 8)
	var out Parsed
	for {
		opt, ok, err := it.Next()
		if err != nil {
			return Parsed{}, err
		}
		if !ok {
			break
		}
		if !knownKind(opt.Kind) {
			if strict {
				return Parsed{}, fmt.Errorf("%w 0x%02x", ErrUnknownKind, uint16(opt.Kind))
			}
			out.SkippedUnknown++
			out.Options = append(out.Options, opt)
			continue
		}
		if !opt.Kind.repeating() {
			if seen[opt.Kind] {
				return Parsed{}, ErrDuplicateOption
			}
			seen[opt.Kind] = true
		}
		out.Options = append(out.Options, opt)
	}
	return out, nil
}

// FindOne returns the first option of kind k, for non-repeating kinds.
func FindOne(opts []Option, k Kind) (Option, bool) {
	for _, opt := range opts {
		if opt.Kind == k {
			return opt, true
		}
	}
	return Option{}, false
}

// FindAll returns every option of kind k, in region order, for
// repeating kinds.
func FindAll(opts []Option, k Kind) []Option {
	var out []Option
	for _, opt := range opts {
		if opt.Kind == k {
			out = append(out, opt)
		}
	}
	return out
}

// ===== typed constructors =====

func NewPubKey(pk ids.PublicKey) Option {
	buf := make([]byte, ids.PublicKeySize)
	copy(buf, pk[:])
	return Option{Kind: PubKey, Payload: buf}
}

func NewPeerID(id ids.Id) Option {
	buf := make([]byte, ids.IDSize)
	copy(buf, id[:])
	return Option{Kind: PeerID, Payload: buf}
}

func NewRequestID(r ids.RequestID) Option {
	buf := make([]byte, ids.RequestIDSize)
	copy(buf, r[:])
	return Option{Kind: RequestID, Payload: buf}
}

func NewKind(name string) Option {
	return Option{Kind: KindName, Payload: []byte(name)}
}

func NewName(name string) Option {
	return Option{Kind: Name, Payload: []byte(name)}
}

// NewV4Addr builds a V4Addr option from a 4-byte IPv4 address and port.
func NewV4Addr(ip [4]byte, port uint16) Option {
	buf := make([]byte, V4AddrPayloadSize)
	copy(buf[0:4], ip[:])
	buf[4] = byte(port >> 8)
	buf[5] = byte(port)
	return Option{Kind: V4Addr, Payload: buf}
}

// NewV6Addr builds a V6Addr option from a 16-byte IPv6 address and port.
func NewV6Addr(ip [16]byte, port uint16) Option {
	buf := make([]byte, V6AddrPayloadSize)
	copy(buf[0:16], ip[:])
	buf[16] = byte(port >> 8)
	buf[17] = byte(port)
	return Option{Kind: V6Addr, Payload: buf}
}

func NewIssued(unixMillis uint64) Option {
	return newTimestamp(Issued, unixMillis)
}

func NewExpiry(unixMillis uint64) Option {
	return newTimestamp(Expiry, unixMillis)
}

func newTimestamp(k Kind, unixMillis uint64) Option {
	buf := make([]byte, 8)
	w := wire.NewWriter(buf)
	_ = w.U64LE(unixMillis)
	return Option{Kind: k, Payload: buf}
}

// NewMetadata builds a Metadata option from a key/value pair, joined on
// the wire with a literal '|' separator.
func NewMetadata(key, value string) Option {
	return Option{Kind: Metadata, Payload: []byte(key + "|" + value)}
}

// ===== typed accessors =====

func (o Option) AsPublicKey() (ids.PublicKey, error) {
	if o.Kind != PubKey || len(o.Payload) != ids.PublicKeySize {
		return ids.PublicKey{}, ErrPayloadSize
	}
	return ids.PublicKeyFromBytes(o.Payload)
}

func (o Option) AsPeerID() (ids.Id, error) {
	if o.Kind != PeerID || len(o.Payload) != ids.IDSize {
		return ids.Id{}, ErrPayloadSize
	}
	return ids.IdFromBytes(o.Payload)
}

func (o Option) AsRequestID() (ids.RequestID, error) {
	if o.Kind != RequestID || len(o.Payload) != ids.RequestIDSize {
		return ids.RequestID{}, ErrPayloadSize
	}
	return ids.RequestIDFromBytes(o.Payload)
}

func (o Option) AsString() (string, error) {
	if o.Kind != KindName && o.Kind != Name {
		return "", ErrPayloadSize
	}
	return string(o.Payload), nil
}

// V4Address is a decoded IPv4 address/port pair.
type V4Address struct {
	IP   [4]byte
	Port uint16
}

func (o Option) AsV4Addr() (V4Address, error) {
	if o.Kind != V4Addr || len(o.Payload) != V4AddrPayloadSize {
		return V4Address{}, ErrPayloadSize
	}
	var a V4Address
	copy(a.IP[:], o.Payload[0:4])
	a.Port = uint16(o.Payload[4])<<8 | uint16(o.Payload[5])
	return a, nil
}

// V6Address is a decoded IPv6 address/port pair.
type V6Address struct {
	IP   [16]byte
	Port uint16
}

func (o Option) AsV6Addr() (V6Address, error) {
	if o.Kind != V6Addr || len(o.Payload) != V6AddrPayloadSize {
		return V6Address{}, ErrPayloadSize
	}
	var a V6Address
	copy(a.IP[:], o.Payload[0:16])
	a.Port = uint16(o.Payload[16])<<8 | uint16(o.Payload[17])
	return a, nil
}

func (o Option) AsTimestampMillis() (uint64, error) {
	if (o.Kind != Issued && o.Kind != Expiry) || len(o.Payload) != 8 {
		return 0, ErrPayloadSize
	}
	r := wire.NewReader(o.Payload)
	return r.U64LE()
}

// Metadata pair, split on the first '|'.
func (o Option) AsMetadata() (key, value string, err error) {
	if o.Kind != Metadata {
		return "", "", ErrPayloadSize
	}
	s := string(o.Payload)
	idx := strings.IndexByte(s, '|')
	if idx < 0 {
		return "", "", ErrMalformedValue
	}
	return s[:idx], s[idx+1:], nil
}
