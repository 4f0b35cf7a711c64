package meshdht

import (
	"fmt"
	"net"

	"github.com/multiformats/go-multiaddr"

	"github.com/distsvc/dsd-core/pkg/option"
)

// AddrOptions converts libp2p listen multiaddrs into the V4Addr/V6Addr
// options a peer page advertises. Addresses without an IP and TCP
// component, and unspecified addresses (0.0.0.0, ::), are skipped.
func AddrOptions(addrs []multiaddr.Multiaddr) []option.Option {
	var opts []option.Option
	for _, a := range addrs {
		portStr, err := a.ValueForProtocol(multiaddr.P_TCP)
		if err != nil {
			continue
		}
		var port uint16
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			continue
		}

		if v4, err := a.ValueForProtocol(multiaddr.P_IP4); err == nil {
			ip := net.ParseIP(v4).To4()
			if ip == nil || ip.IsUnspecified() {
				continue
			}
			var b [4]byte
			copy(b[:], ip)
			opts = append(opts, option.NewV4Addr(b, port))
			continue
		}
		if v6, err := a.ValueForProtocol(multiaddr.P_IP6); err == nil {
			ip := net.ParseIP(v6).To16()
			if ip == nil || ip.IsUnspecified() {
				continue
			}
			var b [16]byte
			copy(b[:], ip)
			opts = append(opts, option.NewV6Addr(b, port))
		}
	}
	return opts
}

// OptionMultiaddr converts a decoded V4Addr or V6Addr option back into
// a dialable TCP multiaddr.
func OptionMultiaddr(opt option.Option) (multiaddr.Multiaddr, error) {
	switch opt.Kind {
	case option.V4Addr:
		a, err := opt.AsV4Addr()
		if err != nil {
			return nil, err
		}
		return multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", net.IP(a.IP[:]), a.Port))
	case option.V6Addr:
		a, err := opt.AsV6Addr()
		if err != nil {
			return nil, err
		}
		return multiaddr.NewMultiaddr(fmt.Sprintf("/ip6/%s/tcp/%d", net.IP(a.IP[:]), a.Port))
	default:
		return nil, fmt.Errorf("meshdht: option kind %#x is not an address", uint16(opt.Kind))
	}
}
