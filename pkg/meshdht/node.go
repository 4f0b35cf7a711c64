// Package meshdht publishes and fetches encoded DSD pages through a
// Kademlia DHT. Routing table maintenance, peer liveness, bootstrap
// and transport sockets are all delegated to go-libp2p-kad-dht rather
// than reimplemented; this package only wires the page codec into the
// DHT's record validation so that DHT-supplied bytes are never
// trusted blindly.
package meshdht

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/distsvc/dsd-core/pkg/dsdcrypto"
	"github.com/distsvc/dsd-core/pkg/envelope"
	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/option"
	"github.com/distsvc/dsd-core/pkg/page"
)

// namespace is the DHT record namespace pages are published under:
// keys look like "/dsd/<hex service id>".
const namespace = "dsd"

// Config configures a new Node.
type Config struct {
	Port           int
	BootstrapPeers []string
	PrivateKey     libp2pcrypto.PrivKey // optional; a fresh Ed25519 identity is generated if nil
	SymKey         *ids.SecretKey       // optional; used to decrypt fetched pages that carry ENCRYPTED
	ResolvePubKey  envelope.PublicKeyResolver
	Suite          dsdcrypto.Suite
}

// Node publishes and fetches DSD pages through a Kademlia DHT.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	ctx    context.Context
	cancel context.CancelFunc

	suite         dsdcrypto.Suite
	symKey        *ids.SecretKey
	resolvePubKey envelope.PublicKeyResolver

	mu           sync.RWMutex
	peers        map[peer.ID]time.Time
	bootstrapped bool
}

// pageValidator implements go-libp2p-kad-dht's record.Validator by
// running every candidate value back through page.Decode: a record
// that does not decode and verify as a well-formed, correctly-signed
// DSD page is rejected outright, so the DHT never serves a peer
// garbage it would have to separately distrust downstream.
type pageValidator struct {
	node *Node
}

// Validate rejects any record whose bytes do not decode as a
// structurally and cryptographically valid page. Ranking competing
// valid records for the same key is Select's job.
func (v pageValidator) Validate(key string, value []byte) error {
	_, err := page.Decode(value, v.node.resolvePubKey, v.node.symKey, v.node.suite)
	return err
}

// Select picks the freshest of several valid records for the same
// key by comparing their Issued option; a page with a newer Issued
// timestamp supersedes an older one.
func (v pageValidator) Select(key string, values [][]byte) (int, error) {
	best := 0
	var bestIssued uint64
	for i, val := range values {
		pg, err := page.Decode(val, v.node.resolvePubKey, v.node.symKey, v.node.suite)
		if err != nil {
			continue
		}
		issued := issuedOf(pg)
		if issued >= bestIssued {
			bestIssued = issued
			best = i
		}
	}
	return best, nil
}

func issuedOf(pg page.Page) uint64 {
	all := append(append([]option.Option{}, pg.PublicOptions...), pg.SecureOptions...)
	opt, found := option.FindOne(all, option.Issued)
	if !found {
		return 0
	}
	ts, err := opt.AsTimestampMillis()
	if err != nil {
		return 0
	}
	return ts
}

// New builds a libp2p host, a Kademlia DHT configured with the page
// validator above under the "dsd" namespace, and bootstraps it if
// peers are supplied.
func New(ctx context.Context, cfg Config) (*Node, error) {
	suite := cfg.Suite
	if suite == nil {
		suite = dsdcrypto.Default{}
	}

	priv := cfg.PrivateKey
	var err error
	if priv == nil {
		priv, _, err = libp2pcrypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("meshdht: generate identity: %w", err)
		}
	}

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.Port)
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddr),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("meshdht: create libp2p host: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n := &Node{
		host:          h,
		ctx:           nodeCtx,
		cancel:        cancel,
		suite:         suite,
		symKey:        cfg.SymKey,
		resolvePubKey: cfg.ResolvePubKey,
		peers:         make(map[peer.ID]time.Time),
	}

	kad, err := dht.New(ctx, h,
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix("/"+namespace),
		dht.NamespacedValidator(namespace, pageValidator{node: n}),
	)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("meshdht: create DHT: %w", err)
	}
	n.dht = kad

	if len(cfg.BootstrapPeers) > 0 {
		if err := n.Bootstrap(cfg.BootstrapPeers); err != nil {
			n.Close()
			return nil, err
		}
	}

	return n, nil
}

// Bootstrap connects to the given multiaddrs and joins the DHT.
func (n *Node) Bootstrap(peerAddrs []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	connected := 0
	for _, addr := range peerAddrs {
		maddr, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			continue
		}
		if err := n.host.Connect(n.ctx, *info); err != nil {
			continue
		}
		n.peers[info.ID] = time.Now()
		connected++
	}
	if connected == 0 {
		return fmt.Errorf("meshdht: failed to connect to any bootstrap peer")
	}
	if err := n.dht.Bootstrap(n.ctx); err != nil {
		return fmt.Errorf("meshdht: bootstrap DHT: %w", err)
	}
	n.bootstrapped = true
	return nil
}

// recordKey formats the DHT key a page with the given service id is
// published under.
func recordKey(id ids.Id) string {
	return "/" + namespace + "/" + id.String()
}

// PublishPage puts an already-encoded page into the DHT under its own
// id. The caller is responsible for having produced encoded via
// page.EncodePrimary/EncodePeer/EncodeSecondary so that Validate above
// accepts it.
func (n *Node) PublishPage(ctx context.Context, id ids.Id, encoded []byte) error {
	return n.dht.PutValue(ctx, recordKey(id), encoded)
}

// FetchPage retrieves and decodes the page published under id, if any
// peer holds one that passes pageValidator.Validate.
func (n *Node) FetchPage(ctx context.Context, id ids.Id) (page.Page, error) {
	raw, err := n.dht.GetValue(ctx, recordKey(id))
	if err != nil {
		return page.Page{}, fmt.Errorf("meshdht: fetch %s: %w", id, err)
	}
	return page.Decode(raw, n.resolvePubKey, n.symKey, n.suite)
}

// ID returns the node's libp2p peer id.
func (n *Node) ID() peer.ID { return n.host.ID() }

// Addresses returns the node's listen multiaddrs.
func (n *Node) Addresses() []multiaddr.Multiaddr { return n.host.Addrs() }

// IsBootstrapped reports whether Bootstrap has succeeded at least once.
func (n *Node) IsBootstrapped() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bootstrapped
}

// Close shuts the DHT and host down.
func (n *Node) Close() error {
	n.cancel()
	if err := n.dht.Close(); err != nil {
		return err
	}
	return n.host.Close()
}
