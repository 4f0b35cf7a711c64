// Command dsdctl is a small demonstration CLI wrapping the page codec
// and the meshdht collaborator. It exposes three narrow subcommands
// that exercise the codec end to end: generating an identity,
// publishing a self-signed peer page into the DHT, and fetching one
// back by id.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distsvc/dsd-core/pkg/dsdcrypto"
	"github.com/distsvc/dsd-core/pkg/ids"
	"github.com/distsvc/dsd-core/pkg/meshdht"
	"github.com/distsvc/dsd-core/pkg/option"
	"github.com/distsvc/dsd-core/pkg/page"
)

const defaultPort = 4001

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "genkey":
		genkeyCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "fetch":
		fetchCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("dsdctl - DSD page/DHT demo CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dsdctl genkey -out <path>")
	fmt.Println("  dsdctl serve -port <n> -key <path> [-bootstrap <multiaddr> ...]")
	fmt.Println("  dsdctl fetch -id <hex> -bootstrap <multiaddr> ...")
}

func genkeyCmd(args []string) {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	out := fs.String("out", "./dsd.key", "path to write the raw 64-byte Ed25519 private key")
	fs.Parse(args)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	if err := os.WriteFile(*out, priv, 0600); err != nil {
		log.Fatalf("write key: %v", err)
	}
	var id ids.Id
	var pk ids.PublicKey
	copy(pk[:], pub)
	id = dsdcrypto.Default{}.DeriveID(pk)

	log.Printf("✓ private key written to %s", *out)
	log.Printf("  public key: %s", hex.EncodeToString(pub))
	log.Printf("  id (H(pk)): %s", id.String())
}

func loadKey(path string) ids.PrivateKey {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read key %s: %v", path, err)
	}
	sk, err := ids.PrivateKeyFromBytes(raw)
	if err != nil {
		log.Fatalf("parse key %s: %v", path, err)
	}
	return sk
}

type multiFlag []string

func (m *multiFlag) String() string     { return fmt.Sprintf("%v", []string(*m)) }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", defaultPort, "libp2p listen port")
	keyPath := fs.String("key", "./dsd.key", "path to the node's Ed25519 private key")
	ttl := fs.Duration("ttl", time.Hour, "expiry window for the published peer page")
	var bootstrap multiFlag
	fs.Var(&bootstrap, "bootstrap", "bootstrap peer multiaddr (repeatable)")
	fs.Parse(args)

	sk := loadKey(*keyPath)
	pub := sk.Public()
	suite := dsdcrypto.Default{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := meshdht.New(ctx, meshdht.Config{
		Port:           *port,
		BootstrapPeers: bootstrap,
		Suite:          suite,
	})
	if err != nil {
		log.Fatalf("start node: %v", err)
	}
	defer node.Close()

	log.Printf("✓ libp2p host up: %s", node.ID())
	for _, a := range node.Addresses() {
		log.Printf("  listening on %s/p2p/%s", a, node.ID())
	}
	if node.IsBootstrapped() {
		log.Println("✓ joined DHT via bootstrap peers")
	} else {
		log.Println("⚠ no bootstrap peers given, running as a lone seed node")
	}

	now := uint64(time.Now().UnixMilli())
	addrOpts := meshdht.AddrOptions(node.Addresses())
	if len(addrOpts) == 0 {
		// all listen addresses were unspecified; advertise loopback so
		// the peer page still carries a dialable address
		addrOpts = []option.Option{option.NewV4Addr([4]byte{127, 0, 0, 1}, uint16(*port))}
	}
	fields := page.Fields{
		PublicOptions: append([]option.Option{option.NewName("dsdctl-demo-peer")}, addrOpts...),
	}
	buf := make([]byte, 4096)
	id := suite.DeriveID(pub)
	n, err := page.EncodePeer(buf, pub, sk, now, now+uint64(ttl.Milliseconds()), fields, suite)
	if err != nil {
		log.Fatalf("encode peer page: %v", err)
	}
	if err := node.PublishPage(ctx, id, buf[:n]); err != nil {
		log.Fatalf("publish page: %v", err)
	}
	log.Printf("✓ published peer page for id %s (%d bytes)", id.String(), n)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")
}

func fetchCmd(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	idHex := fs.String("id", "", "hex-encoded 32-byte page id to fetch (required)")
	port := fs.Int("port", 0, "libp2p listen port (0 = random)")
	timeout := fs.Duration("timeout", 30*time.Second, "fetch timeout")
	var bootstrap multiFlag
	fs.Var(&bootstrap, "bootstrap", "bootstrap peer multiaddr (repeatable)")
	fs.Parse(args)

	if *idHex == "" {
		log.Fatal("-id is required")
	}
	idBytes, err := hex.DecodeString(*idHex)
	if err != nil {
		log.Fatalf("invalid -id: %v", err)
	}
	id, err := ids.IdFromBytes(idBytes)
	if err != nil {
		log.Fatalf("invalid -id: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	node, err := meshdht.New(ctx, meshdht.Config{
		Port:           *port,
		BootstrapPeers: bootstrap,
		Suite:          dsdcrypto.Default{},
	})
	if err != nil {
		log.Fatalf("start node: %v", err)
	}
	defer node.Close()

	pg, err := node.FetchPage(ctx, id)
	if err != nil {
		log.Fatalf("fetch page: %v", err)
	}
	fmt.Printf("page kind=0x%04x version=%d secondary=%v peer=%v\n",
		pg.Base.Header.Kind, pg.Base.Header.Version, pg.IsSecondary(), pg.IsPeer())
	for _, o := range pg.PublicOptions {
		fmt.Printf("  public option kind=0x%02x len=%d\n", o.Kind, len(o.Payload))
	}
}
