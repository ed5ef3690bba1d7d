package router

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/peer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRoutedPeer(t *testing.T, pub byte, allowed ...string) *peer.Peer {
	t.Helper()
	var priv identity.PrivateKey
	priv[0] = 1
	var cfgPub identity.PublicKey
	// Offset past u=0 and u=1, low-order points X25519 rejects.
	cfgPub[0] = 8 + pub

	var prefixes []netip.Prefix
	for _, s := range allowed {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			t.Fatalf("parse prefix %q: %v", s, err)
		}
		prefixes = append(prefixes, p)
	}

	p, err := peer.New(peer.Config{PublicKey: cfgPub, AllowedIPs: prefixes}, priv, testLogger())
	if err != nil {
		t.Fatalf("peer.New: %v", err)
	}
	return p
}

func ipv4Packet(t *testing.T, src, dst string) []byte {
	t.Helper()
	s, err := netip.ParseAddr(src)
	if err != nil {
		t.Fatalf("parse src: %v", err)
	}
	d, err := netip.ParseAddr(dst)
	if err != nil {
		t.Fatalf("parse dst: %v", err)
	}
	pkt := make([]byte, 20)
	pkt[0] = 0x45
	copy(pkt[12:16], s.AsSlice())
	copy(pkt[16:20], d.AsSlice())
	return pkt
}

func TestRouteToPeerPrefersLongestMatch(t *testing.T) {
	broad := newRoutedPeer(t, 1, "10.0.0.0/8")
	narrow := newRoutedPeer(t, 2, "10.0.0.0/24")
	table := NewAllowedIPTable([]*peer.Peer{broad, narrow})

	pkt := ipv4Packet(t, "192.168.1.1", "10.0.0.5")
	got, ok := table.RouteToPeer(pkt)
	if !ok {
		t.Fatalf("expected a route")
	}
	if got != narrow {
		t.Fatalf("expected longest-prefix match to win")
	}
}

func TestRouteToPeerNoMatch(t *testing.T) {
	p := newRoutedPeer(t, 1, "10.0.0.0/24")
	table := NewAllowedIPTable([]*peer.Peer{p})

	pkt := ipv4Packet(t, "192.168.1.1", "172.16.0.5")
	if _, ok := table.RouteToPeer(pkt); ok {
		t.Fatalf("expected no route for unmatched destination")
	}
}

func TestValidateSourceChecksPeerOwnership(t *testing.T) {
	allowed := newRoutedPeer(t, 1, "10.0.0.0/24")
	other := newRoutedPeer(t, 2, "10.1.0.0/24")
	table := NewAllowedIPTable([]*peer.Peer{allowed, other})

	pkt := ipv4Packet(t, "10.0.0.5", "192.168.1.1")
	if !table.ValidateSource(pkt, allowed) {
		t.Fatalf("expected source to validate against its own peer")
	}
	if table.ValidateSource(pkt, other) {
		t.Fatalf("expected source not to validate against an unrelated peer")
	}
}
