// Package router defines the collaborator interface the Peer Server uses
// to map inner packets to peers, plus one concrete implementation: a
// longest-prefix-match table over each peer's configured allowed IPs. The
// core treats the Router as pure given the current peer set, never
// mutating it from the packet path.
package router

import (
	"net/netip"
	"sync"

	"github.com/kobuchi/wgcore/internal/peer"
)

// Router resolves inner packets to peers and checks that a received
// packet's source address is one a peer is actually allowed to speak for.
type Router interface {
	RouteToPeer(innerPacket []byte) (*peer.Peer, bool)
	ValidateSource(innerPacket []byte, p *peer.Peer) bool
}

// AllowedIPTable is a Router backed by each peer's configured AllowedIPs,
// matched by longest prefix. It reads Config.AllowedIPs directly on every
// lookup rather than caching a copy, so a peer reconfigured after
// construction (a PeerAllowedIp config event appending to its slice) is
// picked up immediately. This is safe without its own locking because the
// core is single-threaded cooperative: the same Peer Server loop goroutine
// is the only caller of both the config mutation and the lookup.
type AllowedIPTable struct {
	mu    sync.RWMutex
	peers []*peer.Peer
}

// NewAllowedIPTable builds a table from peers.
func NewAllowedIPTable(peers []*peer.Peer) *AllowedIPTable {
	t := &AllowedIPTable{peers: append([]*peer.Peer(nil), peers...)}
	return t
}

// AddPeer registers a newly configured peer with the table.
func (t *AllowedIPTable) AddPeer(p *peer.Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = append(t.peers, p)
}

// RouteToPeer finds the peer with the longest matching allowed-IP prefix
// covering the inner packet's destination address.
func (t *AllowedIPTable) RouteToPeer(innerPacket []byte) (*peer.Peer, bool) {
	dst, ok := destinationAddr(innerPacket)
	if !ok {
		return nil, false
	}
	return t.lookup(dst)
}

// ValidateSource reports whether the inner packet's source address falls
// within p's configured allowed IPs, the check applied to every decrypted
// packet before it reaches the Tunnel collaborator.
func (t *AllowedIPTable) ValidateSource(innerPacket []byte, p *peer.Peer) bool {
	src, ok := sourceAddr(innerPacket)
	if !ok {
		return false
	}
	for _, prefix := range p.Config.AllowedIPs {
		if prefix.Contains(src) {
			return true
		}
	}
	return false
}

func (t *AllowedIPTable) lookup(dst netip.Addr) (*peer.Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var (
		best     *peer.Peer
		bestBits = -1
	)
	for _, p := range t.peers {
		for _, prefix := range p.Config.AllowedIPs {
			if !prefix.Contains(dst) {
				continue
			}
			if prefix.Bits() > bestBits {
				best = p
				bestBits = prefix.Bits()
			}
		}
	}
	return best, best != nil
}

// destinationAddr extracts the destination address from a bare IPv4 or
// IPv6 datagram, reading only the fixed-offset address field.
func destinationAddr(packet []byte) (netip.Addr, bool) {
	return ipAddrAt(packet, true)
}

// sourceAddr extracts the source address from a bare IPv4 or IPv6 datagram.
func sourceAddr(packet []byte) (netip.Addr, bool) {
	return ipAddrAt(packet, false)
}

func ipAddrAt(packet []byte, dest bool) (netip.Addr, bool) {
	if len(packet) < 1 {
		return netip.Addr{}, false
	}
	version := packet[0] >> 4
	switch version {
	case 4:
		if len(packet) < 20 {
			return netip.Addr{}, false
		}
		off := 12
		if dest {
			off = 16
		}
		addr, ok := netip.AddrFromSlice(packet[off : off+4])
		return addr, ok
	case 6:
		if len(packet) < 40 {
			return netip.Addr{}, false
		}
		off := 8
		if dest {
			off = 24
		}
		addr, ok := netip.AddrFromSlice(packet[off : off+16])
		return addr, ok
	default:
		return netip.Addr{}, false
	}
}
