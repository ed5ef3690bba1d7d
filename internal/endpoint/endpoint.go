// Package endpoint discovers this device's public UDP endpoint via a
// one-shot STUN binding request. This is the "opportunistic endpoint
// update" the core's Non-goals permit — not full ICE candidate gathering
// and not TURN relaying, both of which are out of scope.
package endpoint

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const discoveryTimeout = 5 * time.Second

// socket is the transport surface endpoint discovery needs: a single
// round trip over the same socket the core already sends and receives on,
// so the STUN server observes the real mapping instead of one made by a
// throwaway socket dialed from the same local port (which the kernel
// refuses to let coexist with the listening one).
type socket interface {
	StunRoundTrip(req []byte, remote netip.AddrPort, timeout time.Duration) ([]byte, error)
}

// Discoverer performs STUN-based public endpoint discovery against a
// configured list of servers, trying each in turn until one answers.
type Discoverer struct {
	servers []string
	log     *slog.Logger
}

// NewDiscoverer returns a Discoverer that tries servers in order.
func NewDiscoverer(servers []string, log *slog.Logger) *Discoverer {
	return &Discoverer{servers: servers, log: log.With("component", "endpoint-discovery")}
}

// Discover returns this host's public endpoint as observed by a STUN
// server, round-tripping over sock so the discovered mapping matches the
// port the transport actually listens on.
func (d *Discoverer) Discover(sock socket) (netip.AddrPort, error) {
	if len(d.servers) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no STUN servers configured")
	}

	var lastErr error
	for _, server := range d.servers {
		addr, err := stunBindingRequest(server, sock)
		if err != nil {
			d.log.Debug("STUN discovery failed", "server", server, "err", err)
			lastErr = err
			continue
		}
		d.log.Info("discovered public endpoint", "endpoint", addr, "server", server)
		return addr, nil
	}
	return netip.AddrPort{}, fmt.Errorf("all STUN servers failed: %w", lastErr)
}

func stunBindingRequest(serverAddr string, sock socket) (netip.AddrPort, error) {
	serverAddr = strings.TrimPrefix(serverAddr, "stun:")
	udpAddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve STUN server address: %w", err)
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("resolve STUN server address: bad IP %v", udpAddr.IP)
	}
	remote := netip.AddrPortFrom(ip.Unmap(), uint16(udpAddr.Port))

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	raw, err := sock.StunRoundTrip(msg.Raw, remote, discoveryTimeout)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("STUN round trip: %w", err)
	}

	resp := &stun.Message{Raw: raw}
	if err := resp.Decode(); err != nil {
		return netip.AddrPort{}, fmt.Errorf("decode STUN response: %w", err)
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(resp); err == nil {
		ip, ok := netip.AddrFromSlice(xorAddr.IP)
		if !ok {
			return netip.AddrPort{}, fmt.Errorf("malformed XOR-MAPPED-ADDRESS")
		}
		return netip.AddrPortFrom(ip.Unmap(), uint16(xorAddr.Port)), nil
	}

	var mappedAddr stun.MappedAddress
	if err := mappedAddr.GetFrom(resp); err != nil {
		return netip.AddrPort{}, fmt.Errorf("no mapped address in STUN response")
	}
	ip, ok := netip.AddrFromSlice(mappedAddr.IP)
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("malformed MAPPED-ADDRESS")
	}
	return netip.AddrPortFrom(ip.Unmap(), uint16(mappedAddr.Port)), nil
}
