// Package transport wraps the UDP socket the core sends and receives
// datagrams on, canonicalizing IPv4-mapped IPv6 addresses the way the wire
// protocol requires before any endpoint comparison happens.
package transport

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

// Transport manages the UDP socket the Peer Server reads from and writes
// to. It listens on an unspecified dual-stack address so IPv4 and IPv6
// peers share one socket.
type Transport struct {
	conn   *net.UDPConn
	port   int
	mu     sync.RWMutex
	closed bool
	log    *slog.Logger
}

// Listen binds a dual-stack UDP socket on port (0 picks an ephemeral port).
func Listen(port int, log *slog.Logger) (*Transport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind UDP port %d: %w", port, err)
	}
	actualPort := conn.LocalAddr().(*net.UDPAddr).Port
	log.Info("transport listening", "port", actualPort)
	return &Transport{conn: conn, port: actualPort, log: log}, nil
}

// Port returns the bound port.
func (t *Transport) Port() int { return t.port }

// Recv reads one datagram, returning its canonicalized source endpoint.
func (t *Transport) Recv(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return n, netip.AddrPort{}, err
	}
	return n, Canonicalize(addr), nil
}

// Send writes a datagram to endpoint, non-blocking with respect to the
// caller's own congestion (the kernel socket buffer may still apply
// backpressure, but Send never blocks on a peer-side condition).
func (t *Transport) Send(data []byte, endpoint netip.AddrPort) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	_, err := t.conn.WriteToUDPAddrPort(data, endpoint)
	return err
}

// StunRoundTrip sends req to remote over this transport's own socket and
// returns the raw response, so one-shot endpoint discovery observes the
// same address/port mapping the core actually sends and receives on
// instead of colliding with it from a second socket on the same local
// port. Must only be used before the Peer Server starts draining Recv.
func (t *Transport) StunRoundTrip(req []byte, remote netip.AddrPort, timeout time.Duration) ([]byte, error) {
	if err := t.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	defer t.conn.SetDeadline(time.Time{})

	if _, err := t.conn.WriteToUDPAddrPort(req, remote); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	buf := make([]byte, 1500)
	n, _, err := t.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	return buf[:n], nil
}

// Close shuts down the socket.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.conn.Close()
}

// Canonicalize unmaps an IPv4-mapped IPv6 address to plain IPv4, so two
// endpoints describing the same peer over different address families
// compare equal.
func Canonicalize(addr netip.AddrPort) netip.AddrPort {
	ip := addr.Addr()
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	return netip.AddrPortFrom(ip, addr.Port())
}
