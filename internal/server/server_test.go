package server

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/kobuchi/wgcore/internal/config"
	"github.com/kobuchi/wgcore/internal/device"
	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/peer"
	"github.com/kobuchi/wgcore/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTunnel is a channel-backed tunnel.Tunnel for tests: Write sends a copy
// onto a channel the test can read, Read drains an injected queue.
type fakeTunnel struct {
	written chan []byte
	toRead  chan []byte
	closed  chan struct{}
}

func newFakeTunnel() *fakeTunnel {
	return &fakeTunnel{
		written: make(chan []byte, 16),
		toRead:  make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTunnel) Read() ([]byte, error) {
	select {
	case p := <-f.toRead:
		return p, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTunnel) Write(p []byte) error {
	cp := append([]byte(nil), p...)
	f.written <- cp
	return nil
}

func (f *fakeTunnel) Close() error {
	close(f.closed)
	return nil
}

func mustIdentity(t *testing.T) *identity.Static {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

// buildPair wires two devices+servers as mutual peers over loopback UDP,
// each with an allowed-IP that routes a synthetic IPv4 packet to the other.
func buildPair(t *testing.T) (devA *device.Device, devB *device.Device, srvA, srvB *Server, tunA, tunB *fakeTunnel) {
	t.Helper()

	idA := mustIdentity(t)
	idB := mustIdentity(t)

	devA = device.New(idA, testLogger())
	devB = device.New(idB, testLogger())

	tpA, err := transport.Listen(0, testLogger())
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	tpB, err := transport.Listen(0, testLogger())
	if err != nil {
		t.Fatalf("listen B: %v", err)
	}

	loopback := netip.MustParseAddr("127.0.0.1")
	endpointA := netip.AddrPortFrom(loopback, uint16(tpA.Port()))
	endpointB := netip.AddrPortFrom(loopback, uint16(tpB.Port()))

	prefixA := netip.MustParsePrefix("10.0.0.1/32")
	prefixB := netip.MustParsePrefix("10.0.0.2/32")

	if _, err := devA.Add(peer.Config{
		PublicKey:   idB.PublicKey,
		Endpoint:    endpointB,
		HasEndpoint: true,
		AllowedIPs:  []netip.Prefix{prefixB},
	}); err != nil {
		t.Fatalf("add peer B on device A: %v", err)
	}
	if _, err := devB.Add(peer.Config{
		PublicKey:   idA.PublicKey,
		Endpoint:    endpointA,
		HasEndpoint: true,
		AllowedIPs:  []netip.Prefix{prefixA},
	}); err != nil {
		t.Fatalf("add peer A on device B: %v", err)
	}

	tunA = newFakeTunnel()
	tunB = newFakeTunnel()

	srvA = New(devA, tpA, tunA, nil, testLogger())
	srvB = New(devB, tpB, tunB, nil, testLogger())

	return devA, devB, srvA, srvB, tunA, tunB
}

func ipv4Packet(src, dst string, payload byte) []byte {
	s := netip.MustParseAddr(src)
	d := netip.MustParseAddr(dst)
	pkt := make([]byte, 21)
	pkt[0] = 0x45
	copy(pkt[12:16], s.AsSlice())
	copy(pkt[16:20], d.AsSlice())
	pkt[20] = payload
	return pkt
}

func TestServerHandshakeAndTransportRoundTrip(t *testing.T) {
	devA, _, srvA, srvB, _, tunB := buildPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srvA.Run(ctx)
	go srvB.Run(ctx)

	peerB, err := devA.LookupByPublicKey(mustOnlyPeerKey(t, devA))
	if err != nil {
		t.Fatalf("lookup peer: %v", err)
	}
	_ = peerB

	// Drive an egress packet from A destined for B's allowed IP; this
	// should trigger a handshake and, once established, a transport send.
	inner := ipv4Packet("10.0.0.1", "10.0.0.2", 0x42)
	select {
	case srvA.egressCh <- inner:
	case <-time.After(time.Second):
		t.Fatal("timed out queuing egress packet")
	}

	select {
	case got := <-tunB.written:
		if len(got) == 0 || got[len(got)-1] != 0x42 {
			t.Fatalf("unexpected payload delivered to B's tunnel: %x", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for B to receive the transport packet")
	}
}

func mustOnlyPeerKey(t *testing.T, d *device.Device) identity.PublicKey {
	t.Helper()
	peers := d.Peers()
	if len(peers) != 1 {
		t.Fatalf("expected exactly one peer, got %d", len(peers))
	}
	return peers[0].Config.PublicKey
}

func TestServerRejectsEgressPacketWithNoRoute(t *testing.T) {
	_, _, srvA, _, _, _ := buildPair(t)
	// A packet to an address nobody is allowed should just be logged and
	// dropped, not panic the loop.
	srvA.handleEgressPacket(ipv4Packet("10.0.0.1", "192.168.99.99", 0x01))
}

func TestConfigEventAddsPeerReachableByRouter(t *testing.T) {
	idA := mustIdentity(t)
	idC := mustIdentity(t)
	devA := device.New(idA, testLogger())
	tpA, err := transport.Listen(0, testLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tun := newFakeTunnel()
	srv := New(devA, tpA, tun, nil, testLogger())

	srv.handleConfigEvent(config.PeerAddEvent{PublicKey: idC.PublicKey})
	prefix := netip.MustParsePrefix("10.1.0.0/24")
	srv.handleConfigEvent(config.PeerAllowedIPEvent{PublicKey: idC.PublicKey, Prefix: prefix})

	p, ok := srv.router.RouteToPeer(ipv4Packet("10.1.0.5", "10.1.0.7", 0))
	if !ok {
		t.Fatalf("expected newly configured peer to be routable")
	}
	if p.Config.PublicKey != idC.PublicKey {
		t.Fatalf("routed to unexpected peer")
	}
}
