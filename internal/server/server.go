// Package server implements the Peer Server: the single-threaded reactor
// that drains configuration events, timer firings, ingress datagrams, and
// egress inner packets into Peer/Session state, in that fixed priority
// order. It is the sole mutator of Peer and Session state once running.
package server

import (
	"context"
	"log/slog"
	"net/netip"

	"golang.org/x/sync/errgroup"

	"github.com/kobuchi/wgcore/internal/config"
	"github.com/kobuchi/wgcore/internal/device"
	"github.com/kobuchi/wgcore/internal/peer"
	"github.com/kobuchi/wgcore/internal/ratchet"
	"github.com/kobuchi/wgcore/internal/ratelimit"
	"github.com/kobuchi/wgcore/internal/router"
	"github.com/kobuchi/wgcore/internal/timer"
	"github.com/kobuchi/wgcore/internal/transport"
	"github.com/kobuchi/wgcore/internal/tunnel"
)

// Queue depths for the producer streams. Config, timer and egress producers
// block when their queue is full (backpressure). The ingress queue is
// bounded too, but its reader drops a datagram rather than blocking when
// the queue is full.
const (
	configQueueDepth  = 256
	egressQueueDepth  = 1024
	ingressQueueDepth = 1024
	timerQueueDepth   = 256
)

// datagram pairs a received UDP payload with its canonicalized source.
type datagram struct {
	addr netip.AddrPort
	data []byte
}

// Server is the Peer Server event loop.
type Server struct {
	dev       *device.Device
	transport *transport.Transport
	tun       tunnel.Tunnel
	router    router.Router
	log       *slog.Logger
	limited   *ratelimit.Logger

	timers    *timer.Set
	timerCh   chan timer.Message
	configCh  chan config.Event
	egressCh  chan []byte
	ingressCh chan datagram
}

// New builds a Server wiring a Device to a Transport and a Tunnel. router
// may be nil, in which case a fresh router.AllowedIPTable seeded from the
// device's current peers is used.
func New(dev *device.Device, tp *transport.Transport, tun tunnel.Tunnel, rt router.Router, log *slog.Logger) *Server {
	log = log.With("component", "peer-server")
	if rt == nil {
		rt = router.NewAllowedIPTable(dev.Peers())
	}

	timerCh := make(chan timer.Message, timerQueueDepth)
	s := &Server{
		dev:       dev,
		transport: tp,
		tun:       tun,
		router:    rt,
		log:       log,
		limited:   ratelimit.New(log, 10, 20),
		timerCh:   timerCh,
		configCh:  make(chan config.Event, configQueueDepth),
		egressCh:  make(chan []byte, egressQueueDepth),
		ingressCh: make(chan datagram, ingressQueueDepth),
	}
	s.timers = timer.NewSet(timerCh)
	return s
}

// ConfigEvents returns the channel configuration events should be sent on.
// Sends block if the queue is full, applying backpressure to the config
// source.
func (s *Server) ConfigEvents() chan<- config.Event { return s.configCh }

// Run drives the reactor until ctx is canceled, also starting the
// transport-read and tunnel-read goroutines that feed the ingress and
// egress streams. The three goroutines are tied together with an errgroup
// so that a fatal error on any one of them (the reactor included) cancels
// the others and is returned to the caller.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { s.ingressReadLoop(ctx); return nil })
	g.Go(func() error { s.tunnelReadLoop(ctx); return nil })
	g.Go(func() error { return s.reactorLoop(ctx) })

	return g.Wait()
}

func (s *Server) reactorLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.drainOne() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.configCh:
			s.handleConfigEvent(ev)
		case msg := <-s.timerCh:
			s.handleTimer(msg)
		case dg := <-s.ingressCh:
			s.handleIngressPacket(dg)
		case pkt := <-s.egressCh:
			s.handleEgressPacket(pkt)
		}
	}
}

// drainOne services at most one event, checking streams in fixed priority
// order, and reports whether it handled anything. Config events always
// preempt timers, which always preempt ingress, which always preempts
// egress — so a flood on a lower-priority stream can't starve handshake
// retransmission or configuration updates.
func (s *Server) drainOne() bool {
	select {
	case ev := <-s.configCh:
		s.handleConfigEvent(ev)
		return true
	default:
	}
	select {
	case msg := <-s.timerCh:
		s.handleTimer(msg)
		return true
	default:
	}
	select {
	case dg := <-s.ingressCh:
		s.handleIngressPacket(dg)
		return true
	default:
	}
	select {
	case pkt := <-s.egressCh:
		s.handleEgressPacket(pkt)
		return true
	default:
	}
	return false
}

func (s *Server) ingressReadLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return
		}
		n, addr, err := s.transport.Recv(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.limited.Debug("UDP read error", "err", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.ingressCh <- datagram{addr: addr, data: data}:
		default:
			s.limited.Debug("ingress queue full, dropping datagram", "from", addr)
		}
	}
}

func (s *Server) tunnelReadLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		packet, err := s.tun.Read()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("tunnel read error", "err", err)
			return
		}
		select {
		case s.egressCh <- packet:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) sendDatagram(addr netip.AddrPort, data []byte) {
	if err := s.transport.Send(data, addr); err != nil {
		s.limited.Debug("send failed", "to", addr, "err", err)
	}
}

func (s *Server) sendHandshakeInit(p *peer.Peer) {
	p.Lock()
	newIndex, err := s.dev.AllocateIndex(p)
	if err != nil {
		p.Unlock()
		s.log.Error("allocate index for handshake init", "err", err)
		return
	}
	msg, displacedID, hadDisplaced, err := p.InitiateNewSession(s.dev.Identity, newIndex)
	if err != nil {
		s.dev.ReleaseIndex(newIndex)
		p.Unlock()
		s.log.Error("initiate new session", "err", err)
		return
	}
	if hadDisplaced {
		s.dev.ReleaseIndex(displacedID)
	}
	endpoint, hasEndpoint := p.Config.Endpoint, p.Config.HasEndpoint
	p.Unlock()

	if !hasEndpoint {
		s.log.Debug("no known endpoint, can't send handshake initiation", "peer", p.Config.PublicKey.ShortString())
		return
	}

	s.sendDatagram(endpoint, msg.Marshal())

	when := peer.RekeyTimeout + peer.TimerResolution*2
	s.timers.SpawnDelayed(when, timer.Rekey, p, newIndex)
}

func (s *Server) armSessionTimers(p *peer.Peer, ourIndex uint32) {
	s.timers.SpawnDelayed(peer.KeepaliveTimeout, timer.PassiveKeepalive, p, ourIndex)
	s.timers.SpawnDelayed(ratchet.RejectAfterTime, timer.Reject, p, ourIndex)

	p.Lock()
	keepalive := p.Config.PersistentKeepalive
	p.Unlock()
	if keepalive > 0 {
		s.timers.SpawnDelayed(keepalive, timer.PersistentKeepalive, p, ourIndex)
	}
}

// flushQueued sends every packet currently queued on p under its current
// session, encrypting each under the session the caller already confirmed
// is ready.
func (s *Server) flushQueued(p *peer.Peer, queued [][]byte) {
	for _, payload := range queued {
		s.sendTransport(p, payload)
	}
}

func (s *Server) sendTransport(p *peer.Peer, payload []byte) {
	p.Lock()
	msg, err := p.HandleOutgoingTransport(payload)
	if err == nil && len(payload) > 0 && p.Ladder.Current != nil {
		p.Ladder.Current.KeepaliveSent = false
	}
	endpoint, hasEndpoint := p.Config.Endpoint, p.Config.HasEndpoint
	p.Unlock()
	if err != nil {
		s.log.Debug("encrypt outgoing transport", "err", err)
		return
	}
	if !hasEndpoint {
		return
	}
	s.sendDatagram(endpoint, msg.Marshal())
}
