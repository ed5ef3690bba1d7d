// Package peer holds per-peer state: configuration, the session ladder, the
// handshake-in-progress, the outbound queue, and the timing ledger that
// drives rekey decisions.
package peer

import (
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/noise"
	"github.com/kobuchi/wgcore/internal/ratchet"
)

// Timing constants governing handshake retry and liveness, named for the
// roles they play in the timer table.
const (
	RekeyTimeout     = 5 * time.Second
	RekeyAttemptTime = 90 * time.Second
	KeepaliveTimeout = 10 * time.Second
	TimerResolution  = 50 * time.Millisecond

	// MaxQueuedOutbound bounds the per-peer FIFO of inner packets waiting
	// for a session; the oldest is dropped once full.
	MaxQueuedOutbound = 256
)

// Config is the static/user-supplied configuration for a peer.
type Config struct {
	PublicKey           identity.PublicKey
	PresharedKey        [32]byte
	Endpoint            netip.AddrPort
	HasEndpoint         bool
	PersistentKeepalive time.Duration
	AllowedIPs          []netip.Prefix
}

// Peer owns everything the core tracks about one remote party: its
// configuration, session ladder, in-progress handshake, queued outbound
// packets, and the timestamps that gate rekeying. All mutation happens
// under mu, which the Peer Server takes around each step of an event that
// touches the peer.
type Peer struct {
	mu sync.Mutex

	Config Config
	Log    *slog.Logger

	Ladder    ratchet.Ladder
	Handshake noise.Handshake

	queue [][]byte

	LastSentInit  time.Time
	LastHandshake time.Time
	LastTunQueue  time.Time

	// lastTimestamp is the TAI64N ledger used to reject replayed or
	// out-of-order handshake initiations from this peer. It lives here
	// rather than on the transient Handshake because it must persist
	// across repeated or failed handshake attempts.
	lastTimestamp noise.Timestamp

	Cookie noise.CookieState
}

// New constructs a Peer ready to be added to a Device.
func New(cfg Config, localPriv identity.PrivateKey, log *slog.Logger) (*Peer, error) {
	p := &Peer{
		Config: cfg,
		Log:    log.With("peer", cfg.PublicKey.ShortString()),
	}
	if err := p.Handshake.Init(localPriv, cfg.PublicKey, cfg.PresharedKey); err != nil {
		return nil, err
	}
	return p, nil
}

// Lock/Unlock expose the peer's mutex so a single caller (the Peer Server
// loop) can hold it across a multi-step operation without re-entering
// through every method.
func (p *Peer) Lock()   { p.mu.Lock() }
func (p *Peer) Unlock() { p.mu.Unlock() }

// CheckAndAdvanceTimestamp reports whether ts is strictly newer than the
// last accepted timestamp from this peer and, if so, records it. Must be
// called with the peer locked.
func (p *Peer) CheckAndAdvanceTimestamp(ts noise.Timestamp) bool {
	if !p.lastTimestamp.IsZero() && !ts.After(p.lastTimestamp) {
		return false
	}
	p.lastTimestamp = ts
	return true
}

// QueueEgress appends an outbound inner packet, dropping the oldest queued
// packet if the bound is exceeded. Must be called with the peer locked.
func (p *Peer) QueueEgress(packet []byte) {
	if len(p.queue) == 0 {
		p.LastTunQueue = time.Now()
	}
	if len(p.queue) >= MaxQueuedOutbound {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, packet)
}

// DequeueAll drains and returns all queued outbound packets in order. Must
// be called with the peer locked.
func (p *Peer) DequeueAll() [][]byte {
	out := p.queue
	p.queue = nil
	return out
}

// QueueLen reports the number of queued outbound packets.
func (p *Peer) QueueLen() int {
	return len(p.queue)
}

// ReadyForTransport reports whether the peer has a current session that
// can carry traffic right now, i.e. one that has not crossed its reject
// threshold. Must be called with the peer locked.
func (p *Peer) ReadyForTransport() bool {
	return p.Ladder.Current != nil && !p.Ladder.Current.Expired()
}

// NeedsNewHandshake reports whether the peer should begin a fresh
// handshake: no session is ready for transport, no session is waiting in
// the next slot, and the initiation throttle has expired. Must be called
// with the peer locked.
func (p *Peer) NeedsNewHandshake() bool {
	if p.ReadyForTransport() {
		return false
	}
	if p.Ladder.Next != nil {
		return false
	}
	return time.Since(p.LastSentInit) >= RekeyTimeout
}

// CanSendInitiation enforces the per-peer throttle: a new initiation is
// refused if one was sent too recently. Must be called with the peer locked.
func (p *Peer) CanSendInitiation() bool {
	return time.Since(p.LastSentInit) >= RekeyTimeout
}

// FindSession looks up which ladder slot (if any) currently holds
// localIndex. Must be called with the peer locked.
func (p *Peer) FindSession(localIndex uint32) (*ratchet.Session, ratchet.Slot) {
	return p.Ladder.Find(localIndex)
}
