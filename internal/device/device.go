// Package device is the top-level holder of a device's static identity and
// its peer set: the public-key-to-peer map and the receiver-id-to-peer map
// described by the core's data model.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/indexmap"
	"github.com/kobuchi/wgcore/internal/noise"
	"github.com/kobuchi/wgcore/internal/peer"
)

// ErrDuplicatePublicKey is returned by Add when the given public key is
// already configured.
var ErrDuplicatePublicKey = errors.New("device: duplicate public key")

// ErrSelfPublicKey is returned by Add when the given public key equals the
// device's own static public key.
var ErrSelfPublicKey = errors.New("device: public key matches this device's own identity")

// ErrUnknownPublicKey is returned when a lookup by public key misses.
var ErrUnknownPublicKey = errors.New("device: unknown public key")

// ErrUnknownReceiverID is returned when a lookup by receiver id misses.
var ErrUnknownReceiverID = errors.New("device: unknown receiver id")

// Device holds the static identity and peer set. The public-key map is
// effectively immutable after configuration quiescence (peer removal is
// not supported — a fresh Device must be constructed); the receiver-id map
// is mutated by every handshake and session transition.
type Device struct {
	Identity *identity.Static
	Log      *slog.Logger

	Cookie noise.CookieChecker

	mu    sync.RWMutex
	byKey map[identity.PublicKey]*peer.Peer
	ids   *indexmap.Map[*peer.Peer]
}

// New constructs a Device from a static identity.
func New(id *identity.Static, log *slog.Logger) *Device {
	d := &Device{
		Identity: id,
		Log:      log.With("device", id.Hex()[:8]),
		byKey:    make(map[identity.PublicKey]*peer.Peer),
		ids:      indexmap.New[*peer.Peer](),
	}
	d.Cookie.Init(id.PublicKey)
	return d
}

// Add configures a new peer. Peer removal is not supported; a fresh Device
// must be constructed to shrink the peer set.
func (d *Device) Add(cfg peer.Config) (*peer.Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cfg.PublicKey == d.Identity.PublicKey {
		return nil, ErrSelfPublicKey
	}
	if _, exists := d.byKey[cfg.PublicKey]; exists {
		return nil, ErrDuplicatePublicKey
	}

	p, err := peer.New(cfg, d.Identity.PrivateKey, d.Log)
	if err != nil {
		return nil, fmt.Errorf("construct peer: %w", err)
	}
	d.byKey[cfg.PublicKey] = p
	return p, nil
}

// LookupByPublicKey returns the peer configured under pk.
func (d *Device) LookupByPublicKey(pk identity.PublicKey) (*peer.Peer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.byKey[pk]
	if !ok {
		return nil, ErrUnknownPublicKey
	}
	return p, nil
}

// LookupByReceiverID returns the peer currently holding id in one of its
// session/handshake slots.
func (d *Device) LookupByReceiverID(id uint32) (*peer.Peer, error) {
	p, ok := d.ids.Lookup(id)
	if !ok {
		return nil, ErrUnknownReceiverID
	}
	return p, nil
}

// AllocateIndex draws a fresh receiver id for p.
func (d *Device) AllocateIndex(p *peer.Peer) (uint32, error) {
	return d.ids.Allocate(p)
}

// ReleaseIndex returns id to the pool.
func (d *Device) ReleaseIndex(id uint32) {
	d.ids.Release(id)
}

// SetPrivateKey replaces the device's static private key, deriving the new
// public key and re-keying the MAC1 checker. It does not touch any peer's
// precomputed static-static secret or handshake state — the caller must
// re-run Handshake.Init for every configured peer under the new private
// key, since that precomputation depends on it.
func (d *Device) SetPrivateKey(priv identity.PrivateKey) error {
	id, err := identity.FromPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("derive identity from new private key: %w", err)
	}
	d.mu.Lock()
	d.Identity = id
	d.mu.Unlock()
	d.Cookie.Init(id.PublicKey)
	return nil
}

// Peers returns a snapshot of all configured peers.
func (d *Device) Peers() []*peer.Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*peer.Peer, 0, len(d.byKey))
	for _, p := range d.byKey {
		out = append(out, p)
	}
	return out
}

// Teardown releases every receiver id and zeroes every session's key
// material, for use on fatal error or graceful shutdown.
func (d *Device) Teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.byKey {
		p.Lock()
		for _, id := range p.Ladder.Clear() {
			d.ids.Release(id)
		}
		if id, ok := p.HandshakeActiveIndex(); ok {
			d.ids.Release(id)
		}
		p.Unlock()
	}
}
