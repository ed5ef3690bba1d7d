package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/kobuchi/wgcore/internal/identity"
)

// Event is a configuration update fed into the Peer Server's
// highest-priority event stream. Exactly one concrete kind is populated per
// Event, matching the named configuration options: PrivateKey, ListenPort,
// PeerAdd, PeerPsk, PeerEndpoint, PeerKeepalive, PeerAllowedIp.
type Event interface {
	isConfigEvent()
}

type PrivateKeyEvent struct{ Key identity.PrivateKey }
type ListenPortEvent struct{ Port uint16 }
type PeerAddEvent struct {
	PublicKey identity.PublicKey
}
type PeerPskEvent struct {
	PublicKey identity.PublicKey
	Psk       [32]byte
	HasPsk    bool
}
type PeerEndpointEvent struct {
	PublicKey identity.PublicKey
	Endpoint  netip.AddrPort
}
type PeerKeepaliveEvent struct {
	PublicKey identity.PublicKey
	Interval  time.Duration
}
type PeerAllowedIPEvent struct {
	PublicKey identity.PublicKey
	Prefix    netip.Prefix
}

func (PrivateKeyEvent) isConfigEvent()    {}
func (ListenPortEvent) isConfigEvent()    {}
func (PeerAddEvent) isConfigEvent()       {}
func (PeerPskEvent) isConfigEvent()       {}
func (PeerEndpointEvent) isConfigEvent()  {}
func (PeerKeepaliveEvent) isConfigEvent() {}
func (PeerAllowedIPEvent) isConfigEvent() {}

// ToEvents flattens a loaded File into the ordered sequence of Events that
// would configure a fresh device identically: listen port, then one
// PeerAdd/PeerPsk/PeerEndpoint/PeerKeepalive/PeerAllowedIp run per peer.
// PrivateKeyEvent is not produced here since it depends on a key already
// loaded from IdentityPath by the caller.
func (f *File) ToEvents() ([]Event, error) {
	events := []Event{ListenPortEvent{Port: uint16(f.ListenPort)}}

	for _, pe := range f.Peers {
		pub, err := parsePublicKeyHex(pe.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", pe.PublicKey, err)
		}
		events = append(events, PeerAddEvent{PublicKey: pub})

		if pe.PresharedKey != "" {
			psk, err := parsePSKHex(pe.PresharedKey)
			if err != nil {
				return nil, fmt.Errorf("peer %q preshared key: %w", pe.PublicKey, err)
			}
			events = append(events, PeerPskEvent{PublicKey: pub, Psk: psk, HasPsk: true})
		}

		if pe.Endpoint != "" {
			ep, err := netip.ParseAddrPort(pe.Endpoint)
			if err != nil {
				return nil, fmt.Errorf("peer %q endpoint: %w", pe.PublicKey, err)
			}
			events = append(events, PeerEndpointEvent{PublicKey: pub, Endpoint: ep})
		}

		if pe.PersistentKeepalive > 0 {
			events = append(events, PeerKeepaliveEvent{
				PublicKey: pub,
				Interval:  time.Duration(pe.PersistentKeepalive) * time.Second,
			})
		}

		for _, cidr := range pe.AllowedIPs {
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, fmt.Errorf("peer %q allowed ip %q: %w", pe.PublicKey, cidr, err)
			}
			events = append(events, PeerAllowedIPEvent{PublicKey: pub, Prefix: prefix})
		}
	}

	return events, nil
}
