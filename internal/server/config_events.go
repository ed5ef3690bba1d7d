package server

import (
	"github.com/kobuchi/wgcore/internal/config"
	"github.com/kobuchi/wgcore/internal/peer"
	"github.com/kobuchi/wgcore/internal/router"
)

func (s *Server) handleConfigEvent(ev config.Event) {
	switch e := ev.(type) {
	case config.PrivateKeyEvent:
		if err := s.dev.SetPrivateKey(e.Key); err != nil {
			s.log.Error("set private key", "err", err)
			return
		}
		newPriv := s.dev.Identity.PrivateKey
		for _, p := range s.dev.Peers() {
			p.Lock()
			err := p.Handshake.Init(newPriv, p.Config.PublicKey, p.Config.PresharedKey)
			p.Unlock()
			if err != nil {
				s.log.Error("rekey handshake after private key rotation", "peer", p.Config.PublicKey.ShortString(), "err", err)
			}
		}

	case config.ListenPortEvent:
		s.log.Info("listen port configured", "port", e.Port)

	case config.PeerAddEvent:
		p, err := s.dev.Add(peer.Config{PublicKey: e.PublicKey})
		if err != nil {
			s.log.Error("add peer", "err", err)
			return
		}
		if table, ok := s.router.(*router.AllowedIPTable); ok {
			table.AddPeer(p)
		}

	case config.PeerPskEvent:
		p, err := s.dev.LookupByPublicKey(e.PublicKey)
		if err != nil {
			s.log.Error("preshared key for unknown peer", "err", err)
			return
		}
		p.Lock()
		p.Config.PresharedKey = e.Psk
		err = p.Handshake.Init(s.dev.Identity.PrivateKey, p.Config.PublicKey, e.Psk)
		p.Unlock()
		if err != nil {
			s.log.Error("reinit handshake with preshared key", "err", err)
		}

	case config.PeerEndpointEvent:
		p, err := s.dev.LookupByPublicKey(e.PublicKey)
		if err != nil {
			s.log.Error("endpoint for unknown peer", "err", err)
			return
		}
		p.Lock()
		p.Config.Endpoint = e.Endpoint
		p.Config.HasEndpoint = true
		p.Unlock()

	case config.PeerKeepaliveEvent:
		p, err := s.dev.LookupByPublicKey(e.PublicKey)
		if err != nil {
			s.log.Error("keepalive for unknown peer", "err", err)
			return
		}
		p.Lock()
		p.Config.PersistentKeepalive = e.Interval
		p.Unlock()

	case config.PeerAllowedIPEvent:
		p, err := s.dev.LookupByPublicKey(e.PublicKey)
		if err != nil {
			s.log.Error("allowed ip for unknown peer", "err", err)
			return
		}
		p.Lock()
		p.Config.AllowedIPs = append(p.Config.AllowedIPs, e.Prefix)
		p.Unlock()

	default:
		s.log.Warn("unhandled config event", "type", e)
	}
}
