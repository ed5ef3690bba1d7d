package server

import (
	"time"

	"github.com/kobuchi/wgcore/internal/peer"
	"github.com/kobuchi/wgcore/internal/ratchet"
	"github.com/kobuchi/wgcore/internal/timer"
)

func (s *Server) handleTimer(msg timer.Message) {
	p, ok := msg.Owner.(*peer.Peer)
	if !ok {
		s.log.Error("timer message with unexpected owner type")
		return
	}

	switch msg.Kind {
	case timer.Rekey:
		s.handleRekeyTimer(p, msg.Index)
	case timer.Reject:
		s.handleRejectTimer(p, msg.Index)
	case timer.PassiveKeepalive:
		s.handlePassiveKeepaliveTimer(p, msg.Index)
	case timer.PersistentKeepalive:
		s.handlePersistentKeepaliveTimer(p, msg.Index)
	}
}

func (s *Server) handleRekeyTimer(p *peer.Peer, ourIndex uint32) {
	p.Lock()

	// An initiation we sent is tracked on the Handshake, not the session
	// ladder — it only reaches the ladder once a response installs a
	// session. Check it first so a lost initiation gets retransmitted
	// instead of being mistaken for a dead session.
	if activeIndex, ok := p.HandshakeActiveIndex(); ok && activeIndex == ourIndex {
		if time.Since(p.LastSentInit) < peer.RekeyTimeout {
			wait := peer.RekeyTimeout - time.Since(p.LastSentInit) + peer.TimerResolution*2
			p.Unlock()
			s.timers.SpawnDelayed(wait, timer.Rekey, p, ourIndex)
			return
		}
		if !p.LastTunQueue.IsZero() && time.Since(p.LastTunQueue) > peer.RekeyAttemptTime {
			p.LastTunQueue = time.Time{}
			p.Unlock()
			s.log.Debug("rekey attempt time exceeded, giving up", "index", ourIndex)
			return
		}
		p.Unlock()
		s.sendHandshakeInit(p)
		return
	}

	_, slot := p.FindSession(ourIndex)
	switch slot {
	case ratchet.SlotCurrent:
		sinceHandshake := time.Since(p.LastHandshake)
		if sinceHandshake <= ratchet.RekeyAfterTime {
			wait := ratchet.RekeyAfterTime - sinceHandshake + peer.TimerResolution*2
			p.Unlock()
			s.timers.SpawnDelayed(wait, timer.Rekey, p, ourIndex)
			return
		}
	default:
		p.Unlock()
		s.log.Debug("rekey timer fired for a dead session, ignoring", "index", ourIndex)
		return
	}
	p.Unlock()

	s.sendHandshakeInit(p)
}

func (s *Server) handleRejectTimer(p *peer.Peer, ourIndex uint32) {
	p.Lock()
	session, slot := p.FindSession(ourIndex)
	if session == nil {
		p.Unlock()
		return
	}
	switch slot {
	case ratchet.SlotNext:
		p.Ladder.Next = nil
	case ratchet.SlotCurrent:
		p.Ladder.Current = nil
	case ratchet.SlotPast:
		p.Ladder.Past = nil
	}
	session.Zero()
	p.Unlock()

	s.dev.ReleaseIndex(ourIndex)
	s.log.Debug("rejection timeout, session ejected", "index", ourIndex)
}

func (s *Server) handlePassiveKeepaliveTimer(p *peer.Peer, ourIndex uint32) {
	p.Lock()
	session, slot := p.FindSession(ourIndex)
	if session == nil || slot != ratchet.SlotCurrent {
		p.Unlock()
		return
	}

	sinceRecv := time.Since(session.LastReceived)
	sinceSent := time.Since(session.LastSent)
	switch {
	case sinceRecv < peer.KeepaliveTimeout:
		wait := peer.KeepaliveTimeout - sinceRecv + peer.TimerResolution
		p.Unlock()
		s.timers.SpawnDelayed(wait, timer.PassiveKeepalive, p, ourIndex)
		return
	case sinceSent < peer.KeepaliveTimeout:
		wait := peer.KeepaliveTimeout - sinceSent + peer.TimerResolution
		p.Unlock()
		s.timers.SpawnDelayed(wait, timer.PassiveKeepalive, p, ourIndex)
		return
	case session.KeepaliveSent:
		p.Unlock()
		s.timers.SpawnDelayed(peer.KeepaliveTimeout, timer.PassiveKeepalive, p, ourIndex)
		return
	default:
		session.KeepaliveSent = true
	}
	p.Unlock()

	s.sendTransport(p, nil)
	s.timers.SpawnDelayed(peer.KeepaliveTimeout, timer.PassiveKeepalive, p, ourIndex)
}

func (s *Server) handlePersistentKeepaliveTimer(p *peer.Peer, ourIndex uint32) {
	p.Lock()
	_, slot := p.FindSession(ourIndex)
	keepalive := p.Config.PersistentKeepalive
	p.Unlock()
	if slot != ratchet.SlotCurrent {
		return
	}

	s.sendTransport(p, nil)

	if keepalive > 0 {
		s.timers.SpawnDelayed(keepalive, timer.PersistentKeepalive, p, ourIndex)
	}
}
