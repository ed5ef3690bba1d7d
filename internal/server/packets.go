package server

import (
	"github.com/kobuchi/wgcore/internal/noise"
	"github.com/kobuchi/wgcore/internal/ratchet"
	"github.com/kobuchi/wgcore/internal/tunnel"
)

func (s *Server) handleIngressPacket(dg datagram) {
	typ, err := noise.PeekMessageType(dg.data)
	if err != nil {
		s.limited.Debug("short UDP packet", "from", dg.addr, "err", err)
		return
	}

	switch typ {
	case noise.MessageInitiationType:
		s.handleIngressInitiation(dg)
	case noise.MessageResponseType:
		s.handleIngressResponse(dg)
	case noise.MessageCookieReplyType:
		s.handleIngressCookieReply(dg)
	case noise.MessageTransportType:
		s.handleIngressTransport(dg)
	default:
		s.limited.Debug("unknown wire message type", "type", typ, "from", dg.addr)
	}
}

func (s *Server) handleIngressInitiation(dg datagram) {
	if len(dg.data) != noise.MessageInitiationSize {
		s.limited.Debug("bad initiation length", "from", dg.addr)
		return
	}
	if !s.dev.Cookie.CheckMAC1(dg.data[:len(dg.data)-32], mac1Of(dg.data)) {
		s.limited.Debug("initiation failed MAC1 check", "from", dg.addr)
		return
	}

	var msg noise.MessageInitiation
	if err := msg.Unmarshal(dg.data); err != nil {
		s.limited.Debug("unmarshal initiation", "err", err)
		return
	}

	remoteStatic, hash, chainKey, err := noise.ConsumeInitiationStaticKey(
		s.dev.Identity.PrivateKey, s.dev.Identity.PublicKey, &msg)
	if err != nil {
		s.limited.Debug("consume initiation static key", "err", err, "from", dg.addr)
		return
	}

	p, err := s.dev.LookupByPublicKey(remoteStatic)
	if err != nil {
		s.limited.Debug("initiation from unknown peer pubkey", "from", dg.addr)
		return
	}

	p.Lock()
	newIndex, err := s.dev.AllocateIndex(p)
	if err != nil {
		p.Unlock()
		s.log.Error("allocate index for incoming handshake", "err", err)
		return
	}
	resp, kp, err := p.CompleteIncomingHandshake(hash, chainKey, &msg, newIndex)
	if err != nil {
		p.Unlock()
		s.dev.ReleaseIndex(newIndex)
		s.limited.Debug("complete incoming handshake", "err", err, "from", dg.addr)
		return
	}

	session, err := ratchet.NewSession(newIndex, msg.Sender, kp)
	if err != nil {
		p.Unlock()
		s.dev.ReleaseIndex(newIndex)
		s.log.Error("build responder session", "err", err)
		return
	}
	displacedID, hadDisplaced := p.InstallResponderSession(session)
	p.Config.Endpoint = dg.addr
	p.Config.HasEndpoint = true
	p.Unlock()

	if hadDisplaced {
		s.dev.ReleaseIndex(displacedID)
	}

	s.sendDatagram(dg.addr, resp.Marshal())
	s.log.Debug("sent handshake response", "index", newIndex)

	s.armSessionTimers(p, newIndex)
}

func (s *Server) handleIngressResponse(dg datagram) {
	if len(dg.data) != noise.MessageResponseSize {
		s.limited.Debug("bad response length", "from", dg.addr)
		return
	}
	if !s.dev.Cookie.CheckMAC1(dg.data[:len(dg.data)-32], mac1Of(dg.data)) {
		s.limited.Debug("response failed MAC1 check", "from", dg.addr)
		return
	}

	var msg noise.MessageResponse
	if err := msg.Unmarshal(dg.data); err != nil {
		s.limited.Debug("unmarshal response", "err", err)
		return
	}

	p, err := s.dev.LookupByReceiverID(msg.Receiver)
	if err != nil {
		s.limited.Debug("response for unknown receiver id", "index", msg.Receiver, "from", dg.addr)
		return
	}

	p.Lock()
	kp, err := p.ProcessIncomingHandshakeResponse(s.dev.Identity.PrivateKey, &msg)
	if err != nil {
		p.Unlock()
		s.limited.Debug("process handshake response", "err", err, "from", dg.addr)
		return
	}
	session, err := ratchet.NewSession(msg.Receiver, msg.Sender, kp)
	if err != nil {
		p.Unlock()
		s.log.Error("build initiator session", "err", err)
		return
	}
	releasedIDs := p.InstallInitiatorSession(session)
	p.Config.Endpoint = dg.addr
	p.Config.HasEndpoint = true
	queued := p.DequeueAll()
	p.Unlock()

	for _, id := range releasedIDs {
		s.dev.ReleaseIndex(id)
	}

	if len(queued) > 0 {
		s.flushQueued(p, queued)
	} else {
		s.sendTransport(p, nil)
	}

	s.log.Debug("handshake response received, session promoted", "index", msg.Receiver)
	s.armSessionTimers(p, msg.Receiver)
}

func (s *Server) handleIngressCookieReply(dg datagram) {
	if len(dg.data) != noise.MessageCookieReplySize {
		s.limited.Debug("bad cookie reply length", "from", dg.addr)
		return
	}
	var msg noise.MessageCookieReply
	if err := msg.Unmarshal(dg.data); err != nil {
		s.limited.Debug("unmarshal cookie reply", "err", err)
		return
	}

	p, err := s.dev.LookupByReceiverID(msg.Receiver)
	if err != nil {
		s.limited.Debug("cookie reply for unknown receiver id", "index", msg.Receiver)
		return
	}

	p.Lock()
	err = p.Cookie.ConsumeReply(&msg, p.Config.PublicKey)
	p.Unlock()
	if err != nil {
		s.limited.Debug("consume cookie reply", "err", err)
	}
}

func (s *Server) handleIngressTransport(dg datagram) {
	var msg noise.MessageTransport
	if err := msg.Unmarshal(dg.data); err != nil {
		s.limited.Debug("unmarshal transport packet", "err", err, "from", dg.addr)
		return
	}

	p, err := s.dev.LookupByReceiverID(msg.Receiver)
	if err != nil {
		s.limited.Debug("transport packet for unknown receiver id", "index", msg.Receiver, "from", dg.addr)
		return
	}

	p.Lock()
	session, slot := p.FindSession(msg.Receiver)
	if session == nil {
		p.Unlock()
		s.limited.Debug("transport packet for dead session", "index", msg.Receiver)
		return
	}
	plaintext, promotedPastID, hadPromotion, err := p.HandleIncomingTransport(session, slot, &msg)
	if err != nil {
		p.Unlock()
		s.limited.Debug("decrypt transport packet", "err", err, "from", dg.addr)
		return
	}
	p.Config.Endpoint = dg.addr
	p.Config.HasEndpoint = true
	var queued [][]byte
	if hadPromotion {
		queued = p.DequeueAll()
	}
	p.Unlock()

	if hadPromotion {
		s.dev.ReleaseIndex(promotedPastID)
		s.flushQueued(p, queued)
	}

	if len(plaintext) == 0 {
		s.log.Debug("received keepalive", "index", msg.Receiver)
		return
	}

	if !s.router.ValidateSource(plaintext, p) {
		s.limited.Debug("dropping transport packet with disallowed source", "index", msg.Receiver)
		return
	}
	if err := s.tun.Write(plaintext); err != nil {
		s.log.Error("tunnel write error", "err", err)
	}
}

func (s *Server) handleEgressPacket(packet []byte) {
	if len(packet) < 1 || len(packet) > tunnel.MaxContentSize {
		s.log.Debug("egress packet outside size bounds", "len", len(packet))
		return
	}

	p, ok := s.router.RouteToPeer(packet)
	if !ok {
		s.log.Debug("no route to peer for egress packet")
		return
	}

	p.Lock()
	p.QueueEgress(packet)
	ready := p.ReadyForTransport()
	var queued [][]byte
	if ready {
		queued = p.DequeueAll()
	}
	needsHandshake := p.NeedsNewHandshake()
	p.Unlock()

	if ready {
		s.flushQueued(p, queued)
	}
	if needsHandshake {
		s.log.Debug("sending handshake init because peer needs it")
		s.sendHandshakeInit(p)
	}
}

// mac1Of reads the MAC1 field, the 16 bytes just before the final MAC2
// slot, out of a raw initiation or response datagram.
func mac1Of(data []byte) [16]byte {
	var mac1 [16]byte
	copy(mac1[:], data[len(data)-32:len(data)-16])
	return mac1
}
