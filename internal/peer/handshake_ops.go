package peer

import (
	"fmt"
	"time"

	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/noise"
	"github.com/kobuchi/wgcore/internal/ratchet"
)

// InstallResponderSession places a freshly derived responder session into
// the ladder: directly into current if none exists yet, otherwise into
// next (displacing and returning any session that was already there).
// Must be called with the peer locked.
func (p *Peer) InstallResponderSession(s *ratchet.Session) (displacedID uint32, hadDisplaced bool) {
	if p.Ladder.Current == nil {
		p.Ladder.SetCurrentDirect(s)
		return 0, false
	}
	return p.Ladder.SetNext(s)
}

// InstallInitiatorSession places a freshly derived initiator session
// directly into current. Unlike the responder, who waits in next for
// confirming traffic, the initiator already holds valid send and receive
// keys the moment the response authenticates, so there is nothing left to
// wait for: the session is pushed through next straight into current,
// moving the old current into past (releasing whatever was in past before
// that) and releasing any handshake that was racing it in next. Must be
// called with the peer locked.
func (p *Peer) InstallInitiatorSession(s *ratchet.Session) (releasedIDs []uint32) {
	if displacedID, hadDisplaced := p.Ladder.SetNext(s); hadDisplaced {
		releasedIDs = append(releasedIDs, displacedID)
	}
	if releasedPastID, hadPast := p.Ladder.Promote(); hadPast {
		releasedIDs = append(releasedIDs, releasedPastID)
	}
	return releasedIDs
}

// HandshakeActiveIndex reports the local index of an in-progress handshake,
// if any. Must be called with the peer locked.
func (p *Peer) HandshakeActiveIndex() (uint32, bool) {
	if p.Handshake.State == noise.StateZeroed {
		return 0, false
	}
	return p.Handshake.LocalIndex, true
}

// InitiateNewSession builds a fresh handshake initiation as the initiator,
// using newIndex (already allocated by the caller's index map). If a
// handshake was already outstanding, its index is returned as displaced so
// the caller can release it. Must be called with the peer locked.
func (p *Peer) InitiateNewSession(localStatic *identity.Static, newIndex uint32) (msg *noise.MessageInitiation, displacedID uint32, hadDisplaced bool, err error) {
	displacedID, hadDisplaced = p.HandshakeActiveIndex()

	msg, err = p.Handshake.CreateInitiation(localStatic, newIndex)
	if err != nil {
		return nil, displacedID, hadDisplaced, fmt.Errorf("create handshake initiation: %w", err)
	}
	noise.AttachMAC1Initiation(msg, p.Config.PublicKey)
	if b := msg.Marshal(); len(b) >= 16 {
		if mac2, ok := p.Cookie.AddMAC2(b[:len(b)-16]); ok {
			msg.MAC2 = mac2
		}
	}
	p.Cookie.RecordMAC1(msg.MAC1)

	p.LastSentInit = time.Now()
	return msg, displacedID, hadDisplaced, nil
}

// CompleteIncomingHandshake finishes the responder side of a handshake
// whose static key has already been decrypted and matched to this peer by
// the caller (via noise.ConsumeInitiationStaticKey). It checks the
// embedded timestamp against the peer's ledger, builds the response, and
// derives the session key pair. It does not install a session; the caller
// builds one from the key pair and places it with InstallResponderSession.
// Must be called with the peer locked.
func (p *Peer) CompleteIncomingHandshake(hash, chainKey [32]byte, initMsg *noise.MessageInitiation, newIndex uint32) (resp *noise.MessageResponse, kp *noise.KeyPair, err error) {
	timestamp, err := p.Handshake.FinishConsumeInitiation(hash, chainKey, initMsg)
	if err != nil {
		return nil, nil, fmt.Errorf("finish consuming initiation: %w", err)
	}
	if !p.CheckAndAdvanceTimestamp(timestamp) {
		return nil, nil, fmt.Errorf("stale or replayed handshake timestamp")
	}

	resp, err = p.Handshake.CreateResponse(newIndex)
	if err != nil {
		return nil, nil, fmt.Errorf("create handshake response: %w", err)
	}
	noise.AttachMAC1Response(resp, p.Config.PublicKey)

	kp, err = p.Handshake.DeriveKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("derive responder key pair: %w", err)
	}

	p.LastHandshake = time.Now()
	return resp, kp, nil
}

// ProcessIncomingHandshakeResponse completes the initiator side: it
// authenticates the response against the outstanding handshake and derives
// the session key pair, which the caller installs with
// InstallInitiatorSession. Must be called with the peer locked.
func (p *Peer) ProcessIncomingHandshakeResponse(localPriv identity.PrivateKey, resp *noise.MessageResponse) (*noise.KeyPair, error) {
	if err := p.Handshake.ConsumeResponse(localPriv, resp); err != nil {
		return nil, fmt.Errorf("consume handshake response: %w", err)
	}
	kp, err := p.Handshake.DeriveKeyPair()
	if err != nil {
		return nil, fmt.Errorf("derive initiator key pair: %w", err)
	}
	p.LastHandshake = time.Now()
	return kp, nil
}
