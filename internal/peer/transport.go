package peer

import (
	"errors"

	"github.com/kobuchi/wgcore/internal/noise"
	"github.com/kobuchi/wgcore/internal/ratchet"
)

// HandleOutgoingTransport encrypts payload (which may be empty, for a
// keepalive) under the peer's current session. Must be called with the
// peer locked and ReadyForTransport already checked.
func (p *Peer) HandleOutgoingTransport(payload []byte) (*noise.MessageTransport, error) {
	session := p.Ladder.Current
	if session == nil {
		return nil, errors.New("no current session to encrypt under")
	}
	if session.Expired() {
		return nil, errors.New("current session has exceeded its reject threshold")
	}

	counter, ciphertext := session.Encrypt(payload)
	return &noise.MessageTransport{
		Receiver: session.RemoteIndex,
		Counter:  counter,
		Packet:   ciphertext,
	}, nil
}

// HandleIncomingTransport decrypts msg against session (found in slot by
// the caller via FindSession). If the session was in next, this authenticated
// traffic promotes it to current. If it was already current, this marks it
// confirmed, since that only otherwise happens on promotion. Must be called
// with the peer locked.
func (p *Peer) HandleIncomingTransport(session *ratchet.Session, slot ratchet.Slot, msg *noise.MessageTransport) (plaintext []byte, promotedPastID uint32, hadPromotion bool, err error) {
	plaintext, err = session.Decrypt(msg.Counter, msg.Packet)
	if err != nil {
		return nil, 0, false, err
	}
	switch slot {
	case ratchet.SlotNext:
		promotedPastID, hadPromotion = p.Ladder.Promote()
	case ratchet.SlotCurrent:
		session.Confirmed = true
	}
	return plaintext, promotedPastID, hadPromotion, nil
}
