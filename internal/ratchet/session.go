// Package ratchet holds the Session type and the three-slot SessionLadder
// that preserves in-flight decryption across rekeys.
package ratchet

import (
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/kobuchi/wgcore/internal/noise"
)

// Timing thresholds governing rekey and session death.
const (
	RekeyAfterTime   = 120 * time.Second
	RejectAfterTime  = 180 * time.Second
	RekeyAfterMsgs   = 1 << 60
	RejectAfterMsgs  = 1 << 60
	replayWindowSize = 8192
)

// Session is a unidirectional-confirmed pair of symmetric keys plus the
// send/receive counters and anti-replay state that ride along with them.
type Session struct {
	LocalIndex  uint32
	RemoteIndex uint32

	send               [chacha20poly1305.KeySize]byte
	recv               [chacha20poly1305.KeySize]byte
	sendAEAD, recvAEAD cipherAEAD

	sendCounter uint64
	window      replayWindow

	EstablishedAt time.Time
	LastSent      time.Time
	LastReceived  time.Time

	Confirmed     bool
	KeepaliveSent bool

	isInitiator bool
}

// cipherAEAD is the minimal AEAD surface Session needs; it's an interface
// so tests can substitute a fake without pulling in real ChaCha20-Poly1305.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewSession builds a Session from a completed handshake's key pair and
// index assignment.
func NewSession(localIndex, remoteIndex uint32, kp *noise.KeyPair) (*Session, error) {
	s := &Session{
		LocalIndex:    localIndex,
		RemoteIndex:   remoteIndex,
		send:          kp.Send,
		recv:          kp.Receive,
		EstablishedAt: time.Now(),
		isInitiator:   kp.IsInitiator,
	}
	sendAEAD, err := chacha20poly1305.New(s.send[:])
	if err != nil {
		return nil, fmt.Errorf("build send cipher: %w", err)
	}
	recvAEAD, err := chacha20poly1305.New(s.recv[:])
	if err != nil {
		return nil, fmt.Errorf("build receive cipher: %w", err)
	}
	s.sendAEAD = sendAEAD
	s.recvAEAD = recvAEAD
	return s, nil
}

// IsInitiator reports whether this session was derived on the initiator
// side of its handshake.
func (s *Session) IsInitiator() bool { return s.isInitiator }

// Age reports how long the session has existed.
func (s *Session) Age() time.Duration { return time.Since(s.EstablishedAt) }

// NeedsRekey reports whether the session has crossed either rekey
// threshold and, if the caller is the initiator, should begin a new
// handshake.
func (s *Session) NeedsRekey() bool {
	return s.Age() >= RekeyAfterTime || s.sendCounter >= RekeyAfterMsgs
}

// Expired reports whether the session has crossed REJECT_AFTER_TIME or
// REJECT_AFTER_MESSAGES and must be destroyed.
func (s *Session) Expired() bool {
	return s.Age() >= RejectAfterTime || s.sendCounter >= RejectAfterMsgs
}

// Encrypt seals plaintext under the next send counter, returning the
// counter used and the sealed ciphertext (with its 16-byte tag appended).
// It is the caller's responsibility to ensure the session hasn't exceeded
// REJECT_AFTER_MESSAGES first.
func (s *Session) Encrypt(plaintext []byte) (counter uint64, ciphertext []byte) {
	counter = s.sendCounter
	s.sendCounter++

	var nonce [chacha20poly1305.NonceSize]byte
	putCounterNonce(&nonce, counter)

	ciphertext = s.sendAEAD.Seal(nil, nonce[:], plaintext, nil)
	s.LastSent = time.Now()
	return counter, ciphertext
}

// Decrypt opens a transport payload at the given counter, checking it
// against the anti-replay window first. On success the counter is recorded
// as accepted and the replay window advances if necessary.
func (s *Session) Decrypt(counter uint64, ciphertext []byte) ([]byte, error) {
	if !s.window.validate(counter) {
		return nil, fmt.Errorf("replayed or too-old counter %d", counter)
	}

	var nonce [chacha20poly1305.NonceSize]byte
	putCounterNonce(&nonce, counter)

	plaintext, err := s.recvAEAD.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt transport payload: %w", err)
	}

	s.window.accept(counter)
	s.LastReceived = time.Now()
	return plaintext, nil
}

// Zero overwrites the session's symmetric keys so they don't linger in
// memory past the session's death.
func (s *Session) Zero() {
	s.send = [chacha20poly1305.KeySize]byte{}
	s.recv = [chacha20poly1305.KeySize]byte{}
	s.sendAEAD = nil
	s.recvAEAD = nil
}

func putCounterNonce(nonce *[chacha20poly1305.NonceSize]byte, counter uint64) {
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(counter >> (8 * i))
	}
}
