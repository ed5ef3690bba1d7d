package noise

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/kobuchi/wgcore/internal/identity"
)

// State tracks where a Handshake sits in the IK exchange. Within one
// exchange it only moves forward; a failed step leaves it where it was.
// Clear returns it to StateZeroed, and CreateInitiation starts a new
// exchange from any state.
type State int

const (
	StateZeroed State = iota
	StateInitiationCreated
	StateInitiationConsumed
	StateResponseCreated
	StateResponseConsumed
)

var (
	initialChainKey [chainLen]byte
	initialHash     [chainLen]byte
)

func init() {
	initialChainKey = blake2s.Sum256([]byte(construction))
	initialHash = mixHash(initialChainKey, []byte(identifier))
}

func mixHash(h [chainLen]byte, data []byte) [chainLen]byte {
	buf := make([]byte, 0, chainLen+len(data))
	buf = append(buf, h[:]...)
	buf = append(buf, data...)
	return blake2s.Sum256(buf)
}

func mixKey(ck [chainLen]byte, data []byte) [chainLen]byte {
	return kdf1(ck[:], data)
}

// Handshake holds the mutable state of one IK exchange with one peer. A
// Peer owns exactly one live Handshake at a time and is responsible for its
// own locking; this type performs no synchronization of its own.
type Handshake struct {
	State State

	Hash     [chainLen]byte
	ChainKey [chainLen]byte

	PresharedKey [32]byte

	LocalEphemeralPriv identity.PrivateKey
	LocalEphemeralPub  identity.PublicKey

	LocalIndex  uint32
	RemoteIndex uint32

	RemoteStatic    identity.PublicKey
	RemoteEphemeral identity.PublicKey

	// PrecomputedStaticStatic is DH(localStatic, RemoteStatic), cached once
	// when the peer is configured since it never changes.
	PrecomputedStaticStatic [32]byte
}

// Init seeds the static-static precomputation and preshared key for a newly
// configured peer. Call once when the peer is added, not per-handshake.
func (h *Handshake) Init(localPriv identity.PrivateKey, remoteStatic identity.PublicKey, psk [32]byte) error {
	ss, err := dh(localPriv, remoteStatic)
	if err != nil {
		return fmt.Errorf("precompute static-static secret: %w", err)
	}
	h.RemoteStatic = remoteStatic
	h.PrecomputedStaticStatic = ss
	h.PresharedKey = psk
	return nil
}

// Clear zeroes the ephemeral and chaining secrets once a Handshake has
// served its purpose (after keys are derived, or on abandonment). The
// static-static precomputation and remote static key are left intact since
// they're reused by the next handshake attempt.
func (h *Handshake) Clear() {
	h.Hash = [chainLen]byte{}
	h.ChainKey = [chainLen]byte{}
	h.LocalEphemeralPriv = identity.PrivateKey{}
	h.LocalEphemeralPub = identity.PublicKey{}
	h.RemoteEphemeral = identity.PublicKey{}
	h.RemoteIndex = 0
	h.State = StateZeroed
}

func (h *Handshake) mixHash(data []byte) { h.Hash = mixHash(h.Hash, data) }
func (h *Handshake) mixKey(data []byte)  { h.ChainKey = mixKey(h.ChainKey, data) }

func dh(priv identity.PrivateKey, pub identity.PublicKey) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return out, err
	}
	copy(out[:], secret)
	return out, nil
}

func newEphemeral() (identity.PrivateKey, identity.PublicKey, error) {
	id, err := identity.Generate()
	if err != nil {
		return identity.PrivateKey{}, identity.PublicKey{}, err
	}
	return id.PrivateKey, id.PublicKey, nil
}

// CreateInitiation builds the first handshake message as the initiator.
// localStatic is the device's own static keypair; h must already have been
// Init'd with the peer's static key.
func (h *Handshake) CreateInitiation(localStatic *identity.Static, localIndex uint32) (*MessageInitiation, error) {
	var err error
	h.Hash = initialHash
	h.ChainKey = initialChainKey
	h.LocalEphemeralPriv, h.LocalEphemeralPub, err = newEphemeral()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	h.LocalIndex = localIndex

	h.mixHash(h.RemoteStatic[:])

	msg := &MessageInitiation{Sender: localIndex, Ephemeral: h.LocalEphemeralPub}
	h.mixKey(msg.Ephemeral[:])
	h.mixHash(msg.Ephemeral[:])

	ss, err := dh(h.LocalEphemeralPriv, h.RemoteStatic)
	if err != nil {
		return nil, fmt.Errorf("ephemeral-static DH: %w", err)
	}
	var key [chacha20poly1305.KeySize]byte
	h.ChainKey, key = kdf2(h.ChainKey[:], ss[:])
	aead, _ := chacha20poly1305.New(key[:])
	aead.Seal(msg.Static[:0], zeroNonce[:], localStatic.PublicKey[:], h.Hash[:])
	h.mixHash(msg.Static[:])

	timestamp := Now()
	h.ChainKey, key = kdf2(h.ChainKey[:], h.PrecomputedStaticStatic[:])
	aead, _ = chacha20poly1305.New(key[:])
	aead.Seal(msg.Timestamp[:0], zeroNonce[:], timestamp[:], h.Hash[:])
	h.mixHash(msg.Timestamp[:])

	h.State = StateInitiationCreated
	return msg, nil
}

// ConsumeInitiationStaticKey performs the part of initiation processing
// that doesn't depend on knowing which peer sent it: it decrypts the
// sender's static public key using only this device's own private key.
// The caller looks up the Peer by the returned key and then calls
// FinishConsumeInitiation on that peer's Handshake.
func ConsumeInitiationStaticKey(localPriv identity.PrivateKey, localPub identity.PublicKey, msg *MessageInitiation) (remoteStatic identity.PublicKey, hash, chainKey [chainLen]byte, err error) {
	hash = mixHash(initialHash, localPub[:])
	hash = mixHash(hash, msg.Ephemeral[:])
	chainKey = mixKey(initialChainKey, msg.Ephemeral[:])

	ss, err := dh(localPriv, msg.Ephemeral)
	if err != nil {
		return remoteStatic, hash, chainKey, fmt.Errorf("ephemeral-static DH: %w", err)
	}
	var key [chacha20poly1305.KeySize]byte
	chainKey, key = kdf2(chainKey[:], ss[:])
	aead, _ := chacha20poly1305.New(key[:])
	if _, err := aead.Open(remoteStatic[:0], zeroNonce[:], msg.Static[:], hash[:]); err != nil {
		return remoteStatic, hash, chainKey, errors.New("decrypt initiator static key: authentication failed")
	}
	hash = mixHash(hash, msg.Static[:])
	return remoteStatic, hash, chainKey, nil
}

// FinishConsumeInitiation completes initiation processing once the peer
// owning remoteStatic has been identified: it decrypts the embedded
// timestamp using the peer's precomputed static-static secret. It does not
// itself enforce timestamp monotonicity; the caller compares the returned
// value against the peer's own ledger and decides whether to proceed.
func (h *Handshake) FinishConsumeInitiation(hash, chainKey [chainLen]byte, msg *MessageInitiation) (Timestamp, error) {
	var key [chacha20poly1305.KeySize]byte
	chainKey, key = kdf2(chainKey[:], h.PrecomputedStaticStatic[:])
	aead, _ := chacha20poly1305.New(key[:])

	var timestamp Timestamp
	if _, err := aead.Open(timestamp[:0], zeroNonce[:], msg.Timestamp[:], hash[:]); err != nil {
		return timestamp, errors.New("decrypt initiator timestamp: authentication failed")
	}
	hash = mixHash(hash, msg.Timestamp[:])

	h.Hash = hash
	h.ChainKey = chainKey
	h.RemoteIndex = msg.Sender
	h.RemoteEphemeral = msg.Ephemeral
	h.State = StateInitiationConsumed
	return timestamp, nil
}

// CreateResponse builds the second handshake message as the responder. h
// must be in StateInitiationConsumed.
func (h *Handshake) CreateResponse(localIndex uint32) (*MessageResponse, error) {
	if h.State != StateInitiationConsumed {
		return nil, errors.New("handshake initiation must be consumed before a response can be created")
	}
	var err error
	h.LocalEphemeralPriv, h.LocalEphemeralPub, err = newEphemeral()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	h.LocalIndex = localIndex

	msg := &MessageResponse{Sender: localIndex, Receiver: h.RemoteIndex, Ephemeral: h.LocalEphemeralPub}
	h.mixHash(msg.Ephemeral[:])
	h.mixKey(msg.Ephemeral[:])

	ss, err := dh(h.LocalEphemeralPriv, h.RemoteEphemeral)
	if err != nil {
		return nil, fmt.Errorf("ephemeral-ephemeral DH: %w", err)
	}
	h.mixKey(ss[:])
	ss, err = dh(h.LocalEphemeralPriv, h.RemoteStatic)
	if err != nil {
		return nil, fmt.Errorf("ephemeral-static DH: %w", err)
	}
	h.mixKey(ss[:])

	var tau [chainLen]byte
	var key [chacha20poly1305.KeySize]byte
	h.ChainKey, tau, key = kdf3(h.ChainKey[:], h.PresharedKey[:])
	h.mixHash(tau[:])

	aead, _ := chacha20poly1305.New(key[:])
	aead.Seal(msg.Empty[:0], zeroNonce[:], nil, h.Hash[:])
	h.mixHash(msg.Empty[:])

	h.State = StateResponseCreated
	return msg, nil
}

// ConsumeResponse processes the second handshake message as the initiator.
// localPriv is the device's own static private key, needed for the final
// ephemeral-static DH; h must be in StateInitiationCreated.
func (h *Handshake) ConsumeResponse(localPriv identity.PrivateKey, msg *MessageResponse) error {
	if h.State != StateInitiationCreated {
		return errors.New("no outstanding initiation to match this response against")
	}

	hash := mixHash(h.Hash, msg.Ephemeral[:])
	chainKey := mixKey(h.ChainKey, msg.Ephemeral[:])

	ss, err := dh(h.LocalEphemeralPriv, msg.Ephemeral)
	if err != nil {
		return fmt.Errorf("ephemeral-ephemeral DH: %w", err)
	}
	chainKey = mixKey(chainKey, ss[:])

	ss, err = dh(localPriv, msg.Ephemeral)
	if err != nil {
		return fmt.Errorf("static-ephemeral DH: %w", err)
	}
	chainKey = mixKey(chainKey, ss[:])

	return h.consumeResponse(hash, chainKey, msg)
}

func (h *Handshake) consumeResponse(hash, chainKey [chainLen]byte, msg *MessageResponse) error {
	var tau [chainLen]byte
	var key [chacha20poly1305.KeySize]byte
	chainKey, tau, key = kdf3(chainKey[:], h.PresharedKey[:])
	hash = mixHash(hash, tau[:])

	aead, _ := chacha20poly1305.New(key[:])
	if _, err := aead.Open(nil, zeroNonce[:], msg.Empty[:], hash[:]); err != nil {
		return errors.New("decrypt handshake response: authentication failed")
	}
	hash = mixHash(hash, msg.Empty[:])

	h.Hash = hash
	h.ChainKey = chainKey
	h.RemoteIndex = msg.Sender
	h.State = StateResponseConsumed
	return nil
}

// KeyPair is the pair of transport AEAD keys a completed handshake yields.
type KeyPair struct {
	Send        [chacha20poly1305.KeySize]byte
	Receive     [chacha20poly1305.KeySize]byte
	IsInitiator bool
}

// DeriveKeyPair finishes the handshake, producing the send/receive
// transport keys and clearing the handshake's chaining secrets. h must be
// in StateResponseConsumed (initiator) or StateResponseCreated (responder).
func (h *Handshake) DeriveKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	switch h.State {
	case StateResponseConsumed:
		kp.Send, kp.Receive = kdf2(h.ChainKey[:], nil)
		kp.IsInitiator = true
	case StateResponseCreated:
		kp.Receive, kp.Send = kdf2(h.ChainKey[:], nil)
		kp.IsInitiator = false
	default:
		return nil, fmt.Errorf("handshake not ready for key derivation (state %d)", h.State)
	}
	h.Clear()
	return kp, nil
}
