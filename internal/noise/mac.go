package noise

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// cookieRefreshDuration is how long a responder's rotating secret, and the
// cookies derived from it, stay valid before being replaced.
const cookieRefreshDuration = 2 * time.Minute

// CookieChecker validates the MAC1/MAC2 fields a peer attaches to its own
// handshake-initiation and response messages, and mints cookie replies once
// the device decides it is under load.
type CookieChecker struct {
	mu sync.RWMutex

	mac1Key [chainLen]byte

	secret        [chainLen]byte
	secretSet     time.Time
	encryptionKey [chacha20poly1305.KeySize]byte
}

// Init derives the MAC1 key and cookie-encryption key from the local
// device's static public key. Called when the identity is loaded, and again
// whenever the device's private key is replaced.
func (c *CookieChecker) Init(localStatic [PublicKeySize]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mac1Hash, _ := blake2s.New256(nil)
	mac1Hash.Write([]byte(labelMAC1))
	mac1Hash.Write(localStatic[:])
	mac1Hash.Sum(c.mac1Key[:0])

	cookieHash, _ := blake2s.New256(nil)
	cookieHash.Write([]byte(labelCookie))
	cookieHash.Write(localStatic[:])
	cookieHash.Sum(c.encryptionKey[:0])

	c.secretSet = time.Time{}
}

// CheckMAC1 recomputes MAC1 over msg (the message minus its own MAC1 and
// MAC2 fields) and reports whether it matches mac1.
func (c *CookieChecker) CheckMAC1(msg []byte, mac1 [16]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var want [16]byte
	computeMAC(&want, c.mac1Key[:], msg)
	return hmac.Equal(want[:], mac1[:])
}

// CheckMAC2 reports whether mac2 matches a cookie derived from the caller's
// source address under the checker's current rotating secret.
func (c *CookieChecker) CheckMAC2(msg []byte, sourceAddr []byte, mac2 [16]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if time.Since(c.secretSet) > cookieRefreshDuration {
		return false
	}

	var cookie [16]byte
	computeMAC(&cookie, c.secret[:], sourceAddr)

	var want [16]byte
	computeMAC(&want, cookie[:], msg)
	return hmac.Equal(want[:], mac2[:])
}

// CreateReply builds an encrypted MessageCookieReply in response to a
// message whose MAC2 failed (or was absent) while the device is under load.
// receiverMAC1 is the triggering message's own MAC1, used as associated data
// so the cookie reply can't be replayed against a different message.
func (c *CookieChecker) CreateReply(sourceAddr []byte, receiver uint32, receiverMAC1 [16]byte) (*MessageCookieReply, error) {
	c.mu.Lock()
	if time.Since(c.secretSet) > cookieRefreshDuration {
		if _, err := rand.Read(c.secret[:]); err != nil {
			c.mu.Unlock()
			return nil, fmt.Errorf("refresh cookie secret: %w", err)
		}
		c.secretSet = time.Now()
	}
	var cookie [16]byte
	computeMAC(&cookie, c.secret[:], sourceAddr)
	encKey := c.encryptionKey
	c.mu.Unlock()

	reply := &MessageCookieReply{Receiver: receiver}
	if _, err := rand.Read(reply.Nonce[:]); err != nil {
		return nil, fmt.Errorf("generate cookie reply nonce: %w", err)
	}

	aead, err := chacha20poly1305.NewX(encKey[:])
	if err != nil {
		return nil, fmt.Errorf("build cookie reply cipher: %w", err)
	}
	aead.Seal(reply.Cookie[:0], reply.Nonce[:], cookie[:], receiverMAC1[:])
	return reply, nil
}

// CookieState is held per-peer on the initiator side: the last cookie value
// handed out by the responder, used to compute MAC2 on subsequent
// initiations until it expires.
type CookieState struct {
	mu           sync.Mutex
	haveCookie   bool
	cookie       [16]byte
	lastMAC1     [16]byte
	haveLastMAC1 bool
}

// ConsumeReply decrypts an incoming MessageCookieReply, using the cookie key
// derived from the replying peer's static public key, and stores its cookie
// for use on the next outgoing message.
func (s *CookieState) ConsumeReply(reply *MessageCookieReply, remoteStatic [PublicKeySize]byte) error {
	var encKey [chacha20poly1305.KeySize]byte
	h, _ := blake2s.New256(nil)
	h.Write([]byte(labelCookie))
	h.Write(remoteStatic[:])
	h.Sum(encKey[:0])

	aead, err := chacha20poly1305.NewX(encKey[:])
	if err != nil {
		return fmt.Errorf("build cookie reply cipher: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveLastMAC1 {
		return fmt.Errorf("cookie reply received with no outstanding MAC1 to bind it to")
	}

	var cookie [16]byte
	if _, err := aead.Open(cookie[:0], reply.Nonce[:], reply.Cookie[:], s.lastMAC1[:]); err != nil {
		return fmt.Errorf("decrypt cookie reply: %w", err)
	}
	s.cookie = cookie
	s.haveCookie = true
	return nil
}

// RecordMAC1 remembers the MAC1 this side just attached to an outgoing
// message, so a later cookie reply referencing it can be authenticated.
func (s *CookieState) RecordMAC1(mac1 [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMAC1 = mac1
	s.haveLastMAC1 = true
}

// AddMAC2 computes MAC2 over msgBeforeMAC2 (the message up to and including
// its already-filled MAC1, i.e. without the final 16-byte MAC2 slot) and
// returns it with ok=true if a cookie is currently held.
func (s *CookieState) AddMAC2(msgBeforeMAC2 []byte) (mac2 [16]byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveCookie {
		return mac2, false
	}
	computeMAC(&mac2, s.cookie[:], msgBeforeMAC2)
	return mac2, true
}

// computeMAC is keyed BLAKE2s truncated to 16 bytes, the MAC construction
// WireGuard's wire format uses for both MAC1 and MAC2 (distinct from the
// HMAC-BLAKE2s used inside the KDF).
func computeMAC(out *[16]byte, key, msg []byte) {
	mac, _ := blake2s.New128(key)
	mac.Write(msg)
	mac.Sum(out[:0])
}
