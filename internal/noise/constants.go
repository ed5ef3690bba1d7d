// Package noise implements the Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s
// handshake and the transport AEAD used to carry data once it completes.
package noise

import (
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// construction and identifier are mixed into the initial chaining key
	// and hash exactly as the Noise framework and WireGuard's wire format
	// require.
	construction = "Noise_IKpsk2_25519_ChaChaPoly_BLAKE2s"
	identifier   = "WireGuard v1 zx2c4 Jason@zx2c4.com"

	labelMAC1   = "mac1----"
	labelCookie = "cookie--"
)

// Message types, as the one-byte tag on every wire datagram.
const (
	MessageInitiationType  = 1
	MessageResponseType    = 2
	MessageCookieReplyType = 3
	MessageTransportType   = 4
)

// Wire sizes for the four datagram kinds.
const (
	PublicKeySize  = 32
	PrivateKeySize = 32
	TimestampSize  = 12

	MessageInitiationSize  = 1 + 3 + 4 + PublicKeySize + (PublicKeySize + 16) + (TimestampSize + 16) + 16 + 16
	MessageResponseSize    = 1 + 3 + 4 + 4 + PublicKeySize + 16 + 16 + 16
	MessageCookieReplySize = 1 + 3 + 4 + 24 + (16 + 16)

	// MessageTransportHeaderSize is the fixed prefix before the ciphertext:
	// type + reserved + receiver id + counter.
	MessageTransportHeaderSize = 1 + 3 + 4 + 8
)

var zeroNonce [chacha20poly1305.NonceSize]byte

// chainLen is the BLAKE2s output size used for ck and h throughout the
// handshake.
const chainLen = blake2s.Size
