package noise

import (
	"encoding/binary"
	"fmt"
)

// MessageInitiation is the first handshake message, sent by the initiator.
type MessageInitiation struct {
	Sender    uint32
	Ephemeral [PublicKeySize]byte
	Static    [PublicKeySize + 16]byte
	Timestamp [TimestampSize + 16]byte
	MAC1      [16]byte
	MAC2      [16]byte
}

// MessageResponse is the second handshake message, sent by the responder.
type MessageResponse struct {
	Sender    uint32
	Receiver  uint32
	Ephemeral [PublicKeySize]byte
	Empty     [16]byte
	MAC1      [16]byte
	MAC2      [16]byte
}

// MessageCookieReply lets a loaded responder hand out a MAC2 cookie without
// completing a handshake, per the under-load mitigation.
type MessageCookieReply struct {
	Receiver uint32
	Nonce    [24]byte
	Cookie   [16 + 16]byte
}

// MessageTransport carries an encrypted data payload once a session is
// established. Packet holds the ciphertext (plaintext length + 16-byte tag).
type MessageTransport struct {
	Receiver uint32
	Counter  uint64
	Packet   []byte
}

func (m *MessageInitiation) Marshal() []byte {
	b := make([]byte, MessageInitiationSize)
	b[0] = MessageInitiationType
	binary.LittleEndian.PutUint32(b[4:8], m.Sender)
	off := 8
	off += copy(b[off:], m.Ephemeral[:])
	off += copy(b[off:], m.Static[:])
	off += copy(b[off:], m.Timestamp[:])
	off += copy(b[off:], m.MAC1[:])
	copy(b[off:], m.MAC2[:])
	return b
}

func (m *MessageInitiation) Unmarshal(b []byte) error {
	if len(b) != MessageInitiationSize {
		return fmt.Errorf("initiation message: bad length %d", len(b))
	}
	if b[0] != MessageInitiationType {
		return fmt.Errorf("initiation message: bad type %d", b[0])
	}
	m.Sender = binary.LittleEndian.Uint32(b[4:8])
	off := 8
	off += copy(m.Ephemeral[:], b[off:off+PublicKeySize])
	off += copy(m.Static[:], b[off:off+PublicKeySize+16])
	off += copy(m.Timestamp[:], b[off:off+TimestampSize+16])
	off += copy(m.MAC1[:], b[off:off+16])
	copy(m.MAC2[:], b[off:off+16])
	return nil
}

func (m *MessageResponse) Marshal() []byte {
	b := make([]byte, MessageResponseSize)
	b[0] = MessageResponseType
	binary.LittleEndian.PutUint32(b[4:8], m.Sender)
	binary.LittleEndian.PutUint32(b[8:12], m.Receiver)
	off := 12
	off += copy(b[off:], m.Ephemeral[:])
	off += copy(b[off:], m.Empty[:])
	off += copy(b[off:], m.MAC1[:])
	copy(b[off:], m.MAC2[:])
	return b
}

func (m *MessageResponse) Unmarshal(b []byte) error {
	if len(b) != MessageResponseSize {
		return fmt.Errorf("response message: bad length %d", len(b))
	}
	if b[0] != MessageResponseType {
		return fmt.Errorf("response message: bad type %d", b[0])
	}
	m.Sender = binary.LittleEndian.Uint32(b[4:8])
	m.Receiver = binary.LittleEndian.Uint32(b[8:12])
	off := 12
	off += copy(m.Ephemeral[:], b[off:off+PublicKeySize])
	off += copy(m.Empty[:], b[off:off+16])
	off += copy(m.MAC1[:], b[off:off+16])
	copy(m.MAC2[:], b[off:off+16])
	return nil
}

func (m *MessageCookieReply) Marshal() []byte {
	b := make([]byte, MessageCookieReplySize)
	b[0] = MessageCookieReplyType
	binary.LittleEndian.PutUint32(b[4:8], m.Receiver)
	off := 8
	off += copy(b[off:], m.Nonce[:])
	copy(b[off:], m.Cookie[:])
	return b
}

func (m *MessageCookieReply) Unmarshal(b []byte) error {
	if len(b) != MessageCookieReplySize {
		return fmt.Errorf("cookie reply message: bad length %d", len(b))
	}
	if b[0] != MessageCookieReplyType {
		return fmt.Errorf("cookie reply message: bad type %d", b[0])
	}
	m.Receiver = binary.LittleEndian.Uint32(b[4:8])
	off := 8
	off += copy(m.Nonce[:], b[off:off+24])
	copy(m.Cookie[:], b[off:off+32])
	return nil
}

func (m *MessageTransport) Marshal() []byte {
	b := make([]byte, MessageTransportHeaderSize+len(m.Packet))
	b[0] = MessageTransportType
	binary.LittleEndian.PutUint32(b[4:8], m.Receiver)
	binary.LittleEndian.PutUint64(b[8:16], m.Counter)
	copy(b[16:], m.Packet)
	return b
}

func (m *MessageTransport) Unmarshal(b []byte) error {
	if len(b) < MessageTransportHeaderSize {
		return fmt.Errorf("transport message: too short (%d bytes)", len(b))
	}
	if b[0] != MessageTransportType {
		return fmt.Errorf("transport message: bad type %d", b[0])
	}
	m.Receiver = binary.LittleEndian.Uint32(b[4:8])
	m.Counter = binary.LittleEndian.Uint64(b[8:16])
	m.Packet = b[16:]
	return nil
}

// PeekMessageType reports the one-byte wire tag without allocating, so the
// caller can dispatch before fully decoding.
func PeekMessageType(b []byte) (byte, error) {
	if len(b) < 1 {
		return 0, fmt.Errorf("packet too short to contain a message type")
	}
	return b[0], nil
}
