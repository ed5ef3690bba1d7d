// Package tunnel defines the collaborator interface the core reads
// outbound inner packets from and writes decrypted inner packets to. The
// core never touches a real TUN device directly; the concrete Tunnel used
// by the demo binary lives in internal/tundevice, outside the core's tested
// surface.
package tunnel

// Tunnel supplies outbound inner packets and consumes inbound ones. Read
// blocks until a packet is available or the tunnel is closed, in which
// case it returns an error. Write must accept bare IP datagrams of
// 1..MaxContentSize bytes.
type Tunnel interface {
	Read() ([]byte, error)
	Write(packet []byte) error
	Close() error
}

// MaxContentSize bounds an inner packet: 65535 minus the worst-case
// transport header and AEAD tag overhead.
const MaxContentSize = 65535 - 32
