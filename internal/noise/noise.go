package noise

import (
	"golang.org/x/crypto/blake2s"

	"github.com/kobuchi/wgcore/internal/identity"
)

// AttachMAC1Initiation computes and fills in msg's MAC1 field over its own
// bytes (MAC1 and MAC2 excluded), keyed on the receiving peer's static
// public key.
func AttachMAC1Initiation(msg *MessageInitiation, remoteStatic identity.PublicKey) {
	var key [chainLen]byte
	mac1Key(&key, remoteStatic)
	b := msg.Marshal()
	computeMAC(&msg.MAC1, key[:], b[:len(b)-32])
}

func AttachMAC1Response(msg *MessageResponse, remoteStatic identity.PublicKey) {
	var key [chainLen]byte
	mac1Key(&key, remoteStatic)
	b := msg.Marshal()
	computeMAC(&msg.MAC1, key[:], b[:len(b)-32])
}

func mac1Key(out *[chainLen]byte, staticPub identity.PublicKey) {
	h, _ := blake2s.New256(nil)
	h.Write([]byte(labelMAC1))
	h.Write(staticPub[:])
	h.Sum(out[:0])
}
