package noise

import (
	"crypto/hmac"
	"hash"

	"golang.org/x/crypto/blake2s"
)

func newBlake2sMAC(key []byte) hash.Hash {
	return hmac.New(func() hash.Hash {
		h, _ := blake2s.New256(nil)
		return h
	}, key)
}

func hmac1(sum *[chainLen]byte, key, in0 []byte) {
	mac := newBlake2sMAC(key)
	mac.Write(in0)
	mac.Sum(sum[:0])
}

func hmac2(sum *[chainLen]byte, key, in0, in1 []byte) {
	mac := newBlake2sMAC(key)
	mac.Write(in0)
	mac.Write(in1)
	mac.Sum(sum[:0])
}

// kdf1 is Noise's HKDF with a single output, used where only the chaining
// key itself advances.
func kdf1(key, input []byte) (t0 [chainLen]byte) {
	hmac1(&t0, key, input)
	hmac1(&t0, t0[:], []byte{0x1})
	return
}

// kdf2 produces two outputs: the new chaining key and a derived key (used
// for final transport key derivation and AEAD key material).
func kdf2(key, input []byte) (t0, t1 [chainLen]byte) {
	var prk [chainLen]byte
	hmac1(&prk, key, input)
	hmac1(&t0, prk[:], []byte{0x1})
	hmac2(&t1, prk[:], t0[:], []byte{0x2})
	return
}

// kdf3 produces three outputs, used when mixing the pre-shared key: the new
// chaining key, a hash-mix input, and the AEAD key.
func kdf3(key, input []byte) (t0, t1, t2 [chainLen]byte) {
	var prk [chainLen]byte
	hmac1(&prk, key, input)
	hmac1(&t0, prk[:], []byte{0x1})
	hmac2(&t1, prk[:], t0[:], []byte{0x2})
	hmac2(&t2, prk[:], t1[:], []byte{0x3})
	return
}
