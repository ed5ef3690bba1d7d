// Package identity holds the device's long-term Curve25519 keypair.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
)

const (
	PrivateKeySize = 32
	PublicKeySize  = 32
)

// PrivateKey is a clamped Curve25519 scalar.
type PrivateKey [PrivateKeySize]byte

// PublicKey is a Curve25519 point.
type PublicKey [PublicKeySize]byte

// Static holds a device's static keypair, created once at startup and
// immutable thereafter.
type Static struct {
	PrivateKey PrivateKey
	PublicKey  PublicKey
}

// Generate creates a new random static identity.
func Generate() (*Static, error) {
	var priv PrivateKey
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	clamp(&priv)
	return FromPrivateKey(priv)
}

// FromPrivateKey derives the public key for an already-clamped private key.
func FromPrivateKey(priv PrivateKey) (*Static, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	id := &Static{PrivateKey: priv}
	copy(id.PublicKey[:], pub)
	return id, nil
}

// LoadOrGenerate loads a private key from path, or generates and persists a
// new one. The core itself keeps no persisted state; this helper only exists
// so the demo binary doesn't mint a fresh identity on every restart.
func LoadOrGenerate(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err == nil && len(data) == PrivateKeySize {
		var priv PrivateKey
		copy(priv[:], data)
		return FromPrivateKey(priv)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}
	if err := os.WriteFile(path, id.PrivateKey[:], 0600); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return id, nil
}

func clamp(priv *PrivateKey) {
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
}

// Hex returns the public key as a hex string, for logging.
func (id *Static) Hex() string {
	return hex.EncodeToString(id.PublicKey[:])
}

// ShortString returns a truncated hex prefix suitable for log lines.
func (pk PublicKey) ShortString() string {
	s := hex.EncodeToString(pk[:])
	return s[:8]
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}
