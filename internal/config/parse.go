package config

import (
	"encoding/hex"
	"fmt"

	"github.com/kobuchi/wgcore/internal/identity"
)

func parsePublicKeyHex(s string) (identity.PublicKey, error) {
	var pub identity.PublicKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return pub, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != identity.PublicKeySize {
		return pub, fmt.Errorf("want %d bytes, got %d", identity.PublicKeySize, len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

func parsePSKHex(s string) ([32]byte, error) {
	var psk [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return psk, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != 32 {
		return psk, fmt.Errorf("want 32 bytes, got %d", len(b))
	}
	copy(psk[:], b)
	return psk, nil
}
