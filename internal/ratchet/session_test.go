package ratchet

import (
	"bytes"
	"testing"

	"github.com/kobuchi/wgcore/internal/noise"
)

func pairedSessions(t *testing.T) (initiator, responder *Session) {
	t.Helper()
	var sendKey, recvKey [32]byte
	sendKey[0] = 1
	recvKey[0] = 2

	iKP := &noise.KeyPair{Send: sendKey, Receive: recvKey, IsInitiator: true}
	rKP := &noise.KeyPair{Send: recvKey, Receive: sendKey, IsInitiator: false}

	i, err := NewSession(10, 20, iKP)
	if err != nil {
		t.Fatalf("NewSession initiator: %v", err)
	}
	r, err := NewSession(20, 10, rKP)
	if err != nil {
		t.Fatalf("NewSession responder: %v", err)
	}
	return i, r
}

func TestSessionEncryptDecryptRoundTrip(t *testing.T) {
	i, r := pairedSessions(t)

	plaintext := []byte("hello from the initiator")
	counter, ciphertext := i.Encrypt(plaintext)

	got, err := r.Decrypt(counter, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestSessionDecryptRejectsReplayedCounter(t *testing.T) {
	i, r := pairedSessions(t)

	_, ct1 := i.Encrypt([]byte("first"))
	if _, err := r.Decrypt(0, ct1); err != nil {
		t.Fatalf("Decrypt first: %v", err)
	}
	if _, err := r.Decrypt(0, ct1); err == nil {
		t.Fatalf("expected replayed counter to be rejected")
	}
}

func TestSessionNeedsRekeyAfterMessageThreshold(t *testing.T) {
	i, _ := pairedSessions(t)
	i.sendCounter = RekeyAfterMsgs
	if !i.NeedsRekey() {
		t.Fatalf("expected NeedsRekey to be true once sendCounter reaches the threshold")
	}
}

func TestSessionNotNeedingRekeyInitially(t *testing.T) {
	i, _ := pairedSessions(t)
	if i.NeedsRekey() {
		t.Fatalf("expected a freshly created session to not need rekeying")
	}
}
