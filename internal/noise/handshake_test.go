package noise

import (
	"testing"

	"github.com/kobuchi/wgcore/internal/identity"
)

func mustStatic(t *testing.T) *identity.Static {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

// TestHandshakeRoundTrip exercises the full IK exchange between an
// initiator and a responder and checks that the resulting key pairs mirror
// each other: the initiator's send key must equal the responder's receive
// key, and vice versa.
func TestHandshakeRoundTrip(t *testing.T) {
	initiatorStatic := mustStatic(t)
	responderStatic := mustStatic(t)

	var psk [32]byte

	var iHS, rHS Handshake
	if err := iHS.Init(initiatorStatic.PrivateKey, responderStatic.PublicKey, psk); err != nil {
		t.Fatalf("initiator Init: %v", err)
	}
	if err := rHS.Init(responderStatic.PrivateKey, initiatorStatic.PublicKey, psk); err != nil {
		t.Fatalf("responder Init: %v", err)
	}

	initMsg, err := iHS.CreateInitiation(initiatorStatic, 1)
	if err != nil {
		t.Fatalf("CreateInitiation: %v", err)
	}

	remoteStatic, hash, chainKey, err := ConsumeInitiationStaticKey(responderStatic.PrivateKey, responderStatic.PublicKey, initMsg)
	if err != nil {
		t.Fatalf("ConsumeInitiationStaticKey: %v", err)
	}
	if remoteStatic != initiatorStatic.PublicKey {
		t.Fatalf("decrypted static key mismatch")
	}

	timestamp, err := rHS.FinishConsumeInitiation(hash, chainKey, initMsg)
	if err != nil {
		t.Fatalf("FinishConsumeInitiation: %v", err)
	}
	if timestamp.IsZero() {
		t.Fatalf("expected nonzero timestamp")
	}

	respMsg, err := rHS.CreateResponse(2)
	if err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	if err := iHS.ConsumeResponse(initiatorStatic.PrivateKey, respMsg); err != nil {
		t.Fatalf("ConsumeResponse: %v", err)
	}

	iKP, err := iHS.DeriveKeyPair()
	if err != nil {
		t.Fatalf("initiator DeriveKeyPair: %v", err)
	}
	rKP, err := rHS.DeriveKeyPair()
	if err != nil {
		t.Fatalf("responder DeriveKeyPair: %v", err)
	}

	if !iKP.IsInitiator || rKP.IsInitiator {
		t.Fatalf("wrong IsInitiator flags: initiator=%v responder=%v", iKP.IsInitiator, rKP.IsInitiator)
	}
	if iKP.Send != rKP.Receive {
		t.Fatalf("initiator send key does not match responder receive key")
	}
	if iKP.Receive != rKP.Send {
		t.Fatalf("initiator receive key does not match responder send key")
	}
}

// TestConsumeInitiationRejectsTampering checks that flipping a single byte
// of the encrypted static key field causes decryption to fail rather than
// silently producing a garbage public key.
func TestConsumeInitiationRejectsTampering(t *testing.T) {
	initiatorStatic := mustStatic(t)
	responderStatic := mustStatic(t)
	var psk [32]byte

	var iHS Handshake
	if err := iHS.Init(initiatorStatic.PrivateKey, responderStatic.PublicKey, psk); err != nil {
		t.Fatalf("Init: %v", err)
	}
	msg, err := iHS.CreateInitiation(initiatorStatic, 1)
	if err != nil {
		t.Fatalf("CreateInitiation: %v", err)
	}
	msg.Static[0] ^= 0xFF

	if _, _, _, err := ConsumeInitiationStaticKey(responderStatic.PrivateKey, responderStatic.PublicKey, msg); err == nil {
		t.Fatalf("expected tampered static key to fail authentication")
	}
}

func TestTimestampOrdering(t *testing.T) {
	a := Now()
	b := fromTimeLater(a)
	if !b.After(a) {
		t.Fatalf("expected b to be after a")
	}
	if a.After(b) {
		t.Fatalf("expected a to not be after b")
	}
}

// fromTimeLater builds a timestamp guaranteed to compare after ts without
// depending on wall-clock resolution between two back-to-back Now() calls.
func fromTimeLater(ts Timestamp) Timestamp {
	var out Timestamp
	copy(out[:], ts[:])
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}
