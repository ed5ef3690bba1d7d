package noise

import (
	"testing"

	"github.com/kobuchi/wgcore/internal/identity"
)

func TestCookieReplyRoundTrip(t *testing.T) {
	responder := mustStatic(t)

	var checker CookieChecker
	checker.Init(responder.PublicKey)

	var state CookieState
	var mac1 [16]byte
	mac1[0] = 0x42
	state.RecordMAC1(mac1)

	reply, err := checker.CreateReply([]byte("198.51.100.1:51820"), 7, mac1)
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}

	if err := state.ConsumeReply(reply, responder.PublicKey); err != nil {
		t.Fatalf("ConsumeReply: %v", err)
	}

	mac2, ok := state.AddMAC2([]byte("some message bytes"))
	if !ok {
		t.Fatalf("expected a cookie to be available after ConsumeReply")
	}
	if mac2 == ([16]byte{}) {
		t.Fatalf("expected nonzero MAC2")
	}
}

func TestCookieReplyRejectsWrongMAC1Binding(t *testing.T) {
	responder := mustStatic(t)
	var checker CookieChecker
	checker.Init(responder.PublicKey)

	var state CookieState
	var recordedMAC1, otherMAC1 [16]byte
	recordedMAC1[0] = 1
	otherMAC1[0] = 2
	state.RecordMAC1(recordedMAC1)

	reply, err := checker.CreateReply([]byte("198.51.100.1:51820"), 7, otherMAC1)
	if err != nil {
		t.Fatalf("CreateReply: %v", err)
	}

	if err := state.ConsumeReply(reply, responder.PublicKey); err == nil {
		t.Fatalf("expected ConsumeReply to fail when bound to a different MAC1")
	}
}

func TestCheckMAC1(t *testing.T) {
	var local identity.PublicKey
	for i := range local {
		local[i] = byte(i)
	}
	var checker CookieChecker
	checker.Init(local)

	msg := []byte("handshake message payload")
	var mac1 [16]byte
	mac1Key, _ := mac1KeyFor(local)
	computeMAC(&mac1, mac1Key[:], msg)

	if !checker.CheckMAC1(msg, mac1) {
		t.Fatalf("expected CheckMAC1 to accept a correctly computed MAC1")
	}
	mac1[0] ^= 1
	if checker.CheckMAC1(msg, mac1) {
		t.Fatalf("expected CheckMAC1 to reject a tampered MAC1")
	}
}

func mac1KeyFor(pub identity.PublicKey) ([chainLen]byte, error) {
	var out [chainLen]byte
	mac1Key(&out, pub)
	return out, nil
}
