package peer

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/noise"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPeer(t *testing.T) (*Peer, *identity.Static) {
	t.Helper()
	local, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate local identity: %v", err)
	}
	remote, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate remote identity: %v", err)
	}
	p, err := New(Config{PublicKey: remote.PublicKey}, local.PrivateKey, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, local
}

func TestQueueEgressDropsOldestAtCapacity(t *testing.T) {
	p, _ := newTestPeer(t)

	for i := 0; i < MaxQueuedOutbound+10; i++ {
		p.QueueEgress([]byte{byte(i)})
	}
	if got := p.QueueLen(); got != MaxQueuedOutbound {
		t.Fatalf("QueueLen() = %d, want %d", got, MaxQueuedOutbound)
	}
	all := p.DequeueAll()
	if all[0][0] != byte(10) {
		t.Fatalf("expected oldest-dropped queue to start at 10, got %d", all[0][0])
	}
	if p.QueueLen() != 0 {
		t.Fatalf("expected queue empty after DequeueAll")
	}
}

func TestCheckAndAdvanceTimestampRejectsNonIncreasing(t *testing.T) {
	p, _ := newTestPeer(t)

	ts1 := noise.Now()
	if !p.CheckAndAdvanceTimestamp(ts1) {
		t.Fatalf("expected first timestamp to be accepted")
	}
	if p.CheckAndAdvanceTimestamp(ts1) {
		t.Fatalf("expected replaying the same timestamp to be rejected")
	}
}

func TestNeedsNewHandshakeThrottles(t *testing.T) {
	p, _ := newTestPeer(t)

	if !p.NeedsNewHandshake() {
		t.Fatalf("expected a fresh peer with no session to need a handshake")
	}
	p.LastSentInit = time.Now()
	if p.NeedsNewHandshake() {
		t.Fatalf("expected NeedsNewHandshake to be throttled immediately after sending an initiation")
	}
}

func TestReadyForTransportRequiresCurrentSession(t *testing.T) {
	p, _ := newTestPeer(t)
	if p.ReadyForTransport() {
		t.Fatalf("expected a fresh peer to not be ready for transport")
	}
}
