package device

import (
	"io"
	"log/slog"
	"testing"

	"github.com/kobuchi/wgcore/internal/identity"
	"github.com/kobuchi/wgcore/internal/peer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustIdentity(t *testing.T) *identity.Static {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return id
}

func TestAddRejectsSelfAndDuplicates(t *testing.T) {
	local := mustIdentity(t)
	d := New(local, testLogger())

	if _, err := d.Add(peer.Config{PublicKey: local.PublicKey}); err != ErrSelfPublicKey {
		t.Fatalf("Add(self) error = %v, want ErrSelfPublicKey", err)
	}

	remote := mustIdentity(t)
	if _, err := d.Add(peer.Config{PublicKey: remote.PublicKey}); err != nil {
		t.Fatalf("Add(remote) unexpected error: %v", err)
	}
	if _, err := d.Add(peer.Config{PublicKey: remote.PublicKey}); err != ErrDuplicatePublicKey {
		t.Fatalf("Add(remote again) error = %v, want ErrDuplicatePublicKey", err)
	}
}

func TestLookupByPublicKeyAndReceiverID(t *testing.T) {
	local := mustIdentity(t)
	d := New(local, testLogger())

	remote := mustIdentity(t)
	p, err := d.Add(peer.Config{PublicKey: remote.PublicKey})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := d.LookupByPublicKey(remote.PublicKey)
	if err != nil || got != p {
		t.Fatalf("LookupByPublicKey = %v, %v; want %v, nil", got, err, p)
	}

	if _, err := d.LookupByReceiverID(999); err != ErrUnknownReceiverID {
		t.Fatalf("LookupByReceiverID(999) error = %v, want ErrUnknownReceiverID", err)
	}

	id, err := d.AllocateIndex(p)
	if err != nil {
		t.Fatalf("AllocateIndex: %v", err)
	}
	got, err = d.LookupByReceiverID(id)
	if err != nil || got != p {
		t.Fatalf("LookupByReceiverID(%d) = %v, %v; want %v, nil", id, got, err, p)
	}

	d.ReleaseIndex(id)
	if _, err := d.LookupByReceiverID(id); err != ErrUnknownReceiverID {
		t.Fatalf("expected id to be gone after release")
	}
}
