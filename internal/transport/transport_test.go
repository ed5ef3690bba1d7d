package transport

import (
	"net/netip"
	"testing"
)

func TestCanonicalizeUnmapsIPv4MappedIPv6(t *testing.T) {
	mapped := netip.MustParseAddrPort("[::ffff:192.0.2.1]:51820")
	plain := netip.MustParseAddrPort("192.0.2.1:51820")

	got := Canonicalize(mapped)
	if got != plain {
		t.Fatalf("Canonicalize(%v) = %v, want %v", mapped, got, plain)
	}
}

func TestCanonicalizeLeavesPlainIPv6Alone(t *testing.T) {
	addr := netip.MustParseAddrPort("[2001:db8::1]:51820")
	if got := Canonicalize(addr); got != addr {
		t.Fatalf("Canonicalize(%v) = %v, want unchanged", addr, got)
	}
}

func TestCanonicalizeLeavesPlainIPv4Alone(t *testing.T) {
	addr := netip.MustParseAddrPort("192.0.2.1:51820")
	if got := Canonicalize(addr); got != addr {
		t.Fatalf("Canonicalize(%v) = %v, want unchanged", addr, got)
	}
}
