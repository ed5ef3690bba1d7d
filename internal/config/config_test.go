package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultHasSensibleValues(t *testing.T) {
	cfg := Default()
	if cfg.ListenPort != 51820 {
		t.Fatalf("expected default listen port 51820, got %d", cfg.ListenPort)
	}
	if len(cfg.STUNServers) == 0 {
		t.Fatalf("expected at least one default STUN server")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("listen_port: 4242\nlog_level: debug\npeers:\n  - public_key: \"" + strings.Repeat("01", 32) + "\"\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 4242 {
		t.Fatalf("expected overridden listen port 4242, got %d", cfg.ListenPort)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.LogLevel)
	}
	if cfg.IdentityPath == "" {
		t.Fatalf("expected identity path to retain its default")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatalf("expected error loading nonexistent config file")
	}
}

func TestToEventsProducesPeerSequence(t *testing.T) {
	cfg := Default()
	cfg.Peers = []PeerEntry{
		{
			PublicKey:           strings.Repeat("02", 32),
			Endpoint:            "10.0.0.1:51820",
			PersistentKeepalive: 25,
			AllowedIPs:          []string{"10.0.0.0/24"},
		},
	}

	events, err := cfg.ToEvents()
	if err != nil {
		t.Fatalf("ToEvents: %v", err)
	}

	var sawAdd, sawEndpoint, sawKeepalive, sawAllowedIP bool
	for _, ev := range events {
		switch ev.(type) {
		case PeerAddEvent:
			sawAdd = true
		case PeerEndpointEvent:
			sawEndpoint = true
		case PeerKeepaliveEvent:
			sawKeepalive = true
		case PeerAllowedIPEvent:
			sawAllowedIP = true
		}
	}
	if !sawAdd || !sawEndpoint || !sawKeepalive || !sawAllowedIP {
		t.Fatalf("expected all peer event kinds to be produced, got: %#v", events)
	}
}

func TestToEventsRejectsMalformedPublicKey(t *testing.T) {
	cfg := Default()
	cfg.Peers = []PeerEntry{{PublicKey: "not-hex"}}
	if _, err := cfg.ToEvents(); err == nil {
		t.Fatalf("expected error for malformed public key")
	}
}
