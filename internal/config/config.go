// Package config loads YAML device configuration and turns it into the
// configuration events the Peer Server loop consumes as its
// highest-priority input stream.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape for a device's configuration.
type File struct {
	IdentityPath string      `yaml:"identity_path"`
	ListenPort   int         `yaml:"listen_port"`
	STUNServers  []string    `yaml:"stun_servers"`
	LogLevel     string      `yaml:"log_level"`
	Peers        []PeerEntry `yaml:"peers"`
}

// PeerEntry is one configured peer in the YAML file.
type PeerEntry struct {
	PublicKey           string   `yaml:"public_key"`
	PresharedKey        string   `yaml:"preshared_key"`
	Endpoint            string   `yaml:"endpoint"`
	PersistentKeepalive int      `yaml:"persistent_keepalive"`
	AllowedIPs          []string `yaml:"allowed_ips"`
}

// Default returns a File with sensible defaults, matching the established
// pattern of load-time defaults that a file on disk only overrides.
func Default() *File {
	return &File{
		IdentityPath: "/etc/wgcore/identity.key",
		ListenPort:   51820,
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
		},
		LogLevel: "info",
	}
}

// Load reads and parses path, applying it on top of Default.
func Load(path string) (*File, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
